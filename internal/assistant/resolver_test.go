package assistant

import (
	"context"
	"testing"

	"shopops/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPersonas(store *memStore) {
	store.put("personas", "def", map[string]any{
		"name": "Recepcion", "systemPrompt": "Se amable.", "isDefault": true,
		"intelligenceLevel": 20.0, "traits": []any{"cordial"}, "toolIds": []any{"inv"},
	})
	store.put("personas", "tech", map[string]any{
		"name": "Tecnico", "systemPrompt": "Se preciso.", "intelligenceLevel": 250.0,
		"traits": []any{"directo", "tecnico"},
	})
	store.put("actions", "inv", map[string]any{
		"name": "buscar_inventario", "description": "busca", "enabled": true,
		"parameters": map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
	})
	store.put("actions", "off", map[string]any{"name": "apagado", "enabled": false})
	store.put("actions", "broken", map[string]any{
		"name": "roto", "enabled": true,
		"parameters": map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "fecha"}}},
	})
}

func TestResolveDefaultPersona(t *testing.T) {
	store := newMemStore()
	seedPersonas(store)
	store.put("users", "111", map[string]any{"name": "Ana"})

	cfg, err := NewResolver(store, nil).Resolve(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, "Recepcion", cfg.Persona.Name)
	assert.Equal(t, 20, cfg.Persona.IntelligenceLevel)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "buscar_inventario", cfg.Tools[0].Name)
	assert.Equal(t, "object", cfg.Tools[0].ParametersSchema["type"])
}

func TestResolveMappedPersonaAndToolFilter(t *testing.T) {
	store := newMemStore()
	seedPersonas(store)
	store.put("preferences", "222", map[string]any{
		"personaId": "tech", "toolIds": []any{"inv", "off", "broken", "missing"},
	})

	cfg, err := NewResolver(store, nil).Resolve(context.Background(), "222")
	require.NoError(t, err)
	assert.Equal(t, "Tecnico", cfg.Persona.Name)
	assert.Equal(t, 100, cfg.Persona.IntelligenceLevel, "level is clamped")
	require.Len(t, cfg.Tools, 1, "disabled, invalid and missing tools are dropped")
	assert.Equal(t, "buscar_inventario", cfg.Tools[0].Name)
}

func TestResolveUnknownPersonaFallsBackToDefault(t *testing.T) {
	store := newMemStore()
	seedPersonas(store)
	store.put("users", "111", map[string]any{"personaId": "gone"})

	cfg, err := NewResolver(store, nil).Resolve(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, "Recepcion", cfg.Persona.Name)
}

func TestResolveWithoutAnyPersona(t *testing.T) {
	cfg, err := NewResolver(newMemStore(), nil).Resolve(context.Background(), "52333")
	require.NoError(t, err)
	assert.Equal(t, fallbackPersona.Name, cfg.Persona.Name)
	assert.Empty(t, cfg.Tools)
}

func TestResolveDropsToolsConflictingWithImplementation(t *testing.T) {
	store := newMemStore()
	seedPersonas(store)
	store.put("actions", "inv-numeric", map[string]any{
		"name": "buscar_inventario", "enabled": true,
		"parameters": map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "number"}}},
	})
	store.put("actions", "webhook", map[string]any{"name": "agendar_cita", "enabled": true})
	store.put("users", "333", map[string]any{"toolIds": []any{"inv", "inv-numeric", "webhook"}})

	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:    "buscar_inventario",
		Schema:  tools.ToolSchema{Properties: map[string]tools.Property{"query": {Type: "string"}}},
		Execute: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	})

	cfg, err := NewResolver(store, registry).Resolve(context.Background(), "333")
	require.NoError(t, err)
	var names []string
	for _, d := range cfg.Tools {
		names = append(names, d.Name)
	}
	// The numeric declaration is dropped; a definition with no implementation
	// is still offered and answered as unavailable when called.
	assert.Equal(t, []string{"buscar_inventario", "agendar_cita"}, names)
}
