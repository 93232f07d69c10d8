package assistant

import (
	"context"
	"errors"
	"fmt"

	"shopops/internal/docstore"
	"shopops/internal/logging"
	"shopops/internal/tools"
	"shopops/internal/types"
)

// fallbackPersona is used when the store has no default persona.
var fallbackPersona = types.Persona{
	ID:                "builtin",
	Name:              "Asistente",
	IntelligenceLevel: 0,
}

type userRecord struct {
	PersonaID string   `json:"personaId"`
	ToolIDs   []string `json:"toolIds"`
}

// Resolver loads the persona and enabled tools for a sender.
type Resolver struct {
	store    docstore.Lister
	registry *tools.Registry
}

// NewResolver creates a resolver over the store. When registry is set, tool
// definitions whose schema conflicts with the registered implementation are
// left out.
func NewResolver(store docstore.Lister, registry *tools.Registry) *Resolver {
	return &Resolver{store: store, registry: registry}
}

// Resolve returns the sender's configuration. The persona comes from the
// sender's mapping, else the persona flagged as default. Tool ids come from
// the sender record when set, else from the persona; disabled tools, tools
// with an unusable schema and tools whose schema disagrees with their
// implementation are left out.
func (r *Resolver) Resolve(ctx context.Context, key string) (types.UserConfig, error) {
	rec, err := r.userRecord(ctx, key)
	if err != nil {
		return types.UserConfig{}, err
	}

	persona, err := r.persona(ctx, rec.PersonaID)
	if err != nil {
		return types.UserConfig{}, err
	}

	ids := rec.ToolIDs
	if len(ids) == 0 {
		ids = persona.ToolIDs
	}
	defs, err := r.tools(ctx, ids)
	if err != nil {
		return types.UserConfig{}, err
	}
	return types.UserConfig{Persona: persona, Tools: defs}, nil
}

func (r *Resolver) userRecord(ctx context.Context, key string) (userRecord, error) {
	var rec userRecord
	for _, collection := range []string{types.CollectionUsers, types.CollectionPrefs} {
		doc, err := r.store.Get(ctx, collection, key)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return rec, fmt.Errorf("load %s/%s: %w", collection, key, err)
		}
		if err := docstore.Decode(doc, &rec); err != nil {
			return rec, err
		}
		return rec, nil
	}
	return rec, nil
}

func (r *Resolver) persona(ctx context.Context, id string) (types.Persona, error) {
	var p types.Persona
	if id != "" {
		doc, err := r.store.Get(ctx, types.CollectionPersonas, id)
		switch {
		case err == nil:
			if err := docstore.Decode(doc, &p); err != nil {
				return p, err
			}
			return clampLevel(p), nil
		case errors.Is(err, docstore.ErrNotFound):
			logging.AssistantWarn("Persona %s not found, using default", id)
		default:
			return p, fmt.Errorf("load persona %s: %w", id, err)
		}
	}

	docs, err := r.store.List(ctx, docstore.Query{
		Collection: types.CollectionPersonas,
		Where:      []docstore.Filter{docstore.Eq("isDefault", true)},
		Limit:      1,
	})
	if err != nil {
		return p, fmt.Errorf("load default persona: %w", err)
	}
	if len(docs) == 0 {
		return fallbackPersona, nil
	}
	if err := docstore.Decode(docs[0], &p); err != nil {
		return p, err
	}
	return clampLevel(p), nil
}

func clampLevel(p types.Persona) types.Persona {
	if p.IntelligenceLevel < 0 {
		p.IntelligenceLevel = 0
	}
	if p.IntelligenceLevel > 100 {
		p.IntelligenceLevel = 100
	}
	return p
}

func (r *Resolver) tools(ctx context.Context, ids []string) ([]types.ToolDefinition, error) {
	var defs []types.ToolDefinition
	for _, id := range ids {
		doc, err := r.store.Get(ctx, types.CollectionActions, id)
		if errors.Is(err, docstore.ErrNotFound) {
			logging.ToolsWarn("Tool definition %s not found", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load tool %s: %w", id, err)
		}
		var def types.ToolDefinition
		if err := docstore.Decode(doc, &def); err != nil {
			logging.ToolsWarn("Tool definition %s unreadable: %v", id, err)
			continue
		}
		if !def.Enabled || def.Name == "" {
			continue
		}
		schema, err := tools.ParseSchema(def.ParametersSchema)
		if err != nil {
			logging.ToolsWarn("Tool %s disabled: %v", def.Name, err)
			continue
		}
		if r.registry != nil {
			if err := r.registry.Check(def.Name, schema); errors.Is(err, tools.ErrSchemaConflict) {
				logging.ToolsWarn("Tool %s disabled: %v", def.Name, err)
				continue
			}
		}
		def.ParametersSchema = schema.JSONSchema()
		defs = append(defs, def)
	}
	return defs, nil
}
