package assistant

import (
	"strings"
	"testing"

	"shopops/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	got := BuildSystemPrompt("Taller Norte", types.Persona{
		Name:            "Lucia",
		SystemPrompt:    "Ayuda con el estado de las reparaciones.",
		Traits:          []string{"amable", "breve"},
		FormattingRules: []string{"Usa frases cortas", " ", "Sin emojis"},
	})

	sections := strings.Split(got, sectionSeparator)
	if assert.Len(t, sections, 5) {
		assert.True(t, strings.HasPrefix(sections[0], "## Identidad\nEres Lucia, el asistente de mensajeria de Taller Norte."))
		assert.Equal(t, "## Instrucciones\nAyuda con el estado de las reparaciones.", sections[1])
		assert.Equal(t, "## Tono\namable, breve", sections[2])
		assert.Equal(t, "## Formato\n- Usa frases cortas\n- Sin emojis", sections[3])
		assert.Contains(t, sections[4], `{"reply": "<texto para el cliente>"}`)
	}
}

func TestBuildSystemPromptSkipsEmptySections(t *testing.T) {
	got := BuildSystemPrompt("el taller", types.Persona{})

	assert.Contains(t, got, "Eres "+fallbackPersona.Name)
	assert.NotContains(t, got, "## Instrucciones")
	assert.NotContains(t, got, "## Tono")
	assert.NotContains(t, got, "## Formato")
	assert.Contains(t, got, "## Respuesta")
	assert.NotContains(t, got, "\n\n\n")
}
