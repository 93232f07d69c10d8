package assistant

import (
	"fmt"
	"strings"

	"shopops/internal/llm"
	"shopops/internal/types"
)

const sectionSeparator = "\n\n"

// BuildSystemPrompt assembles the system instruction: identity, persona
// prompt, tone, formatting rules and the JSON answer contract. Empty
// sections are skipped.
func BuildSystemPrompt(shop string, p types.Persona) string {
	sections := []string{
		identitySection(shop, p.Name),
		section("## Instrucciones", p.SystemPrompt),
		section("## Tono", strings.Join(p.Traits, ", ")),
		section("## Formato", bulletList(p.FormattingRules)),
		section("## Respuesta", fmt.Sprintf(
			`Responde SIEMPRE con un unico objeto JSON de la forma {"%s": "<texto para el cliente>"} sin texto fuera del objeto.`,
			llm.ReplyField)),
	}

	var out []string
	for _, s := range sections {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, sectionSeparator)
}

func identitySection(shop, name string) string {
	if name == "" {
		name = fallbackPersona.Name
	}
	return fmt.Sprintf("## Identidad\nEres %s, el asistente de mensajeria de %s. Atiendes clientes y personal del taller "+
		"con consultas sobre reparaciones, equipos e inventario.", name, shop)
}

func section(header, body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	return header + "\n" + body
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return b.String()
}
