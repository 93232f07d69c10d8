package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shopops/internal/docstore"
	"shopops/internal/logging"
	"shopops/internal/types"
)

// CommandMarker prefixes chat commands.
const CommandMarker = "/"

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand reports whether text is a command and splits it into the
// lowercased command name and its arguments.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, CommandMarker) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, CommandMarker))
	if len(fields) == 0 {
		return Command{}, true
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Store is the part of the document store the assistant touches.
type Store interface {
	docstore.Lister
	Update(ctx context.Context, collection, id string, fields map[string]any) error
}

type commandFunc func(ctx context.Context, key string, args []string) (string, error)

// Interceptor runs chat commands before they reach the model. Failures are
// answered as text, never returned.
type Interceptor struct {
	store    Store
	resolver *Resolver
	table    map[string]commandFunc
}

// NewInterceptor builds the command table.
func NewInterceptor(store Store, resolver *Resolver) *Interceptor {
	in := &Interceptor{store: store, resolver: resolver}
	in.table = map[string]commandFunc{
		"reset":       in.reset,
		"help":        in.help,
		"ayuda":       in.help,
		"list-traits": in.listTraits,
	}
	return in
}

// Run executes cmd for the sender key.
func (in *Interceptor) Run(ctx context.Context, key string, cmd Command) (reply *types.Reply) {
	defer func() {
		if r := recover(); r != nil {
			logging.CommandError("Command /%s from %s panicked: %v", cmd.Name, key, r)
			reply = types.TextReply(fmt.Sprintf("No pude ejecutar /%s.", cmd.Name))
		}
	}()

	fn, ok := in.table[cmd.Name]
	if !ok {
		logging.Command("Unknown command /%s from %s", cmd.Name, key)
		return types.TextReply(usage(cmd.Name))
	}
	text, err := fn(ctx, key, cmd.Args)
	if err != nil {
		logging.CommandError("Command /%s from %s failed: %v", cmd.Name, key, err)
		return types.TextReply(fmt.Sprintf("No pude ejecutar /%s: %v", cmd.Name, err))
	}
	logging.Command("Ran /%s for %s", cmd.Name, key)
	return types.TextReply(text)
}

func usage(name string) string {
	if name == "" {
		return "Falta el comando. Usa /ayuda para ver los comandos disponibles."
	}
	return fmt.Sprintf("Comando desconocido: /%s. Usa /ayuda para ver los comandos disponibles.", name)
}

func (in *Interceptor) help(ctx context.Context, key string, args []string) (string, error) {
	return strings.Join([]string{
		"Comandos disponibles:",
		"/reset - vuelve a la personalidad predeterminada",
		"/list-traits - muestra la personalidad y sus rasgos",
		"/ayuda - muestra esta ayuda",
	}, "\n"), nil
}

// reset drops the sender's persona mapping so the default applies again.
func (in *Interceptor) reset(ctx context.Context, key string, args []string) (string, error) {
	for _, collection := range []string{types.CollectionUsers, types.CollectionPrefs} {
		err := in.store.Update(ctx, collection, key, map[string]any{"personaId": ""})
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		return "Listo, volviste a la personalidad predeterminada.", nil
	}
	return "No tienes configuracion personal; ya usas la personalidad predeterminada.", nil
}

func (in *Interceptor) listTraits(ctx context.Context, key string, args []string) (string, error) {
	cfg, err := in.resolver.Resolve(ctx, key)
	if err != nil {
		return "", err
	}
	traits := "sin rasgos definidos"
	if len(cfg.Persona.Traits) > 0 {
		traits = strings.Join(cfg.Persona.Traits, ", ")
	}
	return fmt.Sprintf("Personalidad: %s\nRasgos: %s\nNivel: %d", cfg.Persona.Name, traits, cfg.Persona.IntelligenceLevel), nil
}
