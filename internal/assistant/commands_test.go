package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text  string
		isCmd bool
		want  Command
	}{
		{"hola", false, Command{}},
		{"/AYUDA", true, Command{Name: "ayuda", Args: []string{}}},
		{"  /list-traits extra args ", true, Command{Name: "list-traits", Args: []string{"extra", "args"}}},
		{"/", true, Command{}},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.text)
		assert.Equal(t, tt.isCmd, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func runCommand(t *testing.T, in *Interceptor, text string) string {
	t.Helper()
	cmd, ok := ParseCommand(text)
	require.True(t, ok)
	reply := in.Run(context.Background(), "111", cmd)
	require.NotNil(t, reply)
	require.NotNil(t, reply.Text)
	return *reply.Text
}

func TestInterceptorHelpAndUnknown(t *testing.T) {
	store := newMemStore()
	in := NewInterceptor(store, NewResolver(store, nil))

	help := runCommand(t, in, "/help")
	assert.Contains(t, help, "/reset")
	assert.Equal(t, help, runCommand(t, in, "/ayuda"))

	assert.Contains(t, runCommand(t, in, "/bailar"), "Comando desconocido: /bailar")
	assert.Contains(t, runCommand(t, in, "/"), "Falta el comando")
}

func TestInterceptorReset(t *testing.T) {
	store := newMemStore()
	store.put("users", "111", map[string]any{"personaId": "tech"})
	in := NewInterceptor(store, NewResolver(store, nil))

	assert.Contains(t, runCommand(t, in, "/reset"), "predeterminada")
	doc, err := store.Get(context.Background(), "users", "111")
	require.NoError(t, err)
	assert.Equal(t, "", doc.Data["personaId"])
}

func TestInterceptorResetWithoutRecord(t *testing.T) {
	store := newMemStore()
	in := NewInterceptor(store, NewResolver(store, nil))
	assert.Contains(t, runCommand(t, in, "/reset"), "No tienes configuracion personal")
}

func TestInterceptorFailureBecomesText(t *testing.T) {
	store := newMemStore()
	store.put("users", "111", map[string]any{})
	store.failUpd = errors.New("disk full")
	in := NewInterceptor(store, NewResolver(store, nil))

	assert.Equal(t, "No pude ejecutar /reset: disk full", runCommand(t, in, "/reset"))
}

func TestInterceptorListTraits(t *testing.T) {
	store := newMemStore()
	seedPersonas(store)
	store.put("users", "111", map[string]any{"personaId": "tech"})
	in := NewInterceptor(store, NewResolver(store, nil))

	text := runCommand(t, in, "/list-traits")
	assert.Contains(t, text, "Personalidad: Tecnico")
	assert.Contains(t, text, "Rasgos: directo, tecnico")
}
