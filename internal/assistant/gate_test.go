package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSender(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5215512345678@c.us", "5215512345678"},
		{"5215512345678@s.whatsapp.net", "5215512345678"},
		{"+52 1 55 1234 5678", "5215512345678"},
		{"  5512345678  ", "5512345678"},
		{"status@broadcast", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSender(tt.in), tt.in)
	}
}

func TestGateOrder(t *testing.T) {
	store := newMemStore()
	store.put("users", "111", map[string]any{"name": "Ana"})
	store.put("preferences", "222", map[string]any{"personaId": "p1"})
	gate := NewGate(store, []string{"+52 333"})
	ctx := context.Background()

	assert.True(t, gate.Allowed(ctx, "111"), "directory user")
	assert.True(t, gate.Allowed(ctx, "222"), "legacy preference")
	assert.True(t, gate.Allowed(ctx, "52333"), "static admin")
	assert.False(t, gate.Allowed(ctx, "999"))
	assert.False(t, gate.Allowed(ctx, ""))
}

func TestGateLookupErrorFallsThrough(t *testing.T) {
	store := newMemStore()
	store.failGet["users"] = errors.New("unavailable")
	store.put("preferences", "222", map[string]any{})
	gate := NewGate(store, []string{"333"})
	ctx := context.Background()

	assert.True(t, gate.Allowed(ctx, "222"))
	assert.True(t, gate.Allowed(ctx, "333"))
	assert.False(t, gate.Allowed(ctx, "444"))
}
