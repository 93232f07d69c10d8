package assistant

import (
	"context"
	"errors"
	"strings"

	"shopops/internal/docstore"
	"shopops/internal/logging"
	"shopops/internal/transport"
	"shopops/internal/types"
)

var senderSuffixes = []string{transport.ContactSuffix, "@s.whatsapp.net"}

// NormalizeSender reduces a transport address to the digits used as the
// directory key.
func NormalizeSender(from string) string {
	s := strings.TrimSpace(from)
	for _, suffix := range senderSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}
	return transport.Digits(s)
}

// Gate decides who may talk to the assistant. The user directory is checked
// first, then the legacy preference records, then the static admin list.
type Gate struct {
	store  docstore.Lister
	admins map[string]bool
}

// NewGate builds a gate; admin entries are normalized like senders.
func NewGate(store docstore.Lister, admins []string) *Gate {
	g := &Gate{store: store, admins: make(map[string]bool, len(admins))}
	for _, a := range admins {
		if key := NormalizeSender(a); key != "" {
			g.admins[key] = true
		}
	}
	return g
}

// Allowed reports whether the normalized key may use the assistant. Lookup
// failures count as a miss and fall through to the next source.
func (g *Gate) Allowed(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	for _, collection := range []string{types.CollectionUsers, types.CollectionPrefs} {
		_, err := g.store.Get(ctx, collection, key)
		if err == nil {
			return true
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			logging.AssistantWarn("Authorization lookup %s/%s failed: %v", collection, key, err)
		}
	}
	return g.admins[key]
}
