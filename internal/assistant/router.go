package assistant

import (
	"math/rand/v2"
	"strings"
	"unicode/utf8"
)

// Tier is the cost class of the selected model.
type Tier string

const (
	TierEconomy Tier = "economy"
	TierPremium Tier = "premium"
)

const (
	criticalLength = 200
	// Personas at or under this level never get the premium override.
	premiumFloor = 10
)

var criticalKeywords = []string{
	"analiza", "diagnostico", "diagnóstico", "presupuesto",
	"cotiza", "compara", "urgente", "falla",
}

// IsCritical reports whether a request looks complex enough to deserve the
// premium model regardless of the dice.
func IsCritical(text string) bool {
	if utf8.RuneCountInString(text) > criticalLength {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Router picks between the economy and premium models.
type Router struct {
	Economy string
	Premium string
	// Draw returns a uniform value in [0,100).
	Draw func() float64
}

// NewRouter returns a router drawing from math/rand.
func NewRouter(economy, premium string) *Router {
	return &Router{
		Economy: economy,
		Premium: premium,
		Draw:    func() float64 { return rand.Float64() * 100 },
	}
}

// Select chooses a model for a persona intelligence level and input text.
func (r *Router) Select(level int, text string) (string, Tier) {
	if IsCritical(text) && level > premiumFloor {
		return r.Premium, TierPremium
	}
	if r.Draw() < float64(level) {
		return r.Premium, TierPremium
	}
	return r.Economy, TierEconomy
}
