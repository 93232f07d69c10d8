package printing

import (
	"strings"

	"shopops/internal/textnorm"
)

// Logical print queues.
const (
	QueueStandard  = "STD"
	QueueTechnical = "TECH"
)

// DefaultTechnicalTokens mark a paper hint as a technical sheet.
var DefaultTechnicalTokens = []string{"ficha tecnica", "ficha técnica", "tech sheet", "50x70"}

// Router maps a paper hint to a physical queue name.
type Router struct {
	standard  string
	technical string
	tokens    []string
}

// NewRouter builds a router. standard and technical are the physical queue
// names; tokens default to DefaultTechnicalTokens.
func NewRouter(standard, technical string, tokens []string) *Router {
	if len(tokens) == 0 {
		tokens = DefaultTechnicalTokens
	}
	r := &Router{standard: standard, technical: technical}
	seen := make(map[string]bool)
	for _, tok := range tokens {
		n := textnorm.Fold(tok)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		r.tokens = append(r.tokens, n)
	}
	return r
}

// Logical returns QueueTechnical when the hint contains a technical-sheet
// token and QueueStandard otherwise, including for an empty hint.
func (r *Router) Logical(paper string) string {
	hint := textnorm.Fold(paper)
	if hint == "" {
		return QueueStandard
	}
	for _, tok := range r.tokens {
		if strings.Contains(hint, tok) {
			return QueueTechnical
		}
	}
	return QueueStandard
}

// Route returns the logical and physical queue for the hint.
func (r *Router) Route(paper string) (logical, physical string) {
	logical = r.Logical(paper)
	if logical == QueueTechnical {
		return logical, r.technical
	}
	return logical, r.standard
}

// NormalizeOrientation maps an orientation hint to "portrait", "landscape"
// or "" when unrecognized.
func NormalizeOrientation(o string) string {
	switch textnorm.Fold(o) {
	case "portrait", "vertical":
		return "portrait"
	case "landscape", "horizontal", "apaisado":
		return "landscape"
	default:
		return ""
	}
}

// PrintSettings joins the scaling mode and an optional orientation.
func PrintSettings(scaling, orientation string) string {
	if scaling == "" {
		scaling = "fit"
	}
	if o := NormalizeOrientation(orientation); o != "" {
		return scaling + "," + o
	}
	return scaling
}

// DriverArgs builds the driver command line for one file.
func DriverArgs(queue, settings, file string) []string {
	return []string{"-print-to", queue, "-silent", "-print-settings", settings, file}
}
