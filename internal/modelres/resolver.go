// Package modelres maps a client-requested model identifier to one the
// upstream actually serves: exact match, then normalized match, then the
// closest sibling within the same model family. The fallback is best-effort
// version-drift tolerance, not an authoritative mapping.
package modelres

import (
	"errors"
	"strings"
	"sync"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
)

// ErrModelNotAvailable indicates no exact, normalized, or family match exists.
var ErrModelNotAvailable = errors.New("modelres: no matching model available")

// Resolver holds the candidate model list, typically sourced from the
// upstream models endpoint, plus optional exact-alias rewrites.
type Resolver struct {
	mu         sync.RWMutex
	candidates []string
	aliases    map[string]string
	logger     *logging.Leveled
}

// New creates a resolver with no candidates.
func New(logger *logging.Leveled) *Resolver {
	return &Resolver{logger: logger}
}

// SetCandidates replaces the candidate list wholesale, preserving order
// (ties in family matching are broken by first-encountered order).
func (r *Resolver) SetCandidates(models []string) {
	copied := make([]string, 0, len(models))
	for _, m := range models {
		if strings.TrimSpace(m) == "" {
			continue
		}
		copied = append(copied, strings.TrimSpace(m))
	}
	r.mu.Lock()
	r.candidates = copied
	r.mu.Unlock()
	r.logger.Debugf("model candidates updated count=%d", len(copied))
}

// SetAliases replaces the alias map applied before any matching.
func (r *Resolver) SetAliases(aliases map[string]string) {
	copied := make(map[string]string, len(aliases))
	for k, v := range aliases {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		copied[k] = v
	}
	r.mu.Lock()
	r.aliases = copied
	r.mu.Unlock()
}

// Candidates returns a copy of the current candidate list.
func (r *Resolver) Candidates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Resolve maps requested to an available model identifier.
func (r *Resolver) Resolve(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "", ErrModelNotAvailable
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if alias, ok := r.aliases[requested]; ok {
		requested = alias
	}

	// 1. Exact identifier match wins outright.
	for _, c := range r.candidates {
		if c == requested {
			return c, nil
		}
	}

	// 2. Normalized match: trailing 8-digit date suffix stripped, dots
	// folded to dashes on both sides.
	normReq := Normalize(requested)
	for _, c := range r.candidates {
		if Normalize(c) == normReq {
			r.logger.Warnf("model %q resolved via normalized match to %q", requested, c)
			return c, nil
		}
	}

	// 3. Family fallback: among candidates sharing the family prefix, pick
	// the longest common character prefix against the normalized request.
	family := familyPrefix(normReq)
	if family == "" {
		return "", ErrModelNotAvailable
	}
	best := ""
	bestLen := -1
	for _, c := range r.candidates {
		normCand := Normalize(c)
		if familyPrefix(normCand) != family {
			continue
		}
		if l := commonPrefixLen(normReq, normCand); l > bestLen {
			best = c
			bestLen = l
		}
	}
	if best == "" {
		return "", ErrModelNotAvailable
	}
	r.logger.Warnf("model %q not available, falling back to family sibling %q", requested, best)
	return best, nil
}

// Normalize strips a trailing 8-digit date suffix and folds dots to dashes,
// so "claude-sonnet-4.5-20250101" and "claude-sonnet-4-5" compare equal.
func Normalize(model string) string {
	model = strings.ReplaceAll(strings.TrimSpace(model), ".", "-")
	if len(model) > 9 && model[len(model)-9] == '-' && allDigits(model[len(model)-8:]) {
		model = model[:len(model)-9]
	}
	return model
}

// familyPrefix returns the text up to the first digit run of a normalized
// identifier, e.g. "claude-opus-" for "claude-opus-4-6".
func familyPrefix(model string) string {
	for i := 0; i < len(model); i++ {
		if model[i] >= '0' && model[i] <= '9' {
			return model[:i]
		}
	}
	return model
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
