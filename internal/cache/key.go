package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/lucasnoah/writefactory/internal/provider"
)

// Key identifies one cacheable provider call.
type Key string

// NewKey hashes the call target, the normalized prompt and the canonical
// parameter set. target is a provider id when the call is pinned to one
// provider, or "pool:<capability>" when any provider may serve it.
func NewKey(target, prompt string, params provider.Params) Key {
	h := sha256.New()
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(NormalizePrompt(prompt)))
	h.Write([]byte{0})
	h.Write([]byte(params.Canonical()))
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// PoolTarget is the cache target for calls not pinned to a provider.
func PoolTarget(c provider.Capability) string {
	return "pool:" + string(c)
}

// NormalizePrompt folds line endings, strips trailing whitespace on each
// line and trims the whole prompt.
func NormalizePrompt(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
