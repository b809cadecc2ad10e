package notedb

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces run tokens that identify one staged rebuild in
// logs and results. Tokens have no semantic meaning; they exist so that
// concurrent rebuilds of the same change can be told apart in diagnostics.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, making tokens
// sortable by creation time, which keeps migration logs readable.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined tokens for deterministic tests.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token. Panics when all tokens are
// consumed: exhausting the list indicates a test staged more rebuilds than
// it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic(fmt.Sprintf("FixedGenerator: all %d tokens consumed", len(g.tokens)))
	}
	t := g.tokens[g.idx]
	g.idx++
	return t
}
