package values

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator mints globally unique value ids.
// Implemented by UUIDv7Generator (production) and SeqGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator mints time-sortable UUIDv7 ids. Sorting ids by creation
// time helps debugging and archive inspection.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SeqGenerator mints deterministic "prefix-N" ids for tests and golden
// traces.
type SeqGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqGenerator creates a generator producing prefix-1, prefix-2, ...
func NewSeqGenerator(prefix string) *SeqGenerator {
	return &SeqGenerator{prefix: prefix}
}

// Generate returns the next sequential id. Thread-safe.
func (g *SeqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}
