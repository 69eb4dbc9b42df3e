package event

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/google/uuid"
)

// UUIDFactory produces event ids from an injected entropy source.
// A seeded reader makes ids deterministic for tests and backtests.
type UUIDFactory struct {
	mu sync.Mutex
	r  io.Reader
}

// NewUUIDFactory uses crypto/rand when r is nil.
func NewUUIDFactory(r io.Reader) *UUIDFactory {
	if r == nil {
		r = rand.Reader
	}
	return &UUIDFactory{r: r}
}

// New returns a version 4 UUID.
func (f *UUIDFactory) New() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := uuid.NewRandomFromReader(f.r)
	if err != nil {
		panic("CORE_UUID_SOURCE_EXHAUSTED: " + err.Error())
	}
	return id
}

// Stamp assigns a fresh id to ev when it has none.
func (f *UUIDFactory) Stamp(ev Event) {
	if b, ok := ev.(interface{ base() *BaseEvent }); ok && b.base().ID == uuid.Nil {
		b.base().ID = f.New()
	}
}

func (e *BaseEvent) base() *BaseEvent { return e }
