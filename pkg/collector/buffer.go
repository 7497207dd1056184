package collector

import (
	"sync"

	"kite-collector/pkg/shared"
)

// Buffer accumulates ticks between flushes. Append and DrainAndClear are
// safe for concurrent use; every appended tick appears in exactly one drain.
type Buffer struct {
	mu    sync.Mutex
	ticks []shared.Tick
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds one tick.
func (b *Buffer) Append(t shared.Tick) {
	b.mu.Lock()
	b.ticks = append(b.ticks, t)
	b.mu.Unlock()
}

// Len reports the current depth.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ticks)
}

// DrainAndClear takes all buffered ticks and leaves the buffer empty, as
// one atomic step. The returned slice is owned by the caller.
func (b *Buffer) DrainAndClear() []shared.Tick {
	b.mu.Lock()
	out := b.ticks
	b.ticks = nil
	b.mu.Unlock()
	return out
}
