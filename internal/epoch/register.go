package epoch

import "sync/atomic"

// Register identifies the currently valid turn. Work tagged with any other
// value is stale and must be dropped.
type Register interface {
	Current() uint64
	Advance() uint64
	IsCurrent(e uint64) bool
}

// Counter is an atomic Register starting at zero.
type Counter struct {
	value atomic.Uint64
}

func New() *Counter { return &Counter{} }

// Current returns the live epoch.
func (c *Counter) Current() uint64 {
	return c.value.Load()
}

// Advance bumps the epoch and returns the new value. Every holder of an older
// value observes IsCurrent == false from this point on.
func (c *Counter) Advance() uint64 {
	return c.value.Add(1)
}

func (c *Counter) IsCurrent(e uint64) bool {
	return c.value.Load() == e
}
