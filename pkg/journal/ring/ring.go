package ring

import (
	"cbjournal/pkg/util"
)

// Geometry maps journal offsets onto a fixed device range
// [StartOffset, StartOffset+MaxSize) that is reused with wrap-around.
// All functions are pure arithmetic; no Geometry method touches the
// device.
type Geometry struct {
	StartOffset uint64
	MaxSize     uint64
	BlockSize   uint32
}

// End is the first device offset past the ring.
func (g Geometry) End() uint64 {
	return g.StartOffset + g.MaxSize
}

// Available is the writable byte count given the current used size.
func (g Geometry) Available(used uint64) uint64 {
	util.Assert(used <= g.MaxSize)
	return g.MaxSize - used
}

// Advance moves cursor forward by n, wrapping to StartOffset when the
// ring end is reached. A cursor that lands exactly on End wraps.
func (g Geometry) Advance(cursor, n uint64) uint64 {
	util.Assert(g.StartOffset <= cursor && cursor < g.End())
	if cursor+n >= g.End() {
		return g.StartOffset
	}
	return cursor + n
}

// Split divides a write of length bytes at addr into the head portion
// that fits before the ring end and the tail that resumes at
// StartOffset. tail is zero when no wrap is needed.
func (g Geometry) Split(addr, length uint64) (head, tail uint64) {
	util.Assert(g.StartOffset <= addr && addr < g.End())
	head = length
	if room := g.End() - addr; room < length {
		head = room
	}
	return head, length - head
}
