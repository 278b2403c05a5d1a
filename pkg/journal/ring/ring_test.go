package ring

import (
	"testing"

	"gotest.tools/assert"
)

var g = Geometry{
	StartOffset: 4096,
	MaxSize:     1044480,
	BlockSize:   4096,
}

func TestAvailable(t *testing.T) {
	assert.Assert(t, g.Available(0) == g.MaxSize)
	assert.Assert(t, g.Available(g.MaxSize) == 0)
	assert.Assert(t, g.Available(4096) == g.MaxSize-4096)
}

func TestAdvance(t *testing.T) {
	assert.Assert(t, g.Advance(g.StartOffset, 8192) == g.StartOffset+8192)

	// Landing exactly on the end wraps.
	assert.Assert(t, g.Advance(g.StartOffset, g.MaxSize) == g.StartOffset)
	assert.Assert(t, g.Advance(g.End()-4096, 4096) == g.StartOffset)

	// Crossing the end wraps as well.
	assert.Assert(t, g.Advance(g.End()-4096, 8192) == g.StartOffset)
}

func TestSplit(t *testing.T) {
	head, tail := g.Split(g.StartOffset, 8192)
	assert.Assert(t, head == 8192 && tail == 0)

	// A write ending exactly at the ring end needs no tail.
	head, tail = g.Split(g.End()-8192, 8192)
	assert.Assert(t, head == 8192 && tail == 0)

	head, tail = g.Split(g.End()-4096, 12288)
	assert.Assert(t, head == 4096 && tail == 8192)
}
