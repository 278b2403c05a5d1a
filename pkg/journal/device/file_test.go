package device

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"gotest.tools/assert"
)

func TestFileDeviceReadWrite(t *testing.T) {
	ctx := context.Background()
	dev := NewFileDevice(filepath.Join(t.TempDir(), "dev"), 4096, 1<<20)

	assert.Assert(t, dev.Read(ctx, 0, make([]byte, 4096)) == ErrNotOpen)

	err := dev.Open(ctx)
	assert.Assert(t, err == nil, err)

	in := bytes.Repeat([]byte{0x5a}, 8192)
	err = dev.Write(ctx, 4096, in)
	assert.Assert(t, err == nil, err)

	out := make([]byte, 8192)
	err = dev.Read(ctx, 4096, out)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, bytes.Equal(in, out))

	// Unwritten blocks read back as zeroes up to the capacity.
	err = dev.Read(ctx, 1<<20-4096, out[:4096])
	assert.Assert(t, err == nil, err)
	for _, b := range out[:4096] {
		assert.Assert(t, b == 0)
	}

	err = dev.Close()
	assert.Assert(t, err == nil, err)
}

func TestFileDevicePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dev")

	dev := NewFileDevice(path, 4096, 1<<20)
	err := dev.Open(ctx)
	assert.Assert(t, err == nil, err)
	in := bytes.Repeat([]byte{0xc3}, 4096)
	err = dev.Write(ctx, 0, in)
	assert.Assert(t, err == nil, err)
	err = dev.Close()
	assert.Assert(t, err == nil, err)

	dev = NewFileDevice(path, 4096, 1<<20)
	err = dev.Open(ctx)
	assert.Assert(t, err == nil, err)
	out := make([]byte, 4096)
	err = dev.Read(ctx, 0, out)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, bytes.Equal(in, out))
	err = dev.Close()
	assert.Assert(t, err == nil, err)
}

func TestFileDeviceRejectsUnaligned(t *testing.T) {
	ctx := context.Background()
	dev := NewFileDevice(filepath.Join(t.TempDir(), "dev"), 4096, 1<<20)
	err := dev.Open(ctx)
	assert.Assert(t, err == nil, err)
	defer dev.Close()

	defer func() {
		assert.Assert(t, recover() != nil)
	}()
	_ = dev.Read(ctx, 100, make([]byte, 4096))
}
