package device

import (
	"context"
	"os"

	"cbjournal/pkg/util"
)

// FileDevice backs the block device contract with a regular file. The
// file is grown to the configured capacity on Open so that every read
// inside the device range succeeds, the way a raw block device behaves.
type FileDevice struct {
	path      string
	blockSize uint32
	capacity  uint64
	f         *os.File
}

func NewFileDevice(path string, blockSize uint32, capacity uint64) *FileDevice {
	util.Assertf(blockSize >= 512 && blockSize&(blockSize-1) == 0,
		"block size %d", blockSize)
	util.Assert(capacity%uint64(blockSize) == 0)
	return &FileDevice{
		path:      path,
		blockSize: blockSize,
		capacity:  capacity,
	}
}

func (d *FileDevice) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	if uint64(fi.Size()) < d.capacity {
		if err := f.Truncate(int64(d.capacity)); err != nil {
			_ = f.Close()
			return err
		}
	}
	d.f = f
	return nil
}

func (d *FileDevice) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func (d *FileDevice) BlockSize() uint32 {
	return d.blockSize
}

func (d *FileDevice) Size() uint64 {
	return d.capacity
}

func (d *FileDevice) Read(ctx context.Context, offset uint64, buf []byte) error {
	if d.f == nil {
		return ErrNotOpen
	}
	d.checkAligned(offset, buf)
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.f.ReadAt(buf, int64(offset))
	return err
}

func (d *FileDevice) Write(ctx context.Context, offset uint64, buf []byte) error {
	if d.f == nil {
		return ErrNotOpen
	}
	d.checkAligned(offset, buf)
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(buf, int64(offset)); err != nil {
		return err
	}
	return d.f.Sync()
}

func (d *FileDevice) checkAligned(offset uint64, buf []byte) {
	bs := uint64(d.blockSize)
	util.Assertf(offset%bs == 0, "offset %d not block aligned", offset)
	util.Assertf(len(buf) > 0 && uint64(len(buf))%bs == 0,
		"buffer length %d not block aligned", len(buf))
	util.Assertf(offset+uint64(len(buf)) <= d.capacity,
		"i/o [%d, %d) out of device range", offset, offset+uint64(len(buf)))
}
