package journal

import (
	"context"

	"cbjournal/pkg/journal/codec"

	"k8s.io/klog/v2"
)

// readSuper reads one block at start and decodes it. A nil superblock
// with a nil error means the region carries no valid superblock; that
// signals an unformatted region, not corruption.
func (j *Journal) readSuper(ctx context.Context, start uint64) (*codec.Superblock, error) {
	buf := make([]byte, j.dev.BlockSize())
	if err := j.dev.Read(ctx, start, buf); err != nil {
		return nil, err
	}
	sb, ok := codec.DecodeSuper(buf)
	if !ok {
		return nil, nil
	}
	return sb, nil
}

// writeSuper encodes h into a buffer exactly one block long and writes
// it in place at start.
func (j *Journal) writeSuper(ctx context.Context, start uint64, h *codec.Superblock) error {
	buf := make([]byte, j.dev.BlockSize())
	copy(buf, codec.EncodeSuper(h))
	klog.V(4).Infof("write super at %d, written_to=%d committed_to=%d applied_to=%d segment=%d",
		start, h.WrittenTo, h.CommittedTo, h.AppliedTo, h.CurSegmentID)
	return j.dev.Write(ctx, start, buf)
}

// SyncSuper snapshots the live cursors into the in-memory superblock
// and rewrites it at the region start. The block size recorded at
// format time is preserved.
func (j *Journal) SyncSuper(ctx context.Context) error {
	j.mu.Lock()
	if j.state == stateClosed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.header.MaxSize = j.maxSize
	j.header.UsedSize = j.usedSize
	j.header.WrittenTo = j.writtenTo
	j.header.CommittedTo = j.committedTo
	j.header.AppliedTo = j.appliedTo
	j.header.CurSegmentID = j.curSegmentID
	h := j.header
	start := j.start
	j.mu.Unlock()

	return j.writeSuper(ctx, start, &h)
}
