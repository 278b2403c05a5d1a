package journal

import (
	"context"
	"errors"
	"sync"

	"cbjournal/pkg/journal/codec"
	"cbjournal/pkg/journal/device"
	"cbjournal/pkg/journal/ring"
	"cbjournal/pkg/util"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

var (
	ErrNotInitialized = errors.New("journal region is not initialized")
	ErrRecordTooLarge = errors.New("record exceeds max entry length")
	ErrOutOfSpace     = errors.New("no space left in journal")
	ErrClosed         = errors.New("journal is not open")
)

type state uint8

const (
	stateClosed state = iota
	stateOpened
	stateWriting
)

// Paddr addresses a point in the journal region on device.
type Paddr struct {
	BlockID  uint64
	BlockOff uint64
}

// LogicalPosition names a point in the journal as seen by callers: the
// sequence id paired with the physical address.
type LogicalPosition struct {
	SegmentID uint64
	Paddr     Paddr
}

// MkfsConfig bounds the device region a journal is formatted into.
// Start and End are device-absolute byte offsets, block aligned.
type MkfsConfig struct {
	Start uint64
	End   uint64
}

// Journal is a circular bounded journal over a fixed region of a block
// device. The first block of the region holds the superblock; records
// live in the ring [start_offset, start_offset+max_size) and wrap back
// to start_offset when the end is reached.
//
// One journal instance owns its device exclusively between OpenForWrite
// and Close. The mutex guards the in-memory state: written_to and
// cur_segment_id advance at reservation under it, and committed_to
// advances under it inside the write pipeline's finalize phase, which
// admits submissions in reservation order.
type Journal struct {
	dev  device.Device
	opts *Options

	mu     sync.Mutex
	state  state
	header codec.Superblock
	geo    ring.Geometry

	start        uint64
	blockSize    uint32
	maxSize      uint64
	usedSize     uint64
	writtenTo    uint64
	committedTo  uint64
	appliedTo    uint64
	curSegmentID uint64

	pipeline writePipeline
}

func New(dev device.Device, opts *Options) *Journal {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	return &Journal{
		dev:  dev,
		opts: opts,
	}
}

// Mkfs formats the region [cfg.Start, cfg.End) iff it does not already
// carry a valid superblock; formatting an initialized region is a
// no-op. The device is opened and closed regardless of outcome.
func (j *Journal) Mkfs(ctx context.Context, cfg MkfsConfig) error {
	j.mu.Lock()
	util.Assert(j.state == stateClosed)
	j.mu.Unlock()

	bs := uint64(j.dev.BlockSize())
	util.Assertf(cfg.Start%bs == 0 && cfg.End%bs == 0 && cfg.Start+bs < cfg.End,
		"bad journal region [%d, %d)", cfg.Start, cfg.End)

	if err := j.dev.Open(ctx); err != nil {
		return err
	}
	defer func() {
		_ = j.dev.Close()
	}()

	sb, err := j.readSuper(ctx, cfg.Start)
	if err != nil {
		return err
	}
	if sb != nil {
		klog.V(4).Infof("mkfs: region at %d already formatted, uuid=%s", cfg.Start, sb.UUID)
		return nil
	}

	h := codec.Superblock{
		Magic:       codec.SuperMagic,
		UUID:        uuid.New(),
		BlockSize:   j.dev.BlockSize(),
		CsumType:    codec.CsumCRC32C,
		MaxSize:     cfg.End - cfg.Start - bs,
		Start:       cfg.Start,
		End:         cfg.End,
		StartOffset: cfg.Start + bs,
		WrittenTo:   cfg.Start + bs,
	}
	klog.V(4).Infof("mkfs: initialize superblock at %d, max_size=%d uuid=%s",
		cfg.Start, h.MaxSize, h.UUID)
	return j.writeSuper(ctx, cfg.Start, &h)
}

// OpenForWrite opens the device, loads the superblock at start and
// hydrates the cursors. It returns the current tail of the journal.
func (j *Journal) OpenForWrite(ctx context.Context, start uint64) (LogicalPosition, error) {
	j.mu.Lock()
	util.Assert(j.state == stateClosed)
	j.mu.Unlock()

	if err := j.dev.Open(ctx); err != nil {
		return LogicalPosition{}, err
	}
	sb, err := j.readSuper(ctx, start)
	if err != nil {
		_ = j.dev.Close()
		return LogicalPosition{}, err
	}
	if sb == nil {
		_ = j.dev.Close()
		return LogicalPosition{}, ErrNotInitialized
	}
	util.Assert(sb.Start == start)

	j.mu.Lock()
	j.header = *sb
	j.start = sb.Start
	j.blockSize = sb.BlockSize
	j.maxSize = sb.MaxSize
	j.usedSize = sb.UsedSize
	j.writtenTo = sb.WrittenTo
	j.committedTo = sb.CommittedTo
	j.appliedTo = sb.AppliedTo
	j.curSegmentID = sb.CurSegmentID
	j.geo = ring.Geometry{
		StartOffset: sb.StartOffset,
		MaxSize:     sb.MaxSize,
		BlockSize:   sb.BlockSize,
	}
	j.state = stateOpened
	pos := LogicalPosition{
		SegmentID: j.curSegmentID,
		Paddr:     j.paddrOf(j.writtenTo),
	}
	j.mu.Unlock()

	klog.V(4).Infof("open for write: written_to=%d committed_to=%d segment=%d",
		pos.Paddr.BlockOff, sb.CommittedTo, pos.SegmentID)
	return pos, nil
}

// SubmitRecord encodes rec, reserves ring space and a sequence id, and
// stages the frame through the write pipeline: device submission first,
// then finalize, under which committed_to advances to the record's
// address. Space, sequence id and pipeline slot are all taken in one
// critical section, so submissions carry dense, ordered ids and
// finalize in reservation order even when device writes complete out
// of order.
func (j *Journal) SubmitRecord(ctx context.Context, rec *codec.Record) (Paddr, LogicalPosition, error) {
	j.mu.Lock()
	if j.state == stateClosed {
		j.mu.Unlock()
		return Paddr{}, LogicalPosition{}, ErrClosed
	}
	j.state = stateWriting

	mdlength, dlength := codec.RecordSize(rec, j.blockSize)
	total := uint64(mdlength) + uint64(dlength)
	if total > j.opts.MaxEntryLength {
		j.mu.Unlock()
		klog.Errorf("submit record: size %d exceeds max entry length %d", total, j.opts.MaxEntryLength)
		return Paddr{}, LogicalPosition{}, ErrRecordTooLarge
	}
	if total > j.geo.Available(j.usedSize) {
		j.mu.Unlock()
		return Paddr{}, LogicalPosition{}, ErrOutOfSpace
	}

	// The frame header never splits across the wrap: when the metadata
	// section would cross the end, the whole record relocates to
	// start_offset and the residue bytes stay unused.
	if j.writtenTo+uint64(mdlength) > j.geo.End() {
		j.writtenTo = j.geo.StartOffset
	}
	target := j.writtenTo
	j.writtenTo = target + total

	seq := j.curSegmentID
	j.curSegmentID = seq + 1
	committedTo := j.committedTo
	handle := j.pipeline.newHandle()
	j.mu.Unlock()

	frame := codec.EncodeRecord(rec, j.blockSize, committedTo, seq)
	klog.V(4).Infof("submit record: mdlength=%d dlength=%d target=%d seq=%d",
		mdlength, dlength, target, seq)

	if err := handle.enterDeviceSubmission(ctx); err != nil {
		return Paddr{}, LogicalPosition{}, err
	}
	if err := j.appendRecord(ctx, frame, target); err != nil {
		handle.exit()
		return Paddr{}, LogicalPosition{}, err
	}

	handle.enterFinalize()
	j.mu.Lock()
	// Once the ring is lapped, a wrapped target legitimately sits at or
	// below the standing commit mark; monotonicity holds per lap only.
	if j.committedTo >= target {
		klog.V(4).Infof("submit record: commit frontier wrapped, %d -> %d", j.committedTo, target)
	}
	j.committedTo = target
	paddr := j.paddrOf(target)
	j.mu.Unlock()
	handle.exit()

	klog.V(4).Infof("submit record: committed target=%d segment=%d", target, seq+1)
	return paddr, LogicalPosition{SegmentID: seq + 1, Paddr: paddr}, nil
}

// appendRecord writes the frame at addr, splitting it into a second
// write at start_offset when it straddles the ring end. Device errors
// propagate unchanged.
func (j *Journal) appendRecord(ctx context.Context, frame []byte, addr uint64) error {
	head, tail := j.geo.Split(addr, uint64(len(frame)))
	klog.V(4).Infof("append record: addr=%d head=%d tail=%d", addr, head, tail)
	if err := j.dev.Write(ctx, addr, frame[:head]); err != nil {
		return err
	}
	if tail == 0 {
		return nil
	}
	return j.dev.Write(ctx, j.geo.StartOffset, frame[head:])
}

// ReadRecord recovers the record frame at the given logical offset
// (relative to start_offset). A frame longer than one block takes a
// second read; a frame crossing the wrap takes a third from
// start_offset. A header that does not decode or a frame whose
// checksum fails yields a nil header with no error: there is no record
// there. Only device failures are errors.
func (j *Journal) ReadRecord(ctx context.Context, offset uint64) (*codec.RecordHeader, []byte, error) {
	j.mu.Lock()
	if j.state == stateClosed {
		j.mu.Unlock()
		return nil, nil, ErrClosed
	}
	j.mu.Unlock()

	bs := uint64(j.blockSize)
	util.Assertf(offset%bs == 0 && offset < j.maxSize, "bad record offset %d", offset)
	addr := j.geo.StartOffset + offset

	frame := make([]byte, bs)
	if err := j.dev.Read(ctx, addr, frame); err != nil {
		return nil, nil, err
	}
	header, ok := codec.DecodeRecordHeader(frame)
	if !ok {
		return nil, nil, nil
	}
	total := uint64(header.MDLength) + uint64(header.DLength)
	if uint64(header.MDLength)%bs != 0 || uint64(header.DLength)%bs != 0 || total > j.maxSize {
		return nil, nil, nil
	}

	if total > bs {
		next := total - bs
		nextAddr := addr + bs
		if nextAddr+next > j.geo.End() {
			// The frame crosses the wrap: read up to the ring end here,
			// the residue from start_offset below.
			next = j.geo.End() - nextAddr
		}
		if next > 0 {
			klog.V(4).Infof("read record: next read addr=%d length=%d", nextAddr, next)
			buf := make([]byte, next)
			if err := j.dev.Read(ctx, nextAddr, buf); err != nil {
				return nil, nil, err
			}
			frame = append(frame, buf...)
		}
		if uint64(len(frame)) < total {
			residue := total - uint64(len(frame))
			klog.V(4).Infof("read record: wrapped read addr=%d length=%d", j.geo.StartOffset, residue)
			buf := make([]byte, residue)
			if err := j.dev.Read(ctx, j.geo.StartOffset, buf); err != nil {
				return nil, nil, err
			}
			frame = append(frame, buf...)
		}
	}
	frame = frame[:total]

	if !codec.ValidateRecord(frame) {
		return nil, nil, nil
	}
	return header, frame, nil
}

// SetApplied records the watermark up to which a downstream consumer
// has applied records. It is persisted by the next SyncSuper or Close.
func (j *Journal) SetApplied(offset uint64) {
	j.mu.Lock()
	j.appliedTo = offset
	j.mu.Unlock()
}

// Close syncs the superblock and releases the device.
func (j *Journal) Close(ctx context.Context) error {
	if err := j.SyncSuper(ctx); err != nil {
		return err
	}
	j.mu.Lock()
	j.state = stateClosed
	j.mu.Unlock()
	return j.dev.Close()
}

// Header returns a copy of the superblock as hydrated at open time.
// Cursor fields reflect the last load or sync, not the live cursors.
func (j *Journal) Header() codec.Superblock {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header
}

// WrittenTo is the next free write position.
func (j *Journal) WrittenTo() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writtenTo
}

// CommittedTo is the durably committed high-water mark. Zero means no
// record has ever committed.
func (j *Journal) CommittedTo() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committedTo
}

// CurSegmentID is the sequence id the next record will carry.
func (j *Journal) CurSegmentID() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.curSegmentID
}

// Geometry exposes the ring arithmetic of an open journal.
func (j *Journal) Geometry() ring.Geometry {
	return j.geo
}

func (j *Journal) paddrOf(offset uint64) Paddr {
	return Paddr{
		BlockID:  offset / uint64(j.blockSize),
		BlockOff: offset,
	}
}
