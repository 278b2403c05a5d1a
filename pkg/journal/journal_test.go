package journal

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"cbjournal/pkg/journal/codec"
	"cbjournal/pkg/journal/device"

	"gotest.tools/assert"
)

const (
	testBlockSize = uint32(4096)
	testEnd       = uint64(1048576)

	testStartOffset = uint64(4096)
	testMaxSize     = testEnd - testStartOffset
)

func newTestJournal(t *testing.T, opts *Options) (*Journal, string) {
	path := filepath.Join(t.TempDir(), "journal")
	dev := device.NewFileDevice(path, testBlockSize, testEnd)
	return New(dev, opts), path
}

func mkfsAndOpen(t *testing.T, j *Journal) LogicalPosition {
	ctx := context.Background()
	err := j.Mkfs(ctx, MkfsConfig{Start: 0, End: testEnd})
	assert.Assert(t, err == nil, err)
	pos, err := j.OpenForWrite(ctx, 0)
	assert.Assert(t, err == nil, err)
	return pos
}

func TestMkfsOpenAppend(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)

	pos := mkfsAndOpen(t, j)
	assert.Assert(t, pos.SegmentID == 0)
	assert.Assert(t, pos.Paddr.BlockOff == testStartOffset)
	assert.Assert(t, pos.Paddr.BlockID == 1)

	rec := &codec.Record{
		Metadata: []byte("extent meta"),
		Data:     bytes.Repeat([]byte{0x11}, 4096),
	}
	paddr, lp, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, paddr.BlockOff == 4096)
	assert.Assert(t, lp.SegmentID == 1)
	assert.Assert(t, j.WrittenTo() == 12288)
	assert.Assert(t, j.CommittedTo() == 4096)
	assert.Assert(t, j.CurSegmentID() == 1)

	header, frame, err := j.ReadRecord(ctx, 0)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, header != nil)
	assert.Assert(t, header.Seq == 0)
	assert.Assert(t, header.CommittedTo == 0)

	// The frame on device is exactly what the codec produced.
	want := codec.EncodeRecord(rec, testBlockSize, 0, 0)
	assert.Assert(t, bytes.Equal(frame, want))

	_, data := codec.Payloads(header, frame)
	assert.Assert(t, bytes.Equal(data[:len(rec.Data)], rec.Data))

	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

func TestReopenPersistence(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	rec := &codec.Record{
		Metadata: []byte("extent meta"),
		Data:     bytes.Repeat([]byte{0x22}, 4096),
	}
	_, _, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == nil, err)
	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)

	pos, err := j.OpenForWrite(ctx, 0)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, pos.SegmentID == 1)
	assert.Assert(t, pos.Paddr.BlockOff == 12288)
	assert.Assert(t, j.CommittedTo() == 4096)

	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

func TestOpenUnformatted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal")
	dev := device.NewFileDevice(path, testBlockSize, testEnd)
	// Size the backing file without formatting it.
	err := dev.Open(ctx)
	assert.Assert(t, err == nil, err)
	err = dev.Close()
	assert.Assert(t, err == nil, err)

	j := New(dev, nil)
	_, err = j.OpenForWrite(ctx, 0)
	assert.Assert(t, err == ErrNotInitialized)
}

func TestMkfsIdempotent(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	rec := &codec.Record{Metadata: []byte("m")}
	_, _, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == nil, err)
	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
	first := j.Header()

	// A second mkfs over the formatted region must change nothing.
	err = j.Mkfs(ctx, MkfsConfig{Start: 0, End: testEnd})
	assert.Assert(t, err == nil, err)

	pos, err := j.OpenForWrite(ctx, 0)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, pos.SegmentID == 1)
	assert.Assert(t, j.Header().UUID == first.UUID)
	assert.Assert(t, j.Header().CurSegmentID == 1)
	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

func TestRecordTooLarge(t *testing.T) {
	ctx := context.Background()
	opts := NewDefaultOptions()
	opts.MaxEntryLength = 8192
	j, _ := newTestJournal(t, opts)
	mkfsAndOpen(t, j)

	rec := &codec.Record{
		Metadata: []byte("m"),
		Data:     make([]byte, 8192),
	}
	_, _, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == ErrRecordTooLarge)

	// Cursors are untouched by the rejected submission.
	assert.Assert(t, j.WrittenTo() == testStartOffset)
	assert.Assert(t, j.CommittedTo() == 0)
	assert.Assert(t, j.CurSegmentID() == 0)

	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

func TestOutOfSpace(t *testing.T) {
	ctx := context.Background()
	opts := NewDefaultOptions()
	opts.MaxEntryLength = 4 * testMaxSize
	j, _ := newTestJournal(t, opts)
	mkfsAndOpen(t, j)

	rec := &codec.Record{Data: make([]byte, testMaxSize)}
	_, _, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == ErrOutOfSpace)

	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

// A record whose metadata section alone would cross the ring end is
// relocated wholly to start_offset; the residue before the end stays
// unreadable without corrupting anything else.
func TestWrapRelocatesWholeRecord(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	j.mu.Lock()
	j.writtenTo = j.geo.End() - 4096
	j.mu.Unlock()

	rec := &codec.Record{Metadata: make([]byte, 5000)} // mdlength 8192
	paddr, lp, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, paddr.BlockOff == testStartOffset)
	assert.Assert(t, lp.SegmentID == 1)
	assert.Assert(t, j.WrittenTo() == testStartOffset+8192)
	assert.Assert(t, j.CommittedTo() == testStartOffset)

	// The record reads back from the relocated position.
	header, _, err := j.ReadRecord(ctx, 0)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, header != nil && header.MDLength == 8192)

	// The wasted residue holds no record.
	header, _, err = j.ReadRecord(ctx, testMaxSize-4096)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, header == nil)

	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

// A record whose body straddles the ring end is written as two device
// writes and recovered with three device reads.
func TestReadAcrossWrap(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	j.mu.Lock()
	j.writtenTo = j.geo.End() - 8192
	j.mu.Unlock()

	rec := &codec.Record{
		Metadata: []byte("wrap"),
		Data:     bytes.Repeat([]byte{0x33}, 8192),
	}
	paddr, _, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, paddr.BlockOff == testEnd-8192)

	offset := testMaxSize - 8192
	header, frame, err := j.ReadRecord(ctx, offset)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, header != nil)
	assert.Assert(t, header.MDLength == 4096 && header.DLength == 8192)

	want := codec.EncodeRecord(rec, testBlockSize, 0, 0)
	assert.Assert(t, bytes.Equal(frame, want))

	_, data := codec.Payloads(header, frame)
	assert.Assert(t, bytes.Equal(data[:len(rec.Data)], rec.Data))

	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

// Corrupting a record's trailing bytes makes that record absent without
// harming records before it.
func TestTornTailRecovery(t *testing.T) {
	ctx := context.Background()
	j, path := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	rec1 := &codec.Record{Metadata: []byte("one"), Data: bytes.Repeat([]byte{0x44}, 4096)}
	rec2 := &codec.Record{Metadata: []byte("two"), Data: bytes.Repeat([]byte{0x55}, 4096)}
	_, _, err := j.SubmitRecord(ctx, rec1)
	assert.Assert(t, err == nil, err)
	_, _, err = j.SubmitRecord(ctx, rec2)
	assert.Assert(t, err == nil, err)
	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)

	// Tear the tail of the second record: its last block sits at
	// device offset 16384.
	raw := device.NewFileDevice(path, testBlockSize, testEnd)
	err = raw.Open(ctx)
	assert.Assert(t, err == nil, err)
	err = raw.Write(ctx, 16384, bytes.Repeat([]byte{0xff}, 4096))
	assert.Assert(t, err == nil, err)
	err = raw.Close()
	assert.Assert(t, err == nil, err)

	_, err = j.OpenForWrite(ctx, 0)
	assert.Assert(t, err == nil, err)

	header, _, err := j.ReadRecord(ctx, 8192)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, header == nil)

	header, frame, err := j.ReadRecord(ctx, 0)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, header != nil)
	_, data := codec.Payloads(header, frame)
	assert.Assert(t, bytes.Equal(data[:len(rec1.Data)], rec1.Data))

	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

func TestWrittenToAccumulation(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	var sum uint64
	for i := 0; i < 20; i++ {
		rec := &codec.Record{
			Metadata: bytes.Repeat([]byte{byte(i)}, i*100),
			Data:     bytes.Repeat([]byte{byte(i)}, i*1000),
		}
		mdlength, dlength := codec.RecordSize(rec, testBlockSize)
		sum += uint64(mdlength) + uint64(dlength)
		_, _, err := j.SubmitRecord(ctx, rec)
		assert.Assert(t, err == nil, err)
	}
	assert.Assert(t, j.WrittenTo()-testStartOffset == sum%testMaxSize)
	assert.Assert(t, j.CurSegmentID() == 20)

	err := j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

// Concurrent submissions keep dense, ordered sequence ids and a
// committed_to that advances with the records' addresses.
func TestConcurrentSubmits(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	const workers = 8
	const perWorker = 4

	var mu sync.Mutex
	positions := make(map[uint64]Paddr)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rec := &codec.Record{Metadata: []byte{byte(w), byte(i)}}
				paddr, lp, err := j.SubmitRecord(ctx, rec)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				positions[lp.SegmentID] = paddr
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Assert(t, j.CurSegmentID() == workers*perWorker)
	assert.Assert(t, len(positions) == workers*perWorker)
	prev := uint64(0)
	for seq := uint64(1); seq <= workers*perWorker; seq++ {
		paddr, ok := positions[seq]
		assert.Assert(t, ok, "missing segment %d", seq)
		assert.Assert(t, paddr.BlockOff > prev, "segment %d out of order", seq)
		prev = paddr.BlockOff
	}
	assert.Assert(t, j.CommittedTo() == prev)

	err := j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

func TestSetAppliedPersists(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)

	rec := &codec.Record{Metadata: []byte("m"), Data: make([]byte, 4096)}
	_, _, err := j.SubmitRecord(ctx, rec)
	assert.Assert(t, err == nil, err)

	j.SetApplied(j.CommittedTo())
	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)

	_, err = j.OpenForWrite(ctx, 0)
	assert.Assert(t, err == nil, err)
	assert.Assert(t, j.Header().AppliedTo == 4096)
	err = j.Close(ctx)
	assert.Assert(t, err == nil, err)
}

func TestSubmitAfterClose(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t, nil)
	mkfsAndOpen(t, j)
	err := j.Close(ctx)
	assert.Assert(t, err == nil, err)

	_, _, err = j.SubmitRecord(ctx, &codec.Record{Metadata: []byte("m")})
	assert.Assert(t, err == ErrClosed)
	_, _, err = j.ReadRecord(ctx, 0)
	assert.Assert(t, err == ErrClosed)
}

func BenchmarkSubmitRecord(b *testing.B) {
	ctx := context.Background()
	path := filepath.Join(b.TempDir(), "journal")
	dev := device.NewFileDevice(path, testBlockSize, testEnd)
	j := New(dev, nil)
	err := j.Mkfs(ctx, MkfsConfig{Start: 0, End: testEnd})
	assert.Assert(b, err == nil, err)
	_, err = j.OpenForWrite(ctx, 0)
	assert.Assert(b, err == nil, err)

	rec := &codec.Record{Metadata: []byte("bench"), Data: make([]byte, 4096)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if j.WrittenTo()+16384 > j.Geometry().End() {
			b.StopTimer()
			j.mu.Lock()
			j.writtenTo = j.geo.StartOffset
			j.committedTo = 0
			j.mu.Unlock()
			b.StartTimer()
		}
		_, _, err := j.SubmitRecord(ctx, rec)
		assert.Assert(b, err == nil, err)
	}
	b.StopTimer()
	err = j.Close(ctx)
	assert.Assert(b, err == nil, err)
}
