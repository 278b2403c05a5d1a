package codec

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
)

// On-device layout, all fields little endian.
//
// Superblock (one per region, first block):
//
//	|magic:8|uuid:16|block_size:4|csum_type:1|flag:1|error:2|
//	|max_size:8|used_size:8|start:8|end:8|start_offset:8|
//	|written_to:8|committed_to:8|applied_to:8|cur_segment_id:8|csum:4|
//
// Record frame:
//
//	|seq:8|mdlength:4|dlength:4|committed_to:8|crc32c:4|reserved:4|
//	|inline metadata|pad to mdlength|data|pad to dlength|
const (
	// SuperMagic marks a formatted journal region ("cbjlog01").
	SuperMagic uint64 = 0x63626a6c6f673031

	// SuperEncodedLen is the encoded superblock length. The superblock
	// always occupies a full block on device; the remainder is zero.
	SuperEncodedLen = 108

	superCsumOff = 104

	// RecordHeaderLen is the fixed frame header preceding the inline
	// metadata. It is counted into mdlength.
	RecordHeaderLen = 32

	recordCrcOff = 24

	// CsumCRC32C identifies the Castagnoli CRC in csum_type.
	CsumCRC32C uint8 = 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Superblock is the persistent descriptor of a journal region.
type Superblock struct {
	Magic        uint64
	UUID         uuid.UUID
	BlockSize    uint32
	CsumType     uint8
	Flag         uint8
	Error        uint16
	MaxSize      uint64
	UsedSize     uint64
	Start        uint64
	End          uint64
	StartOffset  uint64
	WrittenTo    uint64
	CommittedTo  uint64
	AppliedTo    uint64
	CurSegmentID uint64
	Csum         uint32
}

// Record is an unencoded journal entry. The metadata section and the
// data section are padded to block multiples independently on device.
type Record struct {
	Metadata []byte
	Data     []byte
}

// RecordHeader is the fixed frame header stored in front of the inline
// metadata. CommittedTo carries the commit frontier observed when the
// record was encoded.
type RecordHeader struct {
	Seq         uint64
	MDLength    uint32
	DLength     uint32
	CommittedTo uint64
	Crc         uint32
}

// checksumSkip computes the CRC32C over buf with the 4-byte checksum
// field at crcOff excluded: seeded with -1 over the prefix, continued
// over everything past the field.
func checksumSkip(buf []byte, crcOff int) uint32 {
	c := crc32.Update(^uint32(0), castagnoli, buf[:crcOff])
	return crc32.Update(c, castagnoli, buf[crcOff+4:])
}

// EncodeSuper serializes h. The csum field is recomputed; the stored
// value in h is ignored.
func EncodeSuper(h *Superblock) []byte {
	buf := make([]byte, SuperEncodedLen)
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	copy(buf[8:24], h.UUID[:])
	binary.LittleEndian.PutUint32(buf[24:28], h.BlockSize)
	buf[28] = h.CsumType
	buf[29] = h.Flag
	binary.LittleEndian.PutUint16(buf[30:32], h.Error)
	binary.LittleEndian.PutUint64(buf[32:40], h.MaxSize)
	binary.LittleEndian.PutUint64(buf[40:48], h.UsedSize)
	binary.LittleEndian.PutUint64(buf[48:56], h.Start)
	binary.LittleEndian.PutUint64(buf[56:64], h.End)
	binary.LittleEndian.PutUint64(buf[64:72], h.StartOffset)
	binary.LittleEndian.PutUint64(buf[72:80], h.WrittenTo)
	binary.LittleEndian.PutUint64(buf[80:88], h.CommittedTo)
	binary.LittleEndian.PutUint64(buf[88:96], h.AppliedTo)
	binary.LittleEndian.PutUint64(buf[96:104], h.CurSegmentID)
	binary.LittleEndian.PutUint32(buf[superCsumOff:], checksumSkip(buf, superCsumOff))
	return buf
}

// DecodeSuper parses a superblock. ok is false when the buffer is too
// short, the magic does not match, or the checksum fails; an absent
// superblock means an unformatted region and is never an error.
func DecodeSuper(buf []byte) (*Superblock, bool) {
	if len(buf) < SuperEncodedLen {
		return nil, false
	}
	buf = buf[:SuperEncodedLen]
	if binary.LittleEndian.Uint64(buf[0:8]) != SuperMagic {
		return nil, false
	}
	h := &Superblock{}
	h.Magic = binary.LittleEndian.Uint64(buf[0:8])
	copy(h.UUID[:], buf[8:24])
	h.BlockSize = binary.LittleEndian.Uint32(buf[24:28])
	h.CsumType = buf[28]
	h.Flag = buf[29]
	h.Error = binary.LittleEndian.Uint16(buf[30:32])
	h.MaxSize = binary.LittleEndian.Uint64(buf[32:40])
	h.UsedSize = binary.LittleEndian.Uint64(buf[40:48])
	h.Start = binary.LittleEndian.Uint64(buf[48:56])
	h.End = binary.LittleEndian.Uint64(buf[56:64])
	h.StartOffset = binary.LittleEndian.Uint64(buf[64:72])
	h.WrittenTo = binary.LittleEndian.Uint64(buf[72:80])
	h.CommittedTo = binary.LittleEndian.Uint64(buf[80:88])
	h.AppliedTo = binary.LittleEndian.Uint64(buf[88:96])
	h.CurSegmentID = binary.LittleEndian.Uint64(buf[96:104])
	h.Csum = binary.LittleEndian.Uint32(buf[superCsumOff:])
	if checksumSkip(buf, superCsumOff) != h.Csum {
		return nil, false
	}
	return h, true
}

// RecordSize returns the mdlength and dlength of rec when encoded with
// the given block size. Both are block multiples; dlength is zero for a
// record with no data payload.
func RecordSize(rec *Record, blockSize uint32) (mdlength, dlength uint32) {
	mdlength = roundUpBlock(RecordHeaderLen+uint32(len(rec.Metadata)), blockSize)
	if len(rec.Data) > 0 {
		dlength = roundUpBlock(uint32(len(rec.Data)), blockSize)
	}
	return mdlength, dlength
}

// EncodeRecord lays out |header|metadata|pad|data|pad| and stamps the
// frame checksum. committedTo is the commit frontier at encode time,
// seq the sequence id assigned to this record.
func EncodeRecord(rec *Record, blockSize uint32, committedTo uint64, seq uint64) []byte {
	mdlength, dlength := RecordSize(rec, blockSize)
	buf := make([]byte, mdlength+dlength)
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint32(buf[8:12], mdlength)
	binary.LittleEndian.PutUint32(buf[12:16], dlength)
	binary.LittleEndian.PutUint64(buf[16:24], committedTo)
	copy(buf[RecordHeaderLen:], rec.Metadata)
	copy(buf[mdlength:], rec.Data)
	binary.LittleEndian.PutUint32(buf[recordCrcOff:recordCrcOff+4], checksumSkip(buf, recordCrcOff))
	return buf
}

// DecodeRecordHeader parses the frame header at the start of buf. ok is
// false when the buffer is short or the header is not plausible; the
// caller still has to validate the frame checksum.
func DecodeRecordHeader(buf []byte) (*RecordHeader, bool) {
	if len(buf) < RecordHeaderLen {
		return nil, false
	}
	h := &RecordHeader{
		Seq:         binary.LittleEndian.Uint64(buf[0:8]),
		MDLength:    binary.LittleEndian.Uint32(buf[8:12]),
		DLength:     binary.LittleEndian.Uint32(buf[12:16]),
		CommittedTo: binary.LittleEndian.Uint64(buf[16:24]),
		Crc:         binary.LittleEndian.Uint32(buf[recordCrcOff : recordCrcOff+4]),
	}
	if h.MDLength < RecordHeaderLen {
		return nil, false
	}
	return h, true
}

// ValidateRecord recomputes the frame checksum over the whole encoded
// frame and compares it with the stored value.
func ValidateRecord(buf []byte) bool {
	if len(buf) < RecordHeaderLen {
		return false
	}
	stored := binary.LittleEndian.Uint32(buf[recordCrcOff : recordCrcOff+4])
	return checksumSkip(buf, recordCrcOff) == stored
}

// Payloads slices the padded metadata and data sections out of a
// validated frame. The sections keep their block padding; the original
// unpadded lengths are not part of the frame.
func Payloads(h *RecordHeader, frame []byte) (metadata, data []byte) {
	metadata = frame[RecordHeaderLen:h.MDLength]
	data = frame[h.MDLength : uint64(h.MDLength)+uint64(h.DLength)]
	return metadata, data
}

func roundUpBlock(n, blockSize uint32) uint32 {
	return (n + blockSize - 1) / blockSize * blockSize
}
