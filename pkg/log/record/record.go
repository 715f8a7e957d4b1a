package record

import (
	"encoding/binary"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

// Long-record marker: a Store value whose first byte is LongRecType and
// whose total length is at least LongRecSize is not the literal value but
// a pointer chain into dedicated overflow pages (spec §4.F, GLOSSARY
// "Long record"). TransactionPlayer checks a decoded SR value against
// this marker before handing it to a Listener that opts into conversion.
const (
	LongRecType byte = 0xFF
	LongRecSize      = 9 // marker byte + an 8-byte overflow page pointer
)

// IsLongRecordMarker reports whether value is shaped like a long-record
// pointer payload: {type==LongRecType, size >= LongRecSize}.
func IsLongRecordMarker(value []byte) bool {
	return len(value) >= LongRecSize && value[0] == LongRecType
}

// HeaderSize is the fixed-width prefix common to every journal record:
// length(4) + type(2) + timestamp(8), per spec §6.
const HeaderSize = 4 + 2 + 8

// Header is the fixed prefix of every journal record. Length includes the
// header itself. Multibyte integers are little-endian throughout this
// codec (spec §4.C requires little-endian to match the on-disk format,
// unlike the teacher's own BigEndian checkpoint codec — see DESIGN.md).
type Header struct {
	Length    uint32
	Type      Tag
	Timestamp primitives.Timestamp
}

func encodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Type))
	binary.LittleEndian.PutUint64(buf[6:14], uint64(h.Timestamp))
}

func decodeHeader(buf []byte, offset int64) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, dberror.NewCorruptRecord("record shorter than header", offset)
	}
	h := Header{
		Length:    binary.LittleEndian.Uint32(buf[0:4]),
		Type:      Tag(binary.LittleEndian.Uint16(buf[4:6])),
		Timestamp: primitives.Timestamp(binary.LittleEndian.Uint64(buf[6:14])),
	}
	if h.Length < HeaderSize {
		return Header{}, dberror.NewCorruptRecord("record length shorter than header", offset)
	}
	return h, nil
}

// Record is implemented by every concrete journal record type.
type Record interface {
	Tag() Tag
	Ts() primitives.Timestamp
}

// --- InstallVolume (IV) ---

type InstallVolumeRecord struct {
	Timestamp primitives.Timestamp
	Handle    primitives.VolumeHandle
	ID        int64
	Name      string
}

func (r InstallVolumeRecord) Tag() Tag                     { return TagInstallVolume }
func (r InstallVolumeRecord) Ts() primitives.Timestamp { return r.Timestamp }

func encodeInstallVolume(r InstallVolumeRecord) []byte {
	nameBytes := []byte(r.Name)
	length := HeaderSize + 4 + 8 + 2 + len(nameBytes)
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: TagInstallVolume, Timestamp: r.Timestamp})
	binary.LittleEndian.PutUint32(buf[14:18], uint32(r.Handle))
	binary.LittleEndian.PutUint64(buf[18:26], uint64(r.ID))
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(nameBytes)))
	copy(buf[28:], nameBytes)
	return buf
}

func decodeInstallVolume(h Header, body []byte, offset int64) (InstallVolumeRecord, error) {
	if len(body) < 4+8+2 {
		return InstallVolumeRecord{}, dberror.NewCorruptRecord("IV body too short", offset)
	}
	handle := primitives.VolumeHandle(binary.LittleEndian.Uint32(body[0:4]))
	id := int64(binary.LittleEndian.Uint64(body[4:12]))
	nameLen := int(binary.LittleEndian.Uint16(body[12:14]))
	if len(body) < 14+nameLen {
		return InstallVolumeRecord{}, dberror.NewCorruptRecord("IV name truncated", offset)
	}
	name := string(body[14 : 14+nameLen])
	return InstallVolumeRecord{Timestamp: h.Timestamp, Handle: handle, ID: id, Name: name}, nil
}

// --- InstallTree (IT) ---

type InstallTreeRecord struct {
	Timestamp    primitives.Timestamp
	Handle       primitives.TreeHandle
	VolumeHandle primitives.VolumeHandle
	TreeName     string
}

func (r InstallTreeRecord) Tag() Tag                     { return TagInstallTree }
func (r InstallTreeRecord) Ts() primitives.Timestamp { return r.Timestamp }

func encodeInstallTree(r InstallTreeRecord) []byte {
	nameBytes := []byte(r.TreeName)
	length := HeaderSize + 4 + 4 + 2 + len(nameBytes)
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: TagInstallTree, Timestamp: r.Timestamp})
	binary.LittleEndian.PutUint32(buf[14:18], uint32(r.Handle))
	binary.LittleEndian.PutUint32(buf[18:22], uint32(r.VolumeHandle))
	binary.LittleEndian.PutUint16(buf[22:24], uint16(len(nameBytes)))
	copy(buf[24:], nameBytes)
	return buf
}

func decodeInstallTree(h Header, body []byte, offset int64) (InstallTreeRecord, error) {
	if len(body) < 4+4+2 {
		return InstallTreeRecord{}, dberror.NewCorruptRecord("IT body too short", offset)
	}
	handle := primitives.TreeHandle(binary.LittleEndian.Uint32(body[0:4]))
	volHandle := primitives.VolumeHandle(binary.LittleEndian.Uint32(body[4:8]))
	nameLen := int(binary.LittleEndian.Uint16(body[8:10]))
	if len(body) < 10+nameLen {
		return InstallTreeRecord{}, dberror.NewCorruptRecord("IT name truncated", offset)
	}
	name := string(body[10 : 10+nameLen])
	return InstallTreeRecord{Timestamp: h.Timestamp, Handle: handle, VolumeHandle: volHandle, TreeName: name}, nil
}

// --- PageImage (PA) ---

type PageImageRecord struct {
	Timestamp primitives.Timestamp
	Page      primitives.PageAddress
	Image     []byte
}

func (r PageImageRecord) Tag() Tag                     { return TagPageImage }
func (r PageImageRecord) Ts() primitives.Timestamp { return r.Timestamp }

func encodePageImage(r PageImageRecord) []byte {
	length := HeaderSize + 8 + len(r.Image)
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: TagPageImage, Timestamp: r.Timestamp})
	binary.LittleEndian.PutUint64(buf[14:22], uint64(r.Page))
	copy(buf[22:], r.Image)
	return buf
}

func decodePageImage(h Header, body []byte, offset int64) (PageImageRecord, error) {
	if len(body) < 8 {
		return PageImageRecord{}, dberror.NewCorruptRecord("PA body too short", offset)
	}
	page := primitives.PageAddress(binary.LittleEndian.Uint64(body[0:8]))
	image := append([]byte(nil), body[8:]...)
	return PageImageRecord{Timestamp: h.Timestamp, Page: page, Image: image}, nil
}

// --- TxStart (TS), TxCommit (TC), TxRollback (TR): header-only markers
// keyed by the transaction's start timestamp. ---

type TxStartRecord struct{ StartTs primitives.Timestamp }

func (r TxStartRecord) Tag() Tag                     { return TagTxStart }
func (r TxStartRecord) Ts() primitives.Timestamp { return r.StartTs }

type TxCommitRecord struct{ StartTs primitives.Timestamp }

func (r TxCommitRecord) Tag() Tag                     { return TagTxCommit }
func (r TxCommitRecord) Ts() primitives.Timestamp { return r.StartTs }

type TxRollbackRecord struct{ StartTs primitives.Timestamp }

func (r TxRollbackRecord) Tag() Tag                     { return TagTxRollback }
func (r TxRollbackRecord) Ts() primitives.Timestamp { return r.StartTs }

type TxJoinRecord struct{ StartTs primitives.Timestamp }

func (r TxJoinRecord) Tag() Tag                     { return TagTxJoin }
func (r TxJoinRecord) Ts() primitives.Timestamp { return r.StartTs }

func encodeMarker(tag_ Tag, ts primitives.Timestamp) []byte {
	buf := make([]byte, HeaderSize)
	encodeHeader(buf, Header{Length: HeaderSize, Type: tag_, Timestamp: ts})
	return buf
}

// --- Checkpoint (CP): header-only, timestamp is the checkpoint mark. ---

type CheckpointRecord struct{ Timestamp primitives.Timestamp }

func (r CheckpointRecord) Tag() Tag                     { return TagCheckpoint }
func (r CheckpointRecord) Ts() primitives.Timestamp { return r.Timestamp }

func encodeCheckpoint(r CheckpointRecord) []byte {
	return encodeMarker(TagCheckpoint, r.Timestamp)
}

// --- Store (SR) ---

type StoreRecord struct {
	Timestamp  primitives.Timestamp
	TreeHandle primitives.TreeHandle
	Key        []byte
	Value      []byte
}

func (r StoreRecord) Tag() Tag                     { return TagStore }
func (r StoreRecord) Ts() primitives.Timestamp { return r.Timestamp }

// srOverhead is the fixed-size portion of an SR record after the header:
// treeHandle(4) + keySize(2).
const srOverhead = 4 + 2

func encodeStore(r StoreRecord) []byte {
	length := HeaderSize + srOverhead + len(r.Key) + len(r.Value)
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: TagStore, Timestamp: r.Timestamp})
	binary.LittleEndian.PutUint32(buf[14:18], uint32(r.TreeHandle))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(len(r.Key)))
	copy(buf[20:20+len(r.Key)], r.Key)
	copy(buf[20+len(r.Key):], r.Value)
	return buf
}

func decodeStore(h Header, body []byte, offset int64) (StoreRecord, error) {
	if len(body) < srOverhead {
		return StoreRecord{}, dberror.NewCorruptRecord("SR body too short", offset)
	}
	treeHandle := primitives.TreeHandle(binary.LittleEndian.Uint32(body[0:4]))
	keySize := int(binary.LittleEndian.Uint16(body[4:6]))
	if len(body) < srOverhead+keySize {
		return StoreRecord{}, dberror.NewCorruptRecord("SR key truncated", offset)
	}
	key := append([]byte(nil), body[srOverhead:srOverhead+keySize]...)
	value := append([]byte(nil), body[srOverhead+keySize:]...)
	return StoreRecord{Timestamp: h.Timestamp, TreeHandle: treeHandle, Key: key, Value: value}, nil
}

// --- RangeDelete (DR) ---

type RangeDeleteRecord struct {
	Timestamp    primitives.Timestamp
	TreeHandle   primitives.TreeHandle
	Key1         []byte
	ElisionCount int
	Key2Suffix   []byte
}

func (r RangeDeleteRecord) Tag() Tag                     { return TagRangeDelete }
func (r RangeDeleteRecord) Ts() primitives.Timestamp { return r.Timestamp }

// drOverhead is the fixed-size portion of a DR record after the header:
// treeHandle(4) + key1Size(2) + elisionCount(2).
const drOverhead = 4 + 2 + 2

func encodeRangeDelete(r RangeDeleteRecord) []byte {
	length := HeaderSize + drOverhead + len(r.Key1) + len(r.Key2Suffix)
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: TagRangeDelete, Timestamp: r.Timestamp})
	binary.LittleEndian.PutUint32(buf[14:18], uint32(r.TreeHandle))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(len(r.Key1)))
	binary.LittleEndian.PutUint16(buf[20:22], uint16(r.ElisionCount))
	copy(buf[22:22+len(r.Key1)], r.Key1)
	copy(buf[22+len(r.Key1):], r.Key2Suffix)
	return buf
}

func decodeRangeDelete(h Header, body []byte, offset int64) (RangeDeleteRecord, error) {
	if len(body) < drOverhead {
		return RangeDeleteRecord{}, dberror.NewCorruptRecord("DR body too short", offset)
	}
	treeHandle := primitives.TreeHandle(binary.LittleEndian.Uint32(body[0:4]))
	key1Size := int(binary.LittleEndian.Uint16(body[4:6]))
	elisionCount := int(binary.LittleEndian.Uint16(body[6:8]))
	if len(body) < drOverhead+key1Size {
		return RangeDeleteRecord{}, dberror.NewCorruptRecord("DR key1 truncated", offset)
	}
	key1 := append([]byte(nil), body[drOverhead:drOverhead+key1Size]...)
	suffix := append([]byte(nil), body[drOverhead+key1Size:]...)
	return RangeDeleteRecord{
		Timestamp: h.Timestamp, TreeHandle: treeHandle,
		Key1: key1, ElisionCount: elisionCount, Key2Suffix: suffix,
	}, nil
}

// --- TreeDelete (DT) ---

type TreeDeleteRecord struct {
	Timestamp  primitives.Timestamp
	TreeHandle primitives.TreeHandle
}

func (r TreeDeleteRecord) Tag() Tag                     { return TagTreeDelete }
func (r TreeDeleteRecord) Ts() primitives.Timestamp { return r.Timestamp }

func encodeTreeDelete(r TreeDeleteRecord) []byte {
	length := HeaderSize + 4
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: TagTreeDelete, Timestamp: r.Timestamp})
	binary.LittleEndian.PutUint32(buf[14:18], uint32(r.TreeHandle))
	return buf
}

func decodeTreeDelete(h Header, body []byte, offset int64) (TreeDeleteRecord, error) {
	if len(body) < 4 {
		return TreeDeleteRecord{}, dberror.NewCorruptRecord("DT body too short", offset)
	}
	return TreeDeleteRecord{Timestamp: h.Timestamp, TreeHandle: primitives.TreeHandle(binary.LittleEndian.Uint32(body[0:4]))}, nil
}

// --- AccumulatorDelta (D0/D1) ---

// AccumulatorDeltaRecord represents both D0 (implied delta of 1, no
// explicit value) and D1 (explicit signed delta) wire forms, discriminated
// by HasValue.
type AccumulatorDeltaRecord struct {
	Timestamp       primitives.Timestamp
	TreeHandle      primitives.TreeHandle
	Index           uint32
	AccumulatorType uint8
	HasValue        bool
	Value           int64
}

func (r AccumulatorDeltaRecord) Tag() Tag {
	if r.HasValue {
		return TagAccumulatorDelta
	}
	return TagAccumulatorZero
}
func (r AccumulatorDeltaRecord) Ts() primitives.Timestamp { return r.Timestamp }

func encodeAccumulatorDelta(r AccumulatorDeltaRecord) []byte {
	bodyLen := 4 + 1 + 4
	if r.HasValue {
		bodyLen += 8
	}
	length := HeaderSize + bodyLen
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: r.Tag(), Timestamp: r.Timestamp})
	binary.LittleEndian.PutUint32(buf[14:18], uint32(r.TreeHandle))
	buf[18] = r.AccumulatorType
	binary.LittleEndian.PutUint32(buf[19:23], r.Index)
	if r.HasValue {
		binary.LittleEndian.PutUint64(buf[23:31], uint64(r.Value))
	}
	return buf
}

func decodeAccumulatorDelta(h Header, body []byte, offset int64) (AccumulatorDeltaRecord, error) {
	if len(body) < 4+1+4 {
		return AccumulatorDeltaRecord{}, dberror.NewCorruptRecord("D0/D1 body too short", offset)
	}
	treeHandle := primitives.TreeHandle(binary.LittleEndian.Uint32(body[0:4]))
	accType := body[4]
	index := binary.LittleEndian.Uint32(body[5:9])
	rec := AccumulatorDeltaRecord{
		Timestamp: h.Timestamp, TreeHandle: treeHandle, AccumulatorType: accType, Index: index,
	}
	if h.Type == TagAccumulatorDelta {
		if len(body) < 9+8 {
			return AccumulatorDeltaRecord{}, dberror.NewCorruptRecord("D1 value truncated", offset)
		}
		rec.HasValue = true
		rec.Value = int64(binary.LittleEndian.Uint64(body[9:17]))
	}
	return rec, nil
}

// --- TxContainer (TX) ---

type TxContainerRecord struct {
	StartTs       primitives.Timestamp
	CommitTs      primitives.Timestamp
	BackchainAddr primitives.Address
	Payload       []byte // concatenated, fully-framed SR/DR/DT/D0/D1 records
}

func (r TxContainerRecord) Tag() Tag                     { return TagTxContainer }
func (r TxContainerRecord) Ts() primitives.Timestamp { return r.StartTs }

// txOverhead is the fixed-size portion of a TX record after the header:
// commitTs(8) + backchainAddr(8).
const txOverhead = 8 + 8

func encodeTxContainer(r TxContainerRecord) []byte {
	length := HeaderSize + txOverhead + len(r.Payload)
	buf := make([]byte, length)
	encodeHeader(buf, Header{Length: uint32(length), Type: TagTxContainer, Timestamp: r.StartTs})
	binary.LittleEndian.PutUint64(buf[14:22], uint64(r.CommitTs))
	binary.LittleEndian.PutUint64(buf[22:30], uint64(r.BackchainAddr))
	copy(buf[30:], r.Payload)
	return buf
}

func decodeTxContainer(h Header, body []byte, offset int64) (TxContainerRecord, error) {
	if len(body) < txOverhead {
		return TxContainerRecord{}, dberror.NewCorruptRecord("TX body too short", offset)
	}
	commitTs := primitives.Timestamp(binary.LittleEndian.Uint64(body[0:8]))
	backchain := primitives.Address(binary.LittleEndian.Uint64(body[8:16]))
	payload := append([]byte(nil), body[txOverhead:]...)
	return TxContainerRecord{
		StartTs: h.Timestamp, CommitTs: commitTs, BackchainAddr: backchain, Payload: payload,
	}, nil
}

// Encode serializes r to its exact on-disk byte form.
func Encode(r Record) ([]byte, error) {
	switch v := r.(type) {
	case InstallVolumeRecord:
		return encodeInstallVolume(v), nil
	case InstallTreeRecord:
		return encodeInstallTree(v), nil
	case PageImageRecord:
		return encodePageImage(v), nil
	case TxStartRecord:
		return encodeMarker(TagTxStart, v.StartTs), nil
	case TxCommitRecord:
		return encodeMarker(TagTxCommit, v.StartTs), nil
	case TxRollbackRecord:
		return encodeMarker(TagTxRollback, v.StartTs), nil
	case TxJoinRecord:
		return encodeMarker(TagTxJoin, v.StartTs), nil
	case CheckpointRecord:
		return encodeCheckpoint(v), nil
	case StoreRecord:
		return encodeStore(v), nil
	case RangeDeleteRecord:
		return encodeRangeDelete(v), nil
	case TreeDeleteRecord:
		return encodeTreeDelete(v), nil
	case AccumulatorDeltaRecord:
		return encodeAccumulatorDelta(v), nil
	case TxContainerRecord:
		return encodeTxContainer(v), nil
	default:
		return nil, dberror.New(dberror.KindCorruptRecord, "unknown record type for encoding")
	}
}

// Decode parses one full record (header + body) from buf, which must
// contain at least the record's full Length bytes starting at offset 0.
// offset is the record's journal address, used only for error context.
func Decode(buf []byte, offset int64) (Record, error) {
	h, err := decodeHeader(buf, offset)
	if err != nil {
		return nil, err
	}
	if uint32(len(buf)) < h.Length {
		return nil, dberror.NewCorruptRecord("record truncated", offset)
	}
	body := buf[HeaderSize:h.Length]

	switch h.Type {
	case TagInstallVolume:
		return decodeInstallVolume(h, body, offset)
	case TagInstallTree:
		return decodeInstallTree(h, body, offset)
	case TagPageImage:
		return decodePageImage(h, body, offset)
	case TagTxStart:
		return TxStartRecord{StartTs: h.Timestamp}, nil
	case TagTxCommit:
		return TxCommitRecord{StartTs: h.Timestamp}, nil
	case TagTxRollback:
		return TxRollbackRecord{StartTs: h.Timestamp}, nil
	case TagTxJoin:
		return TxJoinRecord{StartTs: h.Timestamp}, nil
	case TagCheckpoint:
		return CheckpointRecord{Timestamp: h.Timestamp}, nil
	case TagStore:
		return decodeStore(h, body, offset)
	case TagRangeDelete:
		return decodeRangeDelete(h, body, offset)
	case TagTreeDelete:
		return decodeTreeDelete(h, body, offset)
	case TagAccumulatorZero, TagAccumulatorDelta:
		return decodeAccumulatorDelta(h, body, offset)
	case TagTxContainer:
		return decodeTxContainer(h, body, offset)
	default:
		return nil, dberror.NewCorruptRecord("unknown record type "+h.Type.String(), offset)
	}
}

// PeekLength reads just the 4-byte length prefix, for callers that need to
// size a read buffer before decoding the full record.
func PeekLength(prefix []byte) (uint32, error) {
	if len(prefix) < 4 {
		return 0, dberror.New(dberror.KindCorruptRecord, "too few bytes to read record length")
	}
	return binary.LittleEndian.Uint32(prefix[0:4]), nil
}

// PeekHeader decodes just the header, for callers scanning forward without
// needing the body yet.
func PeekHeader(buf []byte, offset int64) (Header, error) {
	return decodeHeader(buf, offset)
}
