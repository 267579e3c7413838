package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// OpType identifies the state-changing operation a record describes.
// Values are part of the on-disk format; append only, never renumber.
type OpType uint8

const (
	OpBeginTransaction OpType = 1
	OpAddLine          OpType = 2
	OpVoidLine         OpType = 3
	OpUpdateQuantity   OpType = 4
	OpAddTender        OpType = 5
	OpCommit           OpType = 6
	OpAbort            OpType = 7
	OpSuspend          OpType = 8
	OpResume           OpType = 9
	OpTimeout          OpType = 10
	OpVoidSuspended    OpType = 11
)

func (op OpType) String() string {
	switch op {
	case OpBeginTransaction:
		return "BEGIN"
	case OpAddLine:
		return "ADD_LINE"
	case OpVoidLine:
		return "VOID_LINE"
	case OpUpdateQuantity:
		return "UPDATE_QTY"
	case OpAddTender:
		return "ADD_TENDER"
	case OpCommit:
		return "COMMIT"
	case OpAbort:
		return "ABORT"
	case OpSuspend:
		return "SUSPEND"
	case OpResume:
		return "RESUME"
	case OpTimeout:
		return "TIMEOUT"
	case OpVoidSuspended:
		return "VOID_SUSPENDED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(op))
}

// Record is one write-ahead log entry.
type Record struct {
	Sequence       uint64
	TimestampNanos int64
	Handle         uint64
	Op             OpType
	Payload        []byte
}

// On-disk framing, little-endian:
//
//	magic u16 | version u8 | op u8 | seq u64 | timestamp i64 | handle u64 |
//	payloadLen u32 | payload ... | crc32c u32
//
// The checksum covers everything from magic through the last payload byte.
const (
	recordMagic   uint16 = 0x4B50 // "PK"
	formatVersion uint8  = 1

	headerSize  = 2 + 1 + 1 + 8 + 8 + 8 + 4
	trailerSize = 4
	maxPayload  = 1 << 20 // single logical operation; a megabyte is generous
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrCorrupt reports a checksum mismatch, bad framing, or a sequence
	// gap. The log is tamper-evident; any of these means the tail cannot
	// be trusted.
	ErrCorrupt = errors.New("wal corrupt")

	// ErrPayloadTooLarge reports an oversized operation payload.
	ErrPayloadTooLarge = errors.New("wal payload too large")
)

// encode serializes a record into a fresh buffer.
func encode(r Record) ([]byte, error) {
	if len(r.Payload) > maxPayload {
		return nil, fmt.Errorf("%d bytes: %w", len(r.Payload), ErrPayloadTooLarge)
	}

	buf := make([]byte, headerSize+len(r.Payload)+trailerSize)
	binary.LittleEndian.PutUint16(buf[0:2], recordMagic)
	buf[2] = formatVersion
	buf[3] = uint8(r.Op)
	binary.LittleEndian.PutUint64(buf[4:12], r.Sequence)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(r.TimestampNanos))
	binary.LittleEndian.PutUint64(buf[20:28], r.Handle)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(len(r.Payload)))
	copy(buf[headerSize:], r.Payload)

	sum := crc32.Checksum(buf[:headerSize+len(r.Payload)], castagnoli)
	binary.LittleEndian.PutUint32(buf[headerSize+len(r.Payload):], sum)
	return buf, nil
}

// readRecord reads and validates one record. io.EOF at a record boundary
// means a clean end of log; anything else mid-record is corruption.
func readRecord(r io.Reader) (Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("truncated header: %w", ErrCorrupt)
	}

	if binary.LittleEndian.Uint16(header[0:2]) != recordMagic {
		return Record{}, fmt.Errorf("bad magic: %w", ErrCorrupt)
	}
	if header[2] != formatVersion {
		return Record{}, fmt.Errorf("unsupported format version %d: %w", header[2], ErrCorrupt)
	}

	payloadLen := binary.LittleEndian.Uint32(header[28:32])
	if payloadLen > maxPayload {
		return Record{}, fmt.Errorf("payload length %d: %w", payloadLen, ErrCorrupt)
	}

	body := make([]byte, int(payloadLen)+trailerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("truncated record: %w", ErrCorrupt)
	}

	stored := binary.LittleEndian.Uint32(body[payloadLen:])
	sum := crc32.Checksum(header, castagnoli)
	sum = crc32.Update(sum, castagnoli, body[:payloadLen])
	if stored != sum {
		return Record{}, fmt.Errorf("checksum mismatch: %w", ErrCorrupt)
	}

	rec := Record{
		Sequence:       binary.LittleEndian.Uint64(header[4:12]),
		TimestampNanos: int64(binary.LittleEndian.Uint64(header[12:20])),
		Handle:         binary.LittleEndian.Uint64(header[20:28]),
		Op:             OpType(header[3]),
	}
	if payloadLen > 0 {
		rec.Payload = body[:payloadLen:payloadLen]
	}
	return rec, nil
}
