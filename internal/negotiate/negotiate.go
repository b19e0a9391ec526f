// Package negotiate implements the pre-handoff record exchange
// original_source/main.c's negotiate() runs over the raw TCP connection
// before any CB is started, letting a driver such as cb-replay push a
// PRNG seed or declare its identity instead of relying on -s/-S flags.
// Record framing is grounded on
// original_source/tools/service-launcher/sockets.c's read_uint32_t,
// read_buffer, and send_all — all of which move raw native-endian
// uint32 values with no network-byte-order conversion, a quirk of the
// original only ever running on little-endian x86 hosts that this
// package preserves rather than "fixing".
package negotiate

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RecordType identifies one negotiation record's payload interpretation.
type RecordType uint32

const (
	RecordTypeSeed             RecordType = 1
	RecordTypeSourceIdentifier RecordType = 2
	RecordTypeHash             RecordType = 4
)

// Result is everything negotiate() can produce: a seed the caller should
// prefer over -s/-S, plus the identifying records collected along the
// way for logging.
type Result struct {
	Seed              []byte
	SourceIdentifiers [][]byte
	Hashes            [][]byte
}

// Negotiate reads the record_count-prefixed record stream and replies
// with a single little-endian uint32 ack (the original's `done = 1`),
// the direct translation of negotiate(). Negotiate always runs the
// exchange; callers gate the call on the configured flag themselves,
// same as negotiate_flag does in the original.
func Negotiate(conn io.ReadWriter) (Result, error) {
	var result Result

	recordCount, err := readUint32(conn)
	if err != nil {
		return result, fmt.Errorf("read record count: %w", err)
	}

	for i := uint32(0); i < recordCount; i++ {
		recordType, err := readUint32(conn)
		if err != nil {
			return result, fmt.Errorf("read record %d type: %w", i, err)
		}

		recordSize, err := readUint32(conn)
		if err != nil {
			return result, fmt.Errorf("read record %d size: %w", i, err)
		}

		payload := make([]byte, recordSize)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return result, fmt.Errorf("read record %d payload: %w", i, err)
		}

		switch RecordType(recordType) {
		case RecordTypeSeed:
			result.Seed = payload
		case RecordTypeSourceIdentifier:
			result.SourceIdentifiers = append(result.SourceIdentifiers, payload)
		case RecordTypeHash:
			result.Hashes = append(result.Hashes, payload)
		default:
			return result, fmt.Errorf("unsupported record type %d", recordType)
		}
	}

	var done [4]byte
	binary.LittleEndian.PutUint32(done[:], 1)
	if _, err := conn.Write(done[:]); err != nil {
		return result, fmt.Errorf("send negotiation ack: %w", err)
	}

	return result, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
