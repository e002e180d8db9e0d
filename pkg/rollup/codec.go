package rollup

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/docvault/storagenode/pkg/types"
)

// Decompress reverses compress, for operator tooling and tests that
// read frames back out of the archive.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// EncodeFrame serializes headers/bodies into a single length-prefixed
// frame of (id, payload, signature) records, in header order (spec
// §4.7 step 4).
func EncodeFrame(headers []types.MutationHeader, bodies []types.MutationBody) ([]byte, error) {
	if len(headers) != len(bodies) {
		return nil, fmt.Errorf("rollup: headers/bodies length mismatch")
	}

	var buf []byte
	var lenBuf [4]byte
	for i, h := range headers {
		b := bodies[i]
		writeRecord := func(data []byte) {
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, data...)
		}
		writeRecord(h.ID.Bytes())
		writeRecord(b.Payload)
		writeRecord(b.Signature)
	}
	return buf, nil
}

// FrameRecord is one decoded (id, payload, signature) entry.
type FrameRecord struct {
	ID        types.MutationID
	Payload   []byte
	Signature []byte
}

// DecodeFrame parses a frame produced by EncodeFrame.
func DecodeFrame(data []byte) ([]FrameRecord, error) {
	var out []FrameRecord
	pos := 0
	readField := func() ([]byte, error) {
		if pos+4 > len(data) {
			return nil, io.ErrUnexpectedEOF
		}
		n := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if pos+int(n) > len(data) {
			return nil, io.ErrUnexpectedEOF
		}
		field := data[pos : pos+int(n)]
		pos += int(n)
		return field, nil
	}

	for pos < len(data) {
		idBytes, err := readField()
		if err != nil {
			return nil, fmt.Errorf("decode rollup frame id: %w", err)
		}
		payload, err := readField()
		if err != nil {
			return nil, fmt.Errorf("decode rollup frame payload: %w", err)
		}
		sig, err := readField()
		if err != nil {
			return nil, fmt.Errorf("decode rollup frame signature: %w", err)
		}
		var id types.MutationID
		copy(id[:], idBytes)
		out = append(out, FrameRecord{ID: id, Payload: payload, Signature: sig})
	}
	return out, nil
}
