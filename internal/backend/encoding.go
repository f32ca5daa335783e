package backend

import (
	"encoding/binary"
	"fmt"

	"github.com/Azure/azsecret/internal/record"
)

// Encode serializes a record into a compact, non-hand-readable binary
// layout: four length-prefixed fields in a fixed order. Used by
// backends (embedded_kv) that store opaque byte blobs rather than
// typed columns.
func Encode(rec *record.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("backend: cannot encode nil record")
	}
	handle := []byte(rec.KeyHandle)
	size := 4*4 + len(rec.Ciphertext) + len(rec.IV) + len(rec.AAD) + len(handle)
	buf := make([]byte, 0, size)
	buf = appendField(buf, rec.Ciphertext)
	buf = appendField(buf, rec.IV)
	buf = appendField(buf, rec.AAD)
	buf = appendField(buf, handle)
	return buf, nil
}

// Decode is the inverse of Encode. It returns a *Error with
// ErrRawData on any malformed input.
func Decode(data []byte) (*record.Record, error) {
	rec := &record.Record{}
	rest := data

	ciphertext, rest, err := readField(rest)
	if err != nil {
		return nil, newErr(ErrRawData, "decode ciphertext", err)
	}
	iv, rest, err := readField(rest)
	if err != nil {
		return nil, newErr(ErrRawData, "decode iv", err)
	}
	aad, rest, err := readField(rest)
	if err != nil {
		return nil, newErr(ErrRawData, "decode aad", err)
	}
	handle, rest, err := readField(rest)
	if err != nil {
		return nil, newErr(ErrRawData, "decode key_handle", err)
	}
	if len(rest) != 0 {
		return nil, newErr(ErrRawData, "decode", fmt.Errorf("%d trailing bytes", len(rest)))
	}

	rec.Ciphertext = ciphertext
	rec.IV = iv
	rec.AAD = aad
	rec.KeyHandle = string(handle)

	if !rec.Valid() {
		return nil, newErr(ErrRawData, "decode", fmt.Errorf("record missing required field"))
	}
	return rec, nil
}

func appendField(buf []byte, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, field...)
	return buf
}

func readField(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("truncated field body")
	}
	field = data[:n]
	if field == nil {
		field = []byte{}
	}
	rest = data[n:]
	return field, rest, nil
}
