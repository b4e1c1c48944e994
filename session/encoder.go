package session

import (
	"encoding/binary"
	"errors"
)

// CurrentSchemaVersion is the codec version written by Encode.
const CurrentSchemaVersion = 1

const (
	flagMFAVerified = 1 << 0
)

var (
	// ErrCorruptRecord means the stored blob cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")
	errFieldTooLong  = errors.New("session field too long")
)

// Encode serializes a [Record] into the compact binary form stored in
// Redis. The SecondaryID is the Redis key and is not part of the blob.
func Encode(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, ErrCorruptRecord
	}

	buf := make([]byte, 0, 3+len(rec.PrimaryID)+len(rec.AccountID)+11)
	buf = append(buf, CurrentSchemaVersion)

	var err error
	if buf, err = appendString(buf, rec.PrimaryID); err != nil {
		return nil, err
	}
	if buf, err = appendString(buf, rec.AccountID); err != nil {
		return nil, err
	}

	buf = append(buf, rec.Level, rec.Kind)

	var flags byte
	if rec.MFAVerified {
		flags |= flagMFAVerified
	}
	buf = append(buf, flags)

	buf = binary.BigEndian.AppendUint64(buf, uint64(rec.CreatedAt))

	return buf, nil
}

// Decode parses a blob produced by Encode. The caller fills SecondaryID
// from the key it read.
func Decode(data []byte) (*Record, error) {
	if len(data) < 1 || data[0] != CurrentSchemaVersion {
		return nil, ErrCorruptRecord
	}

	rec := &Record{}
	idx := 1

	var err error
	if rec.PrimaryID, idx, err = readString(data, idx); err != nil {
		return nil, err
	}
	if rec.AccountID, idx, err = readString(data, idx); err != nil {
		return nil, err
	}

	if len(data) < idx+11 {
		return nil, ErrCorruptRecord
	}
	rec.Level = data[idx]
	rec.Kind = data[idx+1]
	rec.MFAVerified = data[idx+2]&flagMFAVerified != 0
	rec.CreatedAt = int64(binary.BigEndian.Uint64(data[idx+3:]))

	return rec, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, errFieldTooLong
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...), nil
}

func readString(data []byte, idx int) (string, int, error) {
	if len(data) < idx+1 {
		return "", 0, ErrCorruptRecord
	}
	n := int(data[idx])
	idx++
	if len(data) < idx+n {
		return "", 0, ErrCorruptRecord
	}
	return string(data[idx : idx+n]), idx + n, nil
}
