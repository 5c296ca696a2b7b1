package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindValue byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("regioncache: corrupt entry")
	magic4     = [...]byte{'R', 'G', 'N', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is a decoded cache value with its creation metadata.
type Entry struct {
	Created time.Time
	Payload []byte
}

// Encode frames a payload with its creation time:
//
//	magic(4) | ver(1) | kind(1=value) | created(i64 unix nanos, be) | vlen(u32 be) | payload(vlen)
func Encode(created time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindValue)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(created.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode parses a frame produced by Encode. Payload aliases b.
// Trailing bytes are rejected.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindValue {
		return Entry{}, ErrCorrupt
	}

	off := 6

	ns := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}

	return Entry{
		Created: time.Unix(0, ns),
		Payload: b[off : off+vlen],
	}, nil
}
