package taplog

import (
	"encoding/binary"
	"hash/crc32"
)

// Frame encoding: varint idLen | capturedAt ms (be8) | eventID | data | crc32c(body)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeFrame serializes one captured event. capturedAt is unix milliseconds.
func EncodeFrame(capturedAt int64, eventID string, data []byte) []byte {
	out := make([]byte, 0, 10+8+len(eventID)+len(data)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(eventID)))
	out = append(out, tmp[:n]...)
	out = binary.BigEndian.AppendUint64(out, uint64(capturedAt))
	out = append(out, eventID...)
	out = append(out, data...)

	crc := crc32.Update(0, castagnoli, out)
	out = binary.BigEndian.AppendUint32(out, crc)
	return out
}

// Frame is one decoded capture-log entry.
type Frame struct {
	Seq        uint64
	CapturedAt int64
	EventID    string
	Data       []byte
}

// DecodeFrame parses a stored value. Returns false on truncation or a
// checksum mismatch; callers skip such entries.
func DecodeFrame(b []byte) (Frame, bool) {
	if len(b) < 1+8+4 {
		return Frame{}, false
	}
	idLen, n := binary.Uvarint(b)
	if n <= 0 {
		return Frame{}, false
	}
	body := b[:len(b)-4]
	if n+8+int(idLen) > len(body) {
		return Frame{}, false
	}
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(body, castagnoli) != expect {
		return Frame{}, false
	}
	capturedAt := int64(binary.BigEndian.Uint64(body[n : n+8]))
	id := string(body[n+8 : n+8+int(idLen)])
	data := append([]byte(nil), body[n+8+int(idLen):]...)
	return Frame{CapturedAt: capturedAt, EventID: id, Data: data}, true
}
