package tinybase

import "encoding/binary"

// RecordId is the 64-bit unsigned primary key assigned to a record on
// insert. Ids are serialized as fixed-width big-endian so that byte order
// matches numeric order, and are never reused within a table's lifetime.
// 0 is reserved to mean "no id".
type RecordId uint64

// counterKey is the reserved key, inside a table's primary tree, holding
// the next RecordId to allocate.
const counterKey = "__counter__"

func encodeRecordId(id RecordId) []byte {
	return appendFixedUint64(nil, uint64(id))
}

func decodeRecordId(b []byte) (RecordId, error) {
	if len(b) != 8 {
		return 0, dataErrf(b, 0, nil, "invalid record id length %d", len(b))
	}
	return RecordId(binary.BigEndian.Uint64(b)), nil
}

func encodeCounter(next uint64) []byte {
	return appendFixedUint64(nil, next)
}

func decodeCounter(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, dataErrf(b, 0, nil, "invalid counter length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// isRecordKey reports whether a raw primary-tree key is a RecordId entry
// as opposed to the reserved counter key.
func isRecordKey(k []byte) bool {
	return len(k) == 8
}
