package idcodec

// NodeID identifies a node by its preorder rank within a CompactTree: the
// same index used to look up kind, flags, and byte range in the tree's
// packed arrays.
type NodeID uint64

// EncodeNodeID encodes a NodeID to a base-63 string for CLI/debug output.
func EncodeNodeID(id NodeID) string {
	return Encode(uint64(id))
}

// DecodeNodeID decodes a base-63 string to a NodeID.
func DecodeNodeID(encoded string) (NodeID, error) {
	value, err := Decode(encoded)
	if err != nil {
		return 0, err
	}
	return NodeID(value), nil
}

// MustDecodeNodeID decodes a base-63 string to a NodeID, panicking on error.
// Use only when the input is known to be valid (e.g. round-tripping a value
// this process encoded itself).
func MustDecodeNodeID(encoded string) NodeID {
	id, err := DecodeNodeID(encoded)
	if err != nil {
		panic("idcodec: MustDecodeNodeID: " + err.Error())
	}
	return id
}

// IsValidNodeID checks if a string is a valid base-63 encoded NodeID.
func IsValidNodeID(encoded string) bool {
	return IsValid(encoded)
}
