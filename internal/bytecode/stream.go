package bytecode

// Checkpoint is a resync marker: an (node_index, absolute_start) pair
// allowing a scan to resume mid-stream without replaying from the start.
type Checkpoint struct {
	NodeIndex     uint64
	AbsoluteStart uint64
}

// Stream is the in-memory form of an encoded bytecode stream: opcodes plus
// the jump table, checkpoint table, and the two per-stream interned string
// tables (kinds, fields).
type Stream struct {
	Version     uint32
	NodeCount   uint64
	KindTable   []string
	FieldTable  []string
	JumpTable   []uint32 // node_index -> byte offset into Opcodes
	Checkpoints []Checkpoint
	Opcodes     []byte
}
