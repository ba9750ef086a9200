// Package bytecode encodes a CompactTree into a flat opcode stream (a
// preorder walk with a jump table for O(1) node access and periodic
// checkpoints for bounded-distance scans), and decodes/navigates it back.
package bytecode

// Opcode is a single-byte instruction in a bytecode stream.
type Opcode byte

const (
	OpEnter      Opcode = 0x01
	OpExit       Opcode = 0x02
	OpLeaf       Opcode = 0x03
	OpSetPos     Opcode = 0x10
	OpDeltaPos   Opcode = 0x11
	OpField      Opcode = 0x20
	OpRepeatLast Opcode = 0x30
	OpCheckpoint Opcode = 0xF0
	OpEnd        Opcode = 0xFF
)

// Flag bits packed into the flags+field_present byte that follows an Enter
// or Leaf opcode's kind_id varint.
const (
	FlagNamed = 1 << iota
	FlagMissing
	FlagExtra
	FlagError
	FlagHasField
)

// deltaPosThreshold is the |delta_start| cutoff above which the encoder
// falls back from DeltaPos to SetPos (2^20 per spec.md).
const deltaPosThreshold = 1 << 20

// checkpointInterval is the number of nodes between checkpoint-table
// entries (N=1024 per spec.md); the encoder emits no inline Checkpoint opcodes.
const checkpointInterval = 1024

// Magic and format version for the on-disk bytecode stream (§6.3).
const (
	Magic          = "CSTB"
	FormatVersion  = 1
	preambleLength = 4 + 4 + 4 // magic + version + header length
)
