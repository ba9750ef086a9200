package bytecode

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/standardbeagle/cstcache/internal/bitvec"
	cerrors "github.com/standardbeagle/cstcache/internal/errors"
)

// Wire layout (§6.3), all integers little-endian:
//
//	magic            [4]byte "CSTB"
//	version          uint32
//	header_len       uint32  (bytes after this field up to, not including, crc32)
//	node_count       uvarint
//	kind_table       uvarint count, then each: uvarint len + bytes
//	field_table      uvarint count, then each: uvarint len + bytes
//	jump_table       uvarint count, then each: uint32
//	checkpoint_table uvarint count, then each: uvarint node_index + uvarint absolute_start
//	opcodes_len      uvarint
//	opcodes          [opcodes_len]byte
//	crc32            uint32 (over every preceding byte)

// Marshal serializes s into its on-disk wire form.
func Marshal(s *Stream) []byte {
	var body []byte
	body = bitvec.AppendUvarint(body, s.NodeCount)
	body = appendStringTable(body, s.KindTable)
	body = appendStringTable(body, s.FieldTable)

	body = bitvec.AppendUvarint(body, uint64(len(s.JumpTable)))
	for _, off := range s.JumpTable {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], off)
		body = append(body, tmp[:]...)
	}

	body = bitvec.AppendUvarint(body, uint64(len(s.Checkpoints)))
	for _, cp := range s.Checkpoints {
		body = bitvec.AppendUvarint(body, cp.NodeIndex)
		body = bitvec.AppendUvarint(body, cp.AbsoluteStart)
	}

	body = bitvec.AppendUvarint(body, uint64(len(s.Opcodes)))
	body = append(body, s.Opcodes...)

	out := make([]byte, 0, preambleLength+len(body)+4)
	out = append(out, Magic...)
	var verBuf, lenBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], s.Version)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, verBuf[:]...)
	out = append(out, lenBuf[:]...)
	out = append(out, body...)

	sum := crc32.ChecksumIEEE(out)
	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], sum)
	out = append(out, sumBuf[:]...)
	return out
}

// Unmarshal parses the wire form written by Marshal, returning the decoded
// Stream. path is used only to annotate error messages.
func Unmarshal(path string, data []byte) (*Stream, error) {
	if len(data) < preambleLength+4 {
		return nil, cerrors.NewCorruptBytecodeError(0, 0, "truncated bytecode header", nil)
	}
	if string(data[:4]) != Magic {
		return nil, cerrors.NewVersionUnsupportedError(Magic, path, 0, FormatVersion)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != FormatVersion {
		return nil, cerrors.NewVersionUnsupportedError(Magic, path, version, FormatVersion)
	}
	headerLen := binary.LittleEndian.Uint32(data[8:12])

	wantLen := preambleLength + int(headerLen) + 4
	if len(data) != wantLen {
		return nil, cerrors.NewCorruptBytecodeError(0, len(data), "length mismatch against header_len", nil)
	}

	gotSum := binary.LittleEndian.Uint32(data[len(data)-4:])
	wantSum := crc32.ChecksumIEEE(data[:len(data)-4])
	if gotSum != wantSum {
		return nil, cerrors.NewCorruptBytecodeError(0, len(data)-4, "crc32 mismatch", nil)
	}

	body := data[preambleLength : len(data)-4]
	pos := 0

	nodeCount, n := bitvec.Uvarint(body[pos:])
	if n == 0 {
		return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated node_count", nil)
	}
	pos += n

	kinds, n, err := readStringTable(body, pos)
	if err != nil {
		return nil, err
	}
	pos += n

	fields, n, err := readStringTable(body, pos)
	if err != nil {
		return nil, err
	}
	pos += n

	jumpCount, n := bitvec.Uvarint(body[pos:])
	if n == 0 {
		return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated jump table count", nil)
	}
	pos += n
	jump := make([]uint32, 0, jumpCount)
	for i := uint64(0); i < jumpCount; i++ {
		if pos+4 > len(body) {
			return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated jump table entry", nil)
		}
		jump = append(jump, binary.LittleEndian.Uint32(body[pos:pos+4]))
		pos += 4
	}

	cpCount, n := bitvec.Uvarint(body[pos:])
	if n == 0 {
		return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated checkpoint table count", nil)
	}
	pos += n
	checks := make([]Checkpoint, 0, cpCount)
	for i := uint64(0); i < cpCount; i++ {
		idx, n := bitvec.Uvarint(body[pos:])
		if n == 0 {
			return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated checkpoint node_index", nil)
		}
		pos += n
		abs, n := bitvec.Uvarint(body[pos:])
		if n == 0 {
			return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated checkpoint absolute_start", nil)
		}
		pos += n
		checks = append(checks, Checkpoint{NodeIndex: idx, AbsoluteStart: abs})
	}

	opLen, n := bitvec.Uvarint(body[pos:])
	if n == 0 {
		return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated opcodes_len", nil)
	}
	pos += n
	if pos+int(opLen) > len(body) {
		return nil, cerrors.NewCorruptBytecodeError(0, pos, "truncated opcode stream", nil)
	}
	opcodes := make([]byte, opLen)
	copy(opcodes, body[pos:pos+int(opLen)])
	pos += int(opLen)

	return &Stream{
		Version:     version,
		NodeCount:   nodeCount,
		KindTable:   kinds,
		FieldTable:  fields,
		JumpTable:   jump,
		Checkpoints: checks,
		Opcodes:     opcodes,
	}, nil
}

func appendStringTable(buf []byte, table []string) []byte {
	buf = bitvec.AppendUvarint(buf, uint64(len(table)))
	for _, s := range table {
		buf = bitvec.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func readStringTable(body []byte, pos int) ([]string, int, error) {
	start := pos
	count, n := bitvec.Uvarint(body[pos:])
	if n == 0 {
		return nil, 0, cerrors.NewCorruptBytecodeError(0, pos, "truncated string table count", nil)
	}
	pos += n
	table := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		l, n := bitvec.Uvarint(body[pos:])
		if n == 0 {
			return nil, 0, cerrors.NewCorruptBytecodeError(0, pos, "truncated string table entry length", nil)
		}
		pos += n
		if pos+int(l) > len(body) {
			return nil, 0, cerrors.NewCorruptBytecodeError(0, pos, "truncated string table entry bytes", nil)
		}
		table = append(table, string(body[pos:pos+int(l)]))
		pos += int(l)
	}
	return table, pos - start, nil
}
