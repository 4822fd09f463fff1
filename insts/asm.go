package insts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// DefaultOrigin is the address assembly starts at when no .org is given.
const DefaultOrigin = 0x1000

// Segment is a contiguous range of initialized memory.
type Segment struct {
	Addr     uint64
	Data     []byte
	Writable bool
}

// Program is an assembled memory image.
type Program struct {
	Entry      uint64
	TrapVector uint64
	Segments   []Segment
	Symbols    map[string]uint64
}

// Assemble translates assembly text into a program image.
//
// Syntax: one statement per line, "label:" definitions, '#' comments, and
// the directives .text, .data, .org ADDR, .align N, .word V, .dword V,
// .space N, .entry LABEL and .trap LABEL. Besides the machine mnemonics the
// pseudo-instructions li, la, mv, j, call and ret are accepted.
func Assemble(src string) (*Program, error) {
	a := &assembler{symbols: map[string]uint64{}}
	if err := a.parse(src); err != nil {
		return nil, err
	}
	if err := a.layout(); err != nil {
		return nil, err
	}
	return a.emit()
}

// MustAssemble is like Assemble but panics on error.
func MustAssemble(src string) *Program {
	p, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return p
}

type stmtKind uint8

const (
	stmtInst stmtKind = iota
	stmtWord
	stmtDword
	stmtSpace
	stmtOrg
	stmtAlign
	stmtSection
)

type stmt struct {
	line     int
	kind     stmtKind
	mnemonic string
	args     []string
	writable bool

	addr uint64
	size uint64
}

type assembler struct {
	stmts   []*stmt
	labels  []labelDef
	symbols map[string]uint64

	entryLabel string
	trapLabel  string
}

type labelDef struct {
	name string
	// index of the statement the label precedes
	stmt int
	line int
}

func (a *assembler) parse(src string) error {
	scanner := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)

		for {
			i := strings.IndexByte(line, ':')
			if i < 0 || strings.ContainsAny(line[:i], " \t,(") {
				break
			}
			a.labels = append(a.labels,
				labelDef{name: line[:i], stmt: len(a.stmts), line: lineNo})
			line = strings.TrimSpace(line[i+1:])
		}

		if line == "" {
			continue
		}

		if err := a.parseStatement(lineNo, line); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func (a *assembler) parseStatement(lineNo int, line string) error {
	mnemonic, rest, _ := strings.Cut(line, " ")
	mnemonic = strings.ToLower(strings.TrimSpace(mnemonic))
	args := splitArgs(rest)
	s := &stmt{line: lineNo, mnemonic: mnemonic, args: args}

	switch mnemonic {
	case ".text", ".data":
		s.kind = stmtSection
		s.writable = mnemonic == ".data"
	case ".org":
		s.kind = stmtOrg
	case ".align":
		s.kind = stmtAlign
	case ".word":
		s.kind = stmtWord
	case ".dword":
		s.kind = stmtDword
	case ".space":
		s.kind = stmtSpace
	case ".entry", ".trap":
		if len(args) != 1 {
			return fmt.Errorf("line %d: %s takes one label", lineNo, mnemonic)
		}
		if mnemonic == ".entry" {
			a.entryLabel = args[0]
		} else {
			a.trapLabel = args[0]
		}
		return nil
	default:
		if strings.HasPrefix(mnemonic, ".") {
			return fmt.Errorf("line %d: unknown directive %s", lineNo, mnemonic)
		}
		s.kind = stmtInst
	}

	a.stmts = append(a.stmts, s)
	return nil
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// layout assigns addresses to statements and labels.
func (a *assembler) layout() error {
	pc := uint64(DefaultOrigin)
	writable := false

	for _, s := range a.stmts {
		if s.kind == stmtSection {
			writable = s.writable
		}
		s.writable = writable

		switch s.kind {
		case stmtOrg:
			v, err := a.number(s, 0)
			if err != nil {
				return err
			}
			pc = uint64(v)
		case stmtAlign:
			v, err := a.number(s, 0)
			if err != nil {
				return err
			}
			if v <= 0 || v&(v-1) != 0 {
				return fmt.Errorf("line %d: alignment must be a power of two", s.line)
			}
			pc = (pc + uint64(v) - 1) &^ (uint64(v) - 1)
		case stmtWord:
			s.size = 4 * uint64(len(s.args))
		case stmtDword:
			s.size = 8 * uint64(len(s.args))
		case stmtSpace:
			v, err := a.number(s, 0)
			if err != nil {
				return err
			}
			s.size = uint64(v)
		case stmtInst:
			n, err := a.instCount(s)
			if err != nil {
				return err
			}
			s.size = 4 * uint64(n)
		}

		s.addr = pc
		pc += s.size
	}

	for _, l := range a.labels {
		if _, dup := a.symbols[l.name]; dup {
			return fmt.Errorf("line %d: duplicate label %s", l.line, l.name)
		}
		if l.stmt < len(a.stmts) {
			a.symbols[l.name] = a.stmts[l.stmt].addr
		} else {
			a.symbols[l.name] = pc
		}
	}

	return nil
}

func (a *assembler) instCount(s *stmt) (int, error) {
	switch s.mnemonic {
	case "la":
		return 2, nil
	case "li":
		if len(s.args) != 2 {
			return 0, fmt.Errorf("line %d: li takes two operands", s.line)
		}
		v, err := parseInt(s.args[1])
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", s.line, err)
		}
		if v >= -(1<<15) && v < 1<<15 {
			return 1, nil
		}
		return 2, nil
	default:
		return 1, nil
	}
}

func (a *assembler) emit() (*Program, error) {
	prog := &Program{Symbols: a.symbols}
	var cur *Segment

	appendBytes := func(s *stmt, b []byte) {
		if cur == nil || cur.Writable != s.writable ||
			cur.Addr+uint64(len(cur.Data)) != s.addr {
			prog.Segments = append(prog.Segments,
				Segment{Addr: s.addr, Writable: s.writable})
			cur = &prog.Segments[len(prog.Segments)-1]
		}
		cur.Data = append(cur.Data, b...)
	}

	for _, s := range a.stmts {
		var buf []byte

		switch s.kind {
		case stmtInst:
			words, err := a.encodeStmt(s)
			if err != nil {
				return nil, err
			}
			for _, w := range words {
				buf = binary.LittleEndian.AppendUint32(buf, w)
			}
		case stmtWord:
			for i := range s.args {
				v, err := a.value(s, i)
				if err != nil {
					return nil, err
				}
				buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
			}
		case stmtDword:
			for i := range s.args {
				v, err := a.value(s, i)
				if err != nil {
					return nil, err
				}
				buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
			}
		case stmtSpace:
			buf = make([]byte, s.size)
		default:
			continue
		}

		appendBytes(s, buf)
	}

	if a.entryLabel != "" {
		addr, ok := a.symbols[a.entryLabel]
		if !ok {
			return nil, fmt.Errorf("undefined entry label %s", a.entryLabel)
		}
		prog.Entry = addr
	} else if addr, ok := a.symbols["_start"]; ok {
		prog.Entry = addr
	} else {
		prog.Entry = DefaultOrigin
		for _, s := range a.stmts {
			if s.kind == stmtInst {
				prog.Entry = s.addr
				break
			}
		}
	}

	if a.trapLabel != "" {
		addr, ok := a.symbols[a.trapLabel]
		if !ok {
			return nil, fmt.Errorf("undefined trap label %s", a.trapLabel)
		}
		prog.TrapVector = addr
	}

	return prog, nil
}

func (a *assembler) encodeStmt(s *stmt) ([]uint32, error) {
	words, err := a.encodeInst(s)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", s.line, err)
	}
	return words, nil
}

func (a *assembler) encodeInst(s *stmt) ([]uint32, error) {
	switch s.mnemonic {
	case "li", "la":
		return a.encodeLoadImm(s)
	case "mv":
		if err := wantArgs(s, 2); err != nil {
			return nil, err
		}
		rd, err1 := parseReg(s.args[0], false)
		rs, err2 := parseReg(s.args[1], false)
		if err := firstErr(err1, err2); err != nil {
			return nil, err
		}
		return []uint32{R(OpADD, rd, rs, 0)}, nil
	case "j":
		if err := wantArgs(s, 1); err != nil {
			return nil, err
		}
		off, err := a.offset(s, s.args[0])
		if err != nil {
			return nil, err
		}
		return a.encode(&Instruction{Op: OpJAL, Imm: off})
	case "call":
		if err := wantArgs(s, 1); err != nil {
			return nil, err
		}
		off, err := a.offset(s, s.args[0])
		if err != nil {
			return nil, err
		}
		return a.encode(&Instruction{Op: OpJAL, Rd: LinkReg, Imm: off})
	case "ret":
		return a.encode(&Instruction{Op: OpJALR, Rs1: LinkReg})
	}

	op, ok := LookupOp(s.mnemonic)
	if !ok {
		return nil, fmt.Errorf("unknown mnemonic %s", s.mnemonic)
	}

	info := op.info()
	inst := &Instruction{Op: op}
	var err error

	switch info.format {
	case FormatNone:
		err = wantArgs(s, 0)
	case FormatR:
		err = a.parseR(s, inst, info)
	case FormatI:
		err = a.parseI(s, inst, info)
	case FormatU:
		err = a.parseU(s, inst, info)
	case FormatLoad, FormatStore:
		err = a.parseMem(s, inst, info)
	case FormatBranch:
		err = a.parseBranch(s, inst, info)
	case FormatJump:
		err = a.parseJump(s, inst)
	case FormatJumpReg:
		err = a.parseI(s, inst, info)
	case FormatR1:
		err = a.parseR1(s, inst, info)
	}
	if err != nil {
		return nil, err
	}

	return a.encode(inst)
}

func (a *assembler) encode(inst *Instruction) ([]uint32, error) {
	w, err := Encode(inst)
	if err != nil {
		return nil, err
	}
	return []uint32{w}, nil
}

func (a *assembler) encodeLoadImm(s *stmt) ([]uint32, error) {
	if err := wantArgs(s, 2); err != nil {
		return nil, err
	}
	rd, err := parseReg(s.args[0], false)
	if err != nil {
		return nil, err
	}

	var v int64
	if s.mnemonic == "la" {
		addr, ok := a.symbols[s.args[1]]
		if !ok {
			return nil, fmt.Errorf("undefined label %s", s.args[1])
		}
		v = int64(addr)
	} else {
		v, err = parseInt(s.args[1])
		if err != nil {
			return nil, err
		}
	}

	if v < -(1<<31) || v >= 1<<31 {
		return nil, fmt.Errorf("constant %d does not fit in 32 bits", v)
	}

	if s.size == 4 {
		return []uint32{I(OpADDI, rd, 0, v)}, nil
	}

	hi := int64(int16(uint32(v) >> 16))
	lo := int64(int16(uint16(v)))
	return []uint32{
		MustEncode(&Instruction{Op: OpLUI, Rd: rd, Imm: hi}),
		I(OpORI, rd, rd, lo),
	}, nil
}

func (a *assembler) parseR(s *stmt, inst *Instruction, info *opInfo) error {
	if err := wantArgs(s, 3); err != nil {
		return err
	}
	var err1, err2, err3 error
	inst.Rd, err1 = parseReg(s.args[0], info.dstF)
	inst.Rs1, err2 = parseReg(s.args[1], info.src1F)
	inst.Rs2, err3 = parseReg(s.args[2], info.src2F)
	return firstErr(err1, err2, err3)
}

func (a *assembler) parseR1(s *stmt, inst *Instruction, info *opInfo) error {
	if err := wantArgs(s, 2); err != nil {
		return err
	}
	var err1, err2 error
	inst.Rd, err1 = parseReg(s.args[0], info.dstF)
	inst.Rs1, err2 = parseReg(s.args[1], info.src1F)
	return firstErr(err1, err2)
}

func (a *assembler) parseI(s *stmt, inst *Instruction, info *opInfo) error {
	if err := wantArgs(s, 3); err != nil {
		return err
	}
	var err1, err2, err3 error
	inst.Rd, err1 = parseReg(s.args[0], info.dstF)
	inst.Rs1, err2 = parseReg(s.args[1], info.src1F)
	inst.Imm, err3 = a.immediate(s, s.args[2], logicalImm(inst.Op))
	return firstErr(err1, err2, err3)
}

func (a *assembler) parseU(s *stmt, inst *Instruction, info *opInfo) error {
	if err := wantArgs(s, 2); err != nil {
		return err
	}
	var err1, err2 error
	inst.Rd, err1 = parseReg(s.args[0], info.dstF)
	inst.Imm, err2 = a.immediate(s, s.args[1], true)
	return firstErr(err1, err2)
}

func (a *assembler) parseMem(s *stmt, inst *Instruction, info *opInfo) error {
	if err := wantArgs(s, 2); err != nil {
		return err
	}

	open := strings.IndexByte(s.args[1], '(')
	if open < 0 || !strings.HasSuffix(s.args[1], ")") {
		return fmt.Errorf("malformed memory operand %q", s.args[1])
	}

	offStr := strings.TrimSpace(s.args[1][:open])
	baseStr := s.args[1][open+1 : len(s.args[1])-1]

	var off int64
	var err error
	if offStr != "" {
		off, err = a.immediate(s, offStr, false)
		if err != nil {
			return err
		}
	}

	base, err := parseReg(baseStr, false)
	if err != nil {
		return err
	}

	inst.Rs1 = base
	inst.Imm = off
	if info.format == FormatLoad {
		inst.Rd, err = parseReg(s.args[0], info.dstF)
	} else {
		inst.Rs2, err = parseReg(s.args[0], info.src2F)
	}
	return err
}

func (a *assembler) parseBranch(s *stmt, inst *Instruction, info *opInfo) error {
	if err := wantArgs(s, 3); err != nil {
		return err
	}
	var err1, err2, err3 error
	inst.Rs1, err1 = parseReg(s.args[0], info.src1F)
	inst.Rs2, err2 = parseReg(s.args[1], info.src2F)
	inst.Imm, err3 = a.offset(s, s.args[2])
	return firstErr(err1, err2, err3)
}

func (a *assembler) parseJump(s *stmt, inst *Instruction) error {
	if err := wantArgs(s, 2); err != nil {
		return err
	}
	var err1, err2 error
	inst.Rd, err1 = parseReg(s.args[0], false)
	inst.Imm, err2 = a.offset(s, s.args[1])
	return firstErr(err1, err2)
}

// offset resolves a branch target to a word offset from the statement.
func (a *assembler) offset(s *stmt, arg string) (int64, error) {
	if addr, ok := a.symbols[arg]; ok {
		delta := int64(addr) - int64(s.addr)
		if delta%4 != 0 {
			return 0, fmt.Errorf("misaligned branch target %s", arg)
		}
		return delta / 4, nil
	}
	return parseInt(arg)
}

// immediate parses an immediate operand. Unsigned 16-bit values are folded
// into the signed field when zeroExt is set.
func (a *assembler) immediate(s *stmt, arg string, zeroExt bool) (int64, error) {
	v, err := parseInt(arg)
	if err != nil {
		return 0, err
	}
	if zeroExt && v >= 1<<15 && v < 1<<16 {
		v -= 1 << 16
	}
	return v, nil
}

func (a *assembler) number(s *stmt, i int) (int64, error) {
	if i >= len(s.args) {
		return 0, fmt.Errorf("line %d: missing operand", s.line)
	}
	v, err := parseInt(s.args[i])
	if err != nil {
		return 0, fmt.Errorf("line %d: %w", s.line, err)
	}
	return v, nil
}

func (a *assembler) value(s *stmt, i int) (int64, error) {
	if addr, ok := a.symbols[s.args[i]]; ok {
		return int64(addr), nil
	}
	return a.number(s, i)
}

func logicalImm(op Op) bool {
	return op == OpANDI || op == OpORI || op == OpXORI
}

func wantArgs(s *stmt, n int) error {
	if len(s.args) != n {
		return fmt.Errorf("%s expects %d operands, got %d",
			s.mnemonic, n, len(s.args))
	}
	return nil
}

func parseReg(s string, float bool) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	prefix := "r"
	if float {
		prefix = "f"
	}
	if !strings.HasPrefix(s, prefix) {
		return 0, fmt.Errorf("expected %s register, got %q", prefix, s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 31 {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	return uint8(n), nil
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
		if uerr != nil {
			return 0, fmt.Errorf("invalid number %q", s)
		}
		return int64(u), nil
	}
	return v, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
