// Package fixture loads functions described in TOML into sealed graphs. It
// is the input format of the blockvm command and of tests: each function
// lists its slots, blocks with their statements and terminators, and loops.
package fixture

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"fortio.org/safecast"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

// LoopSuccessorName is the slot added to functions with loops that do not
// declare a loop successor slot themselves.
const LoopSuccessorName = "loop.succ"

// LoadFile reads a fixture file.
func LoadFile(path string) (*Module, error) {
	var doc fileSpec
	meta, err := toml.DecodeFile(path, &doc)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	return build(path, &doc, meta)
}

// Load reads a fixture from r; name is used in messages.
func Load(r io.Reader, name string) (*Module, error) {
	var doc fileSpec
	meta, err := toml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", name, err)
	}
	return build(name, &doc, meta)
}

// Parse reads a fixture held in a string.
func Parse(src string) (*Module, error) {
	return Load(strings.NewReader(src), "<string>")
}

func build(path string, doc *fileSpec, meta toml.MetaData) (*Module, error) {
	if keys := meta.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(names, ", "))
	}
	if !meta.IsDefined("func") || len(doc.Funcs) == 0 {
		return nil, fmt.Errorf("%s: missing [[func]]", path)
	}

	m := newModule(path)
	var calls []string
	for i := range doc.Funcs {
		fs := &doc.Funcs[i]
		if strings.TrimSpace(fs.Name) == "" {
			return nil, fmt.Errorf("%s: func #%d: missing name", path, i)
		}
		if _, dup := m.funcs[fs.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate func %q", path, fs.Name)
		}
		fb := &funcBuilder{m: m, src: fs, b: cfg.NewBuilder(fs.Name), slots: make(map[string]frame.SlotID)}
		f, err := fb.build()
		if err != nil {
			return nil, fmt.Errorf("%s: func %s: %w", path, fs.Name, err)
		}
		m.funcs[fs.Name] = f
		m.order = append(m.order, fs.Name)
		calls = append(calls, fb.calls...)
	}
	for _, callee := range calls {
		if _, ok := m.funcs[callee]; !ok {
			return nil, fmt.Errorf("%s: call to undefined func %q", path, callee)
		}
	}
	return m, nil
}

type funcBuilder struct {
	m     *Module
	src   *funcSpec
	b     *cfg.Builder
	slots map[string]frame.SlotID
	calls []string
}

func (fb *funcBuilder) build() (*Function, error) {
	if err := fb.declareSlots(); err != nil {
		return nil, err
	}
	params := make([]frame.SlotID, len(fb.src.Params))
	for i, name := range fb.src.Params {
		slot, ok := fb.slots[name]
		if !ok {
			return nil, fmt.Errorf("param %q is not a slot", name)
		}
		params[i] = slot
	}

	seen := make(map[cfg.BlockID]bool, len(fb.src.Blocks))
	for i := range fb.src.Blocks {
		bs := &fb.src.Blocks[i]
		id, err := blockID(bs.ID)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate block %s", id)
		}
		seen[id] = true
		if err := fb.block(id, bs); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
	}

	for _, ls := range fb.src.Loops {
		header, err := blockID(ls.Header)
		if err != nil {
			return nil, err
		}
		body := make([]cfg.BlockID, len(ls.Body))
		for i, raw := range ls.Body {
			if body[i], err = blockID(raw); err != nil {
				return nil, err
			}
		}
		fb.b.Loop(header, body...)
	}

	entry, err := blockID(fb.src.Entry)
	if err != nil {
		return nil, err
	}
	fb.b.Entry(entry)
	if fb.src.Derive {
		fb.b.DeriveNullable()
	}
	fn, err := fb.b.Build()
	if err != nil {
		return nil, err
	}
	return &Function{Func: fn, Params: params}, nil
}

func (fb *funcBuilder) declareSlots() error {
	hasSucc := false
	for _, ss := range fb.src.Slots {
		if ss.Name == "" {
			return errors.New("slot without a name")
		}
		if _, dup := fb.slots[ss.Name]; dup {
			return fmt.Errorf("duplicate slot %q", ss.Name)
		}
		var id frame.SlotID
		switch ss.Role {
		case "":
			kind, err := frame.ParseKind(ss.Kind)
			if err != nil {
				return fmt.Errorf("slot %q: %w", ss.Name, err)
			}
			id = fb.b.Slot(ss.Name, kind)
		case "exception":
			id = fb.b.ExceptionSlot(ss.Name)
		case "loop_successor":
			id = fb.b.LoopSuccessorSlot(ss.Name)
			hasSucc = true
		default:
			return fmt.Errorf("slot %q: unknown role %q (expected exception|loop_successor)", ss.Name, ss.Role)
		}
		fb.slots[ss.Name] = id
	}
	if len(fb.src.Loops) > 0 && !hasSucc {
		fb.slots[LoopSuccessorName] = fb.b.LoopSuccessorSlot(LoopSuccessorName)
	}
	return nil
}

func (fb *funcBuilder) block(id cfg.BlockID, bs *blockSpec) error {
	bb := fb.b.Block(id)
	for i := range bs.Stmts {
		s, err := fb.stmt(&bs.Stmts[i])
		if err != nil {
			return fmt.Errorf("stmt %d: %w", i, err)
		}
		bb.Do(fb.b.Stmt(s))
	}
	if fb.src.Derive && (len(bs.NullBefore) > 0 || len(bs.NullAfter) > 0) {
		return errors.New("null_before/null_after cannot be combined with derive_nullable")
	}
	before, err := fb.slotList(bs.NullBefore)
	if err != nil {
		return err
	}
	after, err := fb.slotList(bs.NullAfter)
	if err != nil {
		return err
	}
	bb.NullBefore(before...).NullAfter(after...)
	return fb.term(bb, &bs.Term)
}

func (fb *funcBuilder) term(bb *cfg.BlockBuilder, ts *termSpec) error {
	switch ts.Kind {
	case "branch":
		target, phi, err := fb.edge(ts.Target, ts.Phi)
		if err != nil {
			return err
		}
		bb.Branch(target, phi)

	case "condbr":
		cond, err := fb.exprID(ts.Cond)
		if err != nil {
			return fmt.Errorf("cond: %w", err)
		}
		then, thenPhi, err := fb.edge(ts.Then, ts.ThenPhi)
		if err != nil {
			return err
		}
		els, elsePhi, err := fb.edge(ts.Else, ts.ElsePhi)
		if err != nil {
			return err
		}
		bb.CondBranch(cond, then, thenPhi, els, elsePhi)

	case "switch":
		value, err := fb.exprID(ts.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		cases := make([]cfg.SwitchCase, len(ts.Cases))
		for i, cs := range ts.Cases {
			lit, ok := parseLiteral(cs.Value)
			if !ok {
				return fmt.Errorf("case %d: %q is not a literal", i, cs.Value)
			}
			target, phi, err := fb.edge(cs.Target, cs.Phi)
			if err != nil {
				return err
			}
			cases[i] = cfg.SwitchCase{Match: fb.b.Case(cfg.CaseEquals(lit)), Target: target, Phi: phi}
		}
		def, defPhi, err := fb.edge(ts.Default, ts.DefaultPhi)
		if err != nil {
			return err
		}
		bb.Switch(value, cases, def, defPhi)

	case "indirect":
		addr, err := fb.exprID(ts.Address)
		if err != nil {
			return fmt.Errorf("address: %w", err)
		}
		if ts.Phis != nil && len(ts.Phis) != len(ts.Targets) {
			return fmt.Errorf("indirect: %d targets but %d phi lists", len(ts.Targets), len(ts.Phis))
		}
		targets := make([]cfg.BlockID, len(ts.Targets))
		var phis []cfg.PhiBatch
		if ts.Phis != nil {
			phis = make([]cfg.PhiBatch, len(ts.Targets))
		}
		for i, raw := range ts.Targets {
			var ps []phiSpec
			if ts.Phis != nil {
				ps = ts.Phis[i]
			}
			target, phi, err := fb.edge(raw, ps)
			if err != nil {
				return err
			}
			targets[i] = target
			if phis != nil {
				phis[i] = phi
			}
		}
		bb.IndirectBranch(addr, targets, phis)

	case "invoke":
		if ts.Call == nil {
			return errors.New("invoke: missing call")
		}
		if ts.Call.Op != "call" {
			return fmt.Errorf("invoke: call must be a call, got %q", ts.Call.Op)
		}
		call, err := fb.stmt(ts.Call)
		if err != nil {
			return fmt.Errorf("invoke: %w", err)
		}
		normal, normalPhi, err := fb.edge(ts.Normal, ts.NormalPhi)
		if err != nil {
			return err
		}
		unwind, unwindPhi, err := fb.edge(ts.Unwind, ts.UnwindPhi)
		if err != nil {
			return err
		}
		bb.Invoke(fb.b.Stmt(call), normal, normalPhi, unwind, unwindPhi)

	case "return":
		value := cfg.NoExpr
		if ts.Value != nil {
			var err error
			if value, err = fb.exprID(ts.Value); err != nil {
				return fmt.Errorf("return: %w", err)
			}
		}
		bb.Return(value)

	case "resume":
		bb.Resume()
	case "unreachable":
		bb.Unreachable()
	case "":
		return errors.New("missing terminator")
	default:
		return fmt.Errorf("unknown terminator %q", ts.Kind)
	}
	return nil
}

func (fb *funcBuilder) edge(raw int64, ps []phiSpec) (cfg.BlockID, cfg.PhiBatch, error) {
	target, err := blockID(raw)
	if err != nil {
		return cfg.NoBlock, cfg.PhiBatch{}, err
	}
	phi, err := fb.phi(ps)
	return target, phi, err
}

func (fb *funcBuilder) phi(ps []phiSpec) (cfg.PhiBatch, error) {
	if len(ps) == 0 {
		return cfg.PhiBatch{}, nil
	}
	writes := make([]cfg.PhiWrite, len(ps))
	for i, p := range ps {
		dst, ok := fb.slots[p.Dst]
		if !ok {
			return cfg.PhiBatch{}, fmt.Errorf("phi: unknown slot %q", p.Dst)
		}
		n, err := fb.expr(&exprSpec{Op: p.Op, Args: p.Args})
		if err != nil {
			return cfg.PhiBatch{}, fmt.Errorf("phi %s: %w", p.Dst, err)
		}
		writes[i] = cfg.Assign(dst, fb.b.Expr(n))
	}
	return fb.b.Phi(writes...), nil
}

var (
	unaryOps  = map[string]bool{"const": true, "copy": true, "neg": true, "not": true, "payload": true}
	binaryOps = map[string]bool{"add": true, "sub": true, "mul": true, "lt": true, "le": true, "eq": true, "ne": true}
)

func (fb *funcBuilder) exprID(es *exprSpec) (cfg.ExprID, error) {
	if es == nil {
		return cfg.NoExpr, errors.New("missing expression")
	}
	n, err := fb.expr(es)
	if err != nil {
		return cfg.NoExpr, err
	}
	return fb.b.Expr(n), nil
}

func (fb *funcBuilder) expr(es *exprSpec) (node, error) {
	ops, err := fb.operands(es.Args)
	if err != nil {
		return nil, err
	}
	switch {
	case unaryOps[es.Op]:
		if len(ops) != 1 {
			return nil, fmt.Errorf("%s takes 1 operand, got %d", es.Op, len(ops))
		}
		return unaryExpr{op: es.Op, x: ops[0]}, nil
	case binaryOps[es.Op]:
		if len(ops) != 2 {
			return nil, fmt.Errorf("%s takes 2 operands, got %d", es.Op, len(ops))
		}
		return binaryExpr{op: es.Op, x: ops[0], y: ops[1]}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", es.Op)
	}
}

func (fb *funcBuilder) stmt(ss *stmtSpec) (cfg.Stmt, error) {
	switch ss.Op {
	case "throw":
		ops, err := fb.operands(ss.Args)
		if err != nil {
			return nil, err
		}
		if len(ops) != 1 {
			return nil, fmt.Errorf("throw takes 1 operand, got %d", len(ops))
		}
		return throwStmt{x: ops[0]}, nil
	case "fail":
		return failStmt{msg: strings.Join(ss.Args, " ")}, nil
	case "print":
		ops, err := fb.operands(ss.Args)
		if err != nil {
			return nil, err
		}
		return printStmt{m: fb.m, args: ops}, nil
	case "call":
		if ss.Func == "" {
			return nil, errors.New("call: missing func")
		}
		ops, err := fb.operands(ss.Args)
		if err != nil {
			return nil, err
		}
		dst := frame.NoSlot
		if ss.Dst != "" {
			var ok bool
			if dst, ok = fb.slots[ss.Dst]; !ok {
				return nil, fmt.Errorf("call: unknown slot %q", ss.Dst)
			}
		}
		fb.calls = append(fb.calls, ss.Func)
		return callStmt{m: fb.m, callee: ss.Func, args: ops, dst: dst, dstName: ss.Dst}, nil
	}

	dst, ok := fb.slots[ss.Dst]
	if !ok {
		return nil, fmt.Errorf("%s: unknown destination slot %q", ss.Op, ss.Dst)
	}
	src, err := fb.expr(&exprSpec{Op: ss.Op, Args: ss.Args})
	if err != nil {
		return nil, err
	}
	return assignStmt{dst: dst, dstName: ss.Dst, src: src}, nil
}

func (fb *funcBuilder) operands(args []string) ([]operand, error) {
	out := make([]operand, len(args))
	for i, a := range args {
		if slot, ok := fb.slots[a]; ok {
			out[i] = operand{slot: slot, name: a}
			continue
		}
		lit, ok := parseLiteral(a)
		if !ok {
			return nil, fmt.Errorf("unknown slot or literal %q", a)
		}
		out[i] = operand{slot: frame.NoSlot, lit: lit}
	}
	return out, nil
}

func (fb *funcBuilder) slotList(names []string) ([]frame.SlotID, error) {
	out := make([]frame.SlotID, len(names))
	for i, name := range names {
		slot, ok := fb.slots[name]
		if !ok {
			return nil, fmt.Errorf("unknown slot %q", name)
		}
		out[i] = slot
	}
	return out, nil
}

func blockID(raw int64) (cfg.BlockID, error) {
	id, err := safecast.Conv[cfg.BlockID](raw)
	if err != nil {
		return cfg.NoBlock, fmt.Errorf("block id %d: %w", raw, err)
	}
	return id, nil
}
