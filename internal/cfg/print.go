package cfg

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"blockvm/internal/frame"
)

// Digest identifies a function graph by content.
type Digest [32]byte

// Hash digests the printed form of f, so equal graphs built in different runs
// share persisted profiles.
func Hash(f *Func) Digest {
	h := sha256.New()
	_ = Print(h, f)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Print writes a human-readable, deterministic dump of f.
func Print(w io.Writer, f *Func) error {
	if w == nil || f == nil {
		return nil
	}
	p := &printer{w: w, fn: f}
	p.printf("func %s entry=%s blocks=%d\n", f.Name, f.Entry, len(f.Blocks))
	if f.ExceptionSlot != frame.NoSlot {
		p.printf("  exception=S%d\n", f.ExceptionSlot)
	}
	if f.LoopSuccessorSlot != frame.NoSlot {
		p.printf("  loop_successor=S%d\n", f.LoopSuccessorSlot)
	}
	for i, s := range f.Layout {
		p.printf("  S%d: %s %s\n", i, s.Kind, s.Name)
	}
	for _, b := range f.Blocks {
		p.block(b)
	}
	for i, l := range f.Loops {
		p.printf("loop L%d header=%s body=%s", i, l.Header, blockList(l.Body))
		if exits := l.Exits(); exits != nil {
			p.printf(" exits=%s", blockList(exits))
		}
		p.printf("\n")
	}
	return p.err
}

type printer struct {
	w   io.Writer
	fn  *Func
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) block(b *Block) {
	p.printf("%s:\n", b.ID)
	if len(b.NullableBefore) > 0 {
		p.printf("  ; dead before %s\n", slotList(b.NullableBefore))
	}
	if b.Lazy != nil {
		p.printf("  <lazy>\n")
	}
	for _, id := range b.Stmts {
		p.printf("  %s\n", p.node("s", int(id), p.fn.Nodes.stmtAt(id)))
	}
	p.printf("  %s\n", p.term(&b.Term))
	if len(b.NullableAfter) > 0 {
		p.printf("  ; dead after %s\n", slotList(b.NullableAfter))
	}
}

func (p *printer) term(t *Terminator) string {
	var sb strings.Builder
	sb.WriteString(t.Kind.String())
	switch t.Kind {
	case TermBranch:
		fmt.Fprintf(&sb, " %s%s", t.Branch.Target, p.phi(&t.Branch.Phi))
	case TermCondBranch:
		c := &t.CondBranch
		fmt.Fprintf(&sb, " %s, %s%s, %s%s", p.expr(c.Cond), c.Then, p.phi(&c.ThenPhi), c.Else, p.phi(&c.ElsePhi))
	case TermSwitch:
		s := &t.Switch
		fmt.Fprintf(&sb, " %s [", p.expr(s.Value))
		for i, c := range s.Cases {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s -> %s%s", p.node("c", int(c.Match), p.fn.Nodes.caseAt(c.Match)), c.Target, p.phi(&c.Phi))
		}
		fmt.Fprintf(&sb, "] default %s%s", s.Default, p.phi(&s.DefaultPhi))
	case TermIndirectBranch:
		ib := &t.IndirectBranch
		fmt.Fprintf(&sb, " %s [", p.expr(ib.Address))
		for i, target := range ib.Targets {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(target.String())
			if i < len(ib.Phis) {
				sb.WriteString(p.phi(&ib.Phis[i]))
			}
		}
		sb.WriteString("]")
	case TermLoop:
		fmt.Fprintf(&sb, " L%d exits=%s", t.Loop.Loop, blockList(t.Loop.Successors))
	case TermInvoke:
		iv := &t.Invoke
		fmt.Fprintf(&sb, " %s to %s%s unwind %s%s", p.node("s", int(iv.Call), p.fn.Nodes.stmtAt(iv.Call)),
			iv.Normal, p.phi(&iv.NormalPhi), iv.Unwind, p.phi(&iv.UnwindPhi))
	case TermReturn:
		if t.Return.HasValue {
			fmt.Fprintf(&sb, " %s", p.expr(t.Return.Value))
		}
	}
	return sb.String()
}

func (p *printer) phi(batch *PhiBatch) string {
	if batch.Empty() {
		return ""
	}
	var parts []string
	for i, s := range batch.CyclicWrites {
		src := "?"
		if i < len(batch.CyclicReads) {
			src = p.expr(batch.CyclicReads[i])
		}
		parts = append(parts, fmt.Sprintf("S%d <= %s", s, src))
	}
	for _, w := range batch.Writes {
		parts = append(parts, fmt.Sprintf("S%d <- %s", w.Slot, p.expr(w.Value)))
	}
	return " phi{" + strings.Join(parts, "; ") + "}"
}

func (p *printer) expr(id ExprID) string {
	return p.node("e", int(id), p.fn.Nodes.exprAt(id))
}

func (p *printer) node(prefix string, id int, n any) string {
	switch v := n.(type) {
	case nil:
		return fmt.Sprintf("%s#%d<?>", prefix, id)
	case SlotRef:
		return fmt.Sprintf("S%d", int32(v))
	case Const:
		return frame.Value(v).String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%s#%d<%T>", prefix, id, n)
	}
}

func (n *Nodes) exprAt(id ExprID) any {
	if !n.HasExpr(id) {
		return nil
	}
	return n.exprs[id]
}

func (n *Nodes) stmtAt(id StmtID) any {
	if !n.HasStmt(id) {
		return nil
	}
	return n.stmts[id]
}

func (n *Nodes) caseAt(id CaseID) any {
	if !n.HasCase(id) {
		return nil
	}
	return n.cases[id]
}

func blockList(ids []BlockID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func slotList(ids []frame.SlotID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("S%d", id)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
