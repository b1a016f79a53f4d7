package cfg

// TermKind identifies the control-flow instruction ending a block.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermBranch
	TermCondBranch
	TermSwitch
	TermIndirectBranch
	TermLoop
	TermInvoke
	TermReturn
	TermResume
	TermUnreachable
)

func (k TermKind) String() string {
	switch k {
	case TermNone:
		return "none"
	case TermBranch:
		return "br"
	case TermCondBranch:
		return "condbr"
	case TermSwitch:
		return "switch"
	case TermIndirectBranch:
		return "indirectbr"
	case TermLoop:
		return "loop"
	case TermInvoke:
		return "invoke"
	case TermReturn:
		return "ret"
	case TermResume:
		return "resume"
	case TermUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Terminator is a tagged union; only the payload matching Kind is meaningful.
type Terminator struct {
	Kind TermKind

	Branch         BranchTerm
	CondBranch     CondBranchTerm
	Switch         SwitchTerm
	IndirectBranch IndirectBranchTerm
	Loop           LoopTerm
	Invoke         InvokeTerm
	Return         ReturnTerm
}

type BranchTerm struct {
	Target BlockID
	Phi    PhiBatch
}

type CondBranchTerm struct {
	Cond    ExprID
	Then    BlockID
	ThenPhi PhiBatch
	Else    BlockID
	ElsePhi PhiBatch
}

type SwitchCase struct {
	Match  CaseID
	Target BlockID
	Phi    PhiBatch
}

// SwitchTerm tests cases in declaration order; the default is taken when
// none matches and is successor len(Cases).
type SwitchTerm struct {
	Value      ExprID
	Cases      []SwitchCase
	Default    BlockID
	DefaultPhi PhiBatch
}

// IndirectBranchTerm jumps to the block whose id equals the evaluated address.
// The address must be one of Targets; Phis is parallel to Targets.
type IndirectBranchTerm struct {
	Address ExprID
	Targets []BlockID
	Phis    []PhiBatch
}

// LoopTerm runs the loop body until it exits to one of Successors.
type LoopTerm struct {
	Loop       LoopID
	Successors []BlockID
}

type InvokeTerm struct {
	Call      StmtID
	Normal    BlockID
	NormalPhi PhiBatch
	Unwind    BlockID
	UnwindPhi PhiBatch
}

type ReturnTerm struct {
	HasValue bool
	Value    ExprID
	// Phi must stay empty; a return edge has no block to feed.
	Phi PhiBatch
}

// NumSuccessors returns the number of outgoing edges.
func (t *Terminator) NumSuccessors() int {
	switch t.Kind {
	case TermBranch, TermReturn:
		return 1
	case TermCondBranch, TermInvoke:
		return 2
	case TermSwitch:
		return len(t.Switch.Cases) + 1
	case TermIndirectBranch:
		return len(t.IndirectBranch.Targets)
	case TermLoop:
		return len(t.Loop.Successors)
	default:
		return 0
	}
}

// Successor returns the target of edge i.
func (t *Terminator) Successor(i int) BlockID {
	switch t.Kind {
	case TermBranch:
		return t.Branch.Target
	case TermCondBranch:
		if i == 0 {
			return t.CondBranch.Then
		}
		return t.CondBranch.Else
	case TermSwitch:
		if i < len(t.Switch.Cases) {
			return t.Switch.Cases[i].Target
		}
		return t.Switch.Default
	case TermIndirectBranch:
		return t.IndirectBranch.Targets[i]
	case TermLoop:
		return t.Loop.Successors[i]
	case TermInvoke:
		if i == 0 {
			return t.Invoke.Normal
		}
		return t.Invoke.Unwind
	case TermReturn:
		return ReturnFromFunction
	default:
		return NoBlock
	}
}

// Successors returns all edge targets in successor-index order.
func (t *Terminator) Successors() []BlockID {
	n := t.NumSuccessors()
	out := make([]BlockID, n)
	for i := range n {
		out[i] = t.Successor(i)
	}
	return out
}

// Phi returns the phi batch of edge i, or nil for edges without one.
func (t *Terminator) Phi(i int) *PhiBatch {
	switch t.Kind {
	case TermBranch:
		return &t.Branch.Phi
	case TermCondBranch:
		if i == 0 {
			return &t.CondBranch.ThenPhi
		}
		return &t.CondBranch.ElsePhi
	case TermSwitch:
		if i < len(t.Switch.Cases) {
			return &t.Switch.Cases[i].Phi
		}
		return &t.Switch.DefaultPhi
	case TermIndirectBranch:
		if i < len(t.IndirectBranch.Phis) {
			return &t.IndirectBranch.Phis[i]
		}
		return nil
	case TermInvoke:
		if i == 0 {
			return &t.Invoke.NormalPhi
		}
		return &t.Invoke.UnwindPhi
	case TermReturn:
		return &t.Return.Phi
	default:
		return nil
	}
}
