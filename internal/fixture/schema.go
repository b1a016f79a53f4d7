package fixture

// The structs below mirror the TOML layout of a fixture file:
//
//	[[func]]
//	name = "fib"
//	params = ["n"]
//
//	  [[func.slot]]
//	  name = "n"
//	  kind = "int"
//
//	  [[func.block]]
//	  id = 0
//	  stmts = [{ op = "const", dst = "a", args = ["0"] }]
//	  term = { kind = "branch", target = 1 }
//
//	  [[func.loop]]
//	  header = 1
//	  body = [1, 2]
//
// Operands are slot names or literals ("3", "-1", "2.5", "true").

type fileSpec struct {
	Funcs []funcSpec `toml:"func"`
}

type funcSpec struct {
	Name   string      `toml:"name"`
	Entry  int64       `toml:"entry"`
	Derive bool        `toml:"derive_nullable"`
	Params []string    `toml:"params"`
	Slots  []slotSpec  `toml:"slot"`
	Blocks []blockSpec `toml:"block"`
	Loops  []loopSpec  `toml:"loop"`
}

type slotSpec struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
	Role string `toml:"role"` // "", "exception" or "loop_successor"
}

type blockSpec struct {
	ID         int64      `toml:"id"`
	Stmts      []stmtSpec `toml:"stmts"`
	NullBefore []string   `toml:"null_before"`
	NullAfter  []string   `toml:"null_after"`
	Term       termSpec   `toml:"term"`
}

type stmtSpec struct {
	Op   string   `toml:"op"`
	Dst  string   `toml:"dst"`
	Args []string `toml:"args"`
	Func string   `toml:"func"` // callee of a call
}

type exprSpec struct {
	Op   string   `toml:"op"`
	Args []string `toml:"args"`
}

type phiSpec struct {
	Dst  string   `toml:"dst"`
	Op   string   `toml:"op"`
	Args []string `toml:"args"`
}

type caseSpec struct {
	Value  string    `toml:"value"`
	Target int64     `toml:"target"`
	Phi    []phiSpec `toml:"phi"`
}

type termSpec struct {
	Kind string `toml:"kind"`

	// branch
	Target int64     `toml:"target"`
	Phi    []phiSpec `toml:"phi"`

	// condbr
	Cond    *exprSpec `toml:"cond"`
	Then    int64     `toml:"then"`
	ThenPhi []phiSpec `toml:"then_phi"`
	Else    int64     `toml:"else"`
	ElsePhi []phiSpec `toml:"else_phi"`

	// switch and return
	Value      *exprSpec  `toml:"value"`
	Cases      []caseSpec `toml:"cases"`
	Default    int64      `toml:"default"`
	DefaultPhi []phiSpec  `toml:"default_phi"`

	// indirect
	Address *exprSpec   `toml:"address"`
	Targets []int64     `toml:"targets"`
	Phis    [][]phiSpec `toml:"phis"`

	// invoke
	Call      *stmtSpec `toml:"call"`
	Normal    int64     `toml:"normal"`
	NormalPhi []phiSpec `toml:"normal_phi"`
	Unwind    int64     `toml:"unwind"`
	UnwindPhi []phiSpec `toml:"unwind_phi"`
}

type loopSpec struct {
	Header int64   `toml:"header"`
	Body   []int64 `toml:"body"`
}
