package osr

import (
	"fmt"
	"time"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
	"blockvm/internal/vm"
)

// CompiledLoop is the artifact produced for a hot target. Running it resumes
// the activation at Entry on an interpreter that never transfers again.
type CompiledLoop struct {
	Func       string
	Hash       cfg.Digest
	Entry      cfg.BlockID
	Loop       cfg.LoopID // -1 when Entry is not a loop header
	Body       []cfg.BlockID
	Exits      []cfg.BlockID
	CompiledAt time.Time

	interp *vm.Interpreter
}

// Run finishes the activation that owns fr. The result counts back edges
// from state on.
func (c *CompiledLoop) Run(fr *frame.Frame, state vm.Counter) (vm.Result, error) {
	return c.interp.RunOSR(fr, c.Entry, state)
}

// compile builds the artifact for target. in must not carry a tier.
func compile(in *vm.Interpreter, hash cfg.Digest, target cfg.BlockID) (*CompiledLoop, error) {
	fn := in.Func()
	if fn.Block(target) == nil {
		return nil, fmt.Errorf("osr: %s has no block %s", fn.Name, target)
	}
	c := &CompiledLoop{
		Func:       fn.Name,
		Hash:       hash,
		Entry:      target,
		Loop:       -1,
		CompiledAt: time.Now(),
		interp:     in,
	}
	if l, ok := fn.LoopAt(target); ok {
		c.Loop = l.ID
		c.Body = l.Body
		c.Exits = l.Exits()
	}
	return c, nil
}
