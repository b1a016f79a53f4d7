package fixture

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
	"blockvm/internal/vm"
)

// Function is one loaded function and the slots its arguments land in.
type Function struct {
	Func   *cfg.Func
	Params []frame.SlotID
}

// Module is a set of functions loaded from one fixture file. Functions call
// each other by name. A Module may run concurrent activations.
type Module struct {
	Path string

	order []string
	funcs map[string]*Function

	mu      sync.Mutex
	opts    vm.Options
	tier    func(*vm.Interpreter) vm.Tier
	interps map[string]*vm.Interpreter

	outMu sync.Mutex
	out   io.Writer
}

func newModule(path string) *Module {
	return &Module{
		Path:    path,
		funcs:   make(map[string]*Function),
		interps: make(map[string]*vm.Interpreter),
		out:     io.Discard,
	}
}

// Names returns the function names in file order.
func (m *Module) Names() []string { return m.order }

// Func returns the function called name.
func (m *Module) Func(name string) (*Function, bool) {
	f, ok := m.funcs[name]
	return f, ok
}

// Main returns "main" if the module defines it, otherwise its first function.
func (m *Module) Main() string {
	if _, ok := m.funcs["main"]; ok {
		return "main"
	}
	if len(m.order) == 0 {
		return ""
	}
	return m.order[0]
}

// SetOutput directs print statements to w.
func (m *Module) SetOutput(w io.Writer) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	if w == nil {
		w = io.Discard
	}
	m.out = w
}

func (m *Module) println(line string) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	fmt.Fprintln(m.out, line)
}

// Configure sets the options of every interpreter the module creates from
// now on. tier, if not nil, is asked for a tier per function.
func (m *Module) Configure(opts vm.Options, tier func(*vm.Interpreter) vm.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
	m.tier = tier
	clear(m.interps)
}

// Interpreter returns the interpreter for the function called name.
func (m *Module) Interpreter(name string) (*vm.Interpreter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.interps[name]; ok {
		return in, nil
	}
	f, ok := m.funcs[name]
	if !ok {
		return nil, fmt.Errorf("fixture: no function %q", name)
	}
	in, err := vm.New(f.Func, m.opts)
	if err != nil {
		return nil, err
	}
	if m.tier != nil {
		if t := m.tier(in); t != nil {
			in = in.WithTier(t)
		}
	}
	m.interps[name] = in
	return in, nil
}

// NewFrame allocates a frame for name with its parameters bound to args.
func (m *Module) NewFrame(name string, args ...frame.Value) (*frame.Frame, error) {
	f, ok := m.funcs[name]
	if !ok {
		return nil, fmt.Errorf("fixture: no function %q", name)
	}
	if len(args) != len(f.Params) {
		return nil, fmt.Errorf("fixture: %s takes %d arguments, got %d", name, len(f.Params), len(args))
	}
	fr := f.Func.NewFrame()
	for i, slot := range f.Params {
		if want := f.Func.Layout[slot].Kind; args[i].Kind != want {
			return nil, fmt.Errorf("fixture: %s argument %d: want %s, got %s", name, i, want, args[i].Kind)
		}
		fr.Set(slot, args[i])
	}
	return fr, nil
}

// Call runs name on args in a fresh activation.
func (m *Module) Call(name string, args ...frame.Value) (vm.Result, error) {
	in, err := m.Interpreter(name)
	if err != nil {
		return vm.Result{}, err
	}
	fr, err := m.NewFrame(name, args...)
	if err != nil {
		return vm.Result{}, err
	}
	return in.Run(fr)
}

// ParseArgs converts command-line strings to the parameter kinds of name.
func (m *Module) ParseArgs(name string, raw []string) ([]frame.Value, error) {
	f, ok := m.funcs[name]
	if !ok {
		return nil, fmt.Errorf("fixture: no function %q", name)
	}
	if len(raw) != len(f.Params) {
		return nil, fmt.Errorf("fixture: %s takes %d arguments, got %d", name, len(f.Params), len(raw))
	}
	out := make([]frame.Value, len(raw))
	for i, s := range raw {
		v, err := ParseValue(f.Func.Layout[f.Params[i]].Kind, s)
		if err != nil {
			return nil, fmt.Errorf("fixture: %s argument %d: %w", name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// ParseValue parses s as a value of kind k.
func ParseValue(k frame.Kind, s string) (frame.Value, error) {
	s = strings.TrimSpace(s)
	switch k {
	case frame.KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return frame.Value{}, err
		}
		return frame.Bool(b), nil
	case frame.KindInt:
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return frame.Value{}, err
		}
		return frame.Int(i), nil
	case frame.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return frame.Value{}, err
		}
		return frame.Float(f), nil
	default:
		return frame.Value{}, fmt.Errorf("cannot parse a %s value", k)
	}
}

// parseLiteral accepts the literal forms usable as operands.
func parseLiteral(s string) (frame.Value, bool) {
	switch s {
	case "true":
		return frame.Bool(true), true
	case "false":
		return frame.Bool(false), true
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return frame.Int(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return frame.Float(f), true
	}
	return frame.Value{}, false
}
