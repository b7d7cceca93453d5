package gpu

import "fmt"

// Pass is one full-grid kernel invocation mapping its inputs to a single
// output buffer, parameterized by a named parameter set.
type Pass struct {
	name     string
	kernel   Kernel
	params   *Params
	fallback bool
}

// NewPass wraps a compiled kernel. A nil params gets an empty set.
func NewPass(name string, kernel Kernel, params *Params) *Pass {
	if params == nil {
		params = NewParams()
	}
	return &Pass{name: name, kernel: kernel, params: params}
}

// NewFallbackPass wraps one of the device builtins.
func NewFallbackPass(dev Device, name string, b BuiltinKernel, params *Params) (*Pass, error) {
	k, err := dev.Builtin(b)
	if err != nil {
		return nil, fmt.Errorf("builtin %s for %s: %w", b, name, err)
	}
	p := NewPass(name, k, params)
	p.fallback = true
	return p, nil
}

// Name returns the pass label.
func (p *Pass) Name() string { return p.name }

// Kernel returns the compiled kernel.
func (p *Pass) Kernel() Kernel { return p.kernel }

// Params returns the parameter set consumed by the kernel.
func (p *Pass) Params() *Params { return p.params }

// Fallback reports whether the pass runs a builtin pass-through kernel.
func (p *Pass) Fallback() bool { return p.fallback }

// Run executes the pass. Prefer BufferPair.Write, which also guards against
// writing into an input.
func (p *Pass) Run(dev Device, inputs []Buffer, output Buffer) error {
	if err := dev.Run(p.kernel, p.params, inputs, output); err != nil {
		return fmt.Errorf("pass %s: %w", p.name, err)
	}
	return nil
}

// Release frees the kernel unless it is a shared builtin.
func (p *Pass) Release(dev Device) {
	if p.kernel != nil && !p.fallback {
		dev.ReleaseKernel(p.kernel)
	}
	p.kernel = nil
}
