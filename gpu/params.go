package gpu

import (
	"errors"
	"fmt"
)

// Parameter errors.
var (
	ErrUnknownParam  = errors.New("gpu: unknown parameter")
	ErrParamMismatch = errors.New("gpu: parameter kind or length mismatch")
)

// Kind is the shape of a kernel parameter.
type Kind uint8

const (
	KindFloat Kind = iota
	KindInt
	KindVec2
	KindVec3
	KindVec4
	KindFloatArray
	KindVec3Array
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindVec2:
		return "vec2"
	case KindVec3:
		return "vec3"
	case KindVec4:
		return "vec4"
	case KindFloatArray:
		return "float[]"
	case KindVec3Array:
		return "vec3[]"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a typed kernel parameter value. Ints are carried as floats and
// converted by the backend when uploading.
type Value struct {
	kind Kind
	data []float32
}

// Float returns a scalar float value.
func Float(v float32) Value { return Value{kind: KindFloat, data: []float32{v}} }

// Int returns a scalar int value.
func Int(v int) Value { return Value{kind: KindInt, data: []float32{float32(v)}} }

// Vec2 returns a two-component value.
func Vec2(x, y float32) Value { return Value{kind: KindVec2, data: []float32{x, y}} }

// Vec3 returns a three-component value.
func Vec3(x, y, z float32) Value { return Value{kind: KindVec3, data: []float32{x, y, z}} }

// Vec4 returns a four-component value.
func Vec4(x, y, z, w float32) Value { return Value{kind: KindVec4, data: []float32{x, y, z, w}} }

// FloatArray returns an array value holding a copy of vals.
func FloatArray(vals []float32) Value {
	data := make([]float32, len(vals))
	copy(data, vals)
	return Value{kind: KindFloatArray, data: data}
}

// Vec3Array returns an array value of n zeroed vec3 elements.
func Vec3Array(n int) Value {
	return Value{kind: KindVec3Array, data: make([]float32, n*3)}
}

// Kind returns the value's shape.
func (v Value) Kind() Kind { return v.kind }

// Data returns the raw components. Callers must not modify the slice.
func (v Value) Data() []float32 { return v.data }

// Count returns the number of elements (1 for scalars and vectors).
func (v Value) Count() int {
	switch v.kind {
	case KindFloatArray:
		return len(v.data)
	case KindVec3Array:
		return len(v.data) / 3
	default:
		return 1
	}
}

type paramEntry struct {
	name  string
	value Value
}

// Params is an ordered set of named kernel parameters. Names are declared
// once; later updates must keep the declared kind and length.
type Params struct {
	index   map[string]int
	entries []paramEntry
}

// NewParams creates an empty parameter set.
func NewParams() *Params {
	return &Params{index: make(map[string]int)}
}

// Declare adds name with an initial value. It returns false and leaves the
// existing value untouched if name is already declared.
func (p *Params) Declare(name string, v Value) bool {
	if _, ok := p.index[name]; ok {
		return false
	}
	data := make([]float32, len(v.data))
	copy(data, v.data)
	p.index[name] = len(p.entries)
	p.entries = append(p.entries, paramEntry{name: name, value: Value{kind: v.kind, data: data}})
	return true
}

// Has reports whether name is declared.
func (p *Params) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Len returns the number of declared parameters.
func (p *Params) Len() int { return len(p.entries) }

// Set overwrites a declared parameter in place.
func (p *Params) Set(name string, v Value) error {
	e, err := p.entry(name)
	if err != nil {
		return err
	}
	if e.value.kind != v.kind || len(e.value.data) != len(v.data) {
		return fmt.Errorf("%w: %s is %s[%d], got %s[%d]", ErrParamMismatch,
			name, e.value.kind, len(e.value.data), v.kind, len(v.data))
	}
	copy(e.value.data, v.data)
	return nil
}

// SetFloat overwrites a declared float parameter.
func (p *Params) SetFloat(name string, f float32) error {
	e, err := p.entry(name)
	if err != nil {
		return err
	}
	if e.value.kind != KindFloat {
		return fmt.Errorf("%w: %s is %s", ErrParamMismatch, name, e.value.kind)
	}
	e.value.data[0] = f
	return nil
}

// SetComponents copies vals into a declared parameter of any kind. The
// length must match the declared component count.
func (p *Params) SetComponents(name string, vals ...float32) error {
	e, err := p.entry(name)
	if err != nil {
		return err
	}
	if len(e.value.data) != len(vals) {
		return fmt.Errorf("%w: %s has %d components, got %d", ErrParamMismatch, name, len(e.value.data), len(vals))
	}
	copy(e.value.data, vals)
	return nil
}

// Get returns the current value of name.
func (p *Params) Get(name string) (Value, bool) {
	i, ok := p.index[name]
	if !ok {
		return Value{}, false
	}
	return p.entries[i].value, true
}

// Float returns the first component of name, or 0 if undeclared.
func (p *Params) Float(name string) float32 {
	if v, ok := p.Get(name); ok && len(v.data) > 0 {
		return v.data[0]
	}
	return 0
}

// Int returns name as an int, or 0 if undeclared.
func (p *Params) Int(name string) int {
	return int(p.Float(name))
}

// Vec3 returns the first three components of name.
func (p *Params) Vec3(name string) [3]float32 {
	var out [3]float32
	if v, ok := p.Get(name); ok {
		copy(out[:], v.data)
	}
	return out
}

// Slice returns the raw components of name, or nil if undeclared.
func (p *Params) Slice(name string) []float32 {
	if v, ok := p.Get(name); ok {
		return v.data
	}
	return nil
}

// Each calls fn for every parameter in declaration order.
func (p *Params) Each(fn func(name string, v Value)) {
	for _, e := range p.entries {
		fn(e.name, e.value)
	}
}

func (p *Params) entry(name string) (*paramEntry, error) {
	i, ok := p.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return &p.entries[i], nil
}
