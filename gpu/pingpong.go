package gpu

import "fmt"

// BufferPair is a front/back pair of equally sized buffers used as a
// ping-pong target. Read always returns the most recently completed buffer;
// passes write into Target and only Flip makes the result visible.
type BufferPair struct {
	name    string
	slots   [2]Buffer
	current int
	width   int
	height  int
	format  Format
}

// NewBufferPair allocates both slots on dev.
func NewBufferPair(dev Device, name string, width, height int, format Format) (*BufferPair, error) {
	front, err := dev.Allocate(width, height, format)
	if err != nil {
		return nil, fmt.Errorf("allocating %s front: %w", name, err)
	}
	back, err := dev.Allocate(width, height, format)
	if err != nil {
		dev.Free(front)
		return nil, fmt.Errorf("allocating %s back: %w", name, err)
	}
	return &BufferPair{
		name:   name,
		slots:  [2]Buffer{front, back},
		width:  width,
		height: height,
		format: format,
	}, nil
}

// Name returns the label given at construction.
func (bp *BufferPair) Name() string { return bp.name }

// Size returns the fixed dimensions of both slots.
func (bp *BufferPair) Size() (int, int) { return bp.width, bp.height }

// Current returns the index of the readable slot (0 or 1).
func (bp *BufferPair) Current() int { return bp.current }

// Read returns the readable buffer.
func (bp *BufferPair) Read() Buffer { return bp.slots[bp.current] }

// Target returns the buffer the next Write goes to.
func (bp *BufferPair) Target() Buffer { return bp.slots[1-bp.current] }

// Slot returns the buffer at index i.
func (bp *BufferPair) Slot(i int) Buffer { return bp.slots[i&1] }

// Write runs pass into Target. An input that aliases the target is rejected
// before anything is submitted.
func (bp *BufferPair) Write(dev Device, pass *Pass, inputs ...Buffer) error {
	target := bp.Target()
	for i, in := range inputs {
		if in == target {
			return fmt.Errorf("%w: %s input %d", ErrAliasedInput, bp.name, i)
		}
	}
	return pass.Run(dev, inputs, target)
}

// Flip makes the last written buffer readable.
func (bp *BufferPair) Flip() { bp.current = 1 - bp.current }

// Prime uploads texels into slot 0 and makes it readable.
func (bp *BufferPair) Prime(dev Device, texels []float32) error {
	if err := dev.Upload(bp.slots[0], texels); err != nil {
		return fmt.Errorf("priming %s: %w", bp.name, err)
	}
	bp.current = 0
	return nil
}

// Free releases both slots. The pair must not be used afterwards.
func (bp *BufferPair) Free(dev Device) {
	for i, b := range bp.slots {
		if b != 0 {
			dev.Free(b)
			bp.slots[i] = 0
		}
	}
}
