package gpu

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// parallelThreshold is the minimum texel count to split a pass across
// workers. Below this, a single goroutine is faster.
const parallelThreshold = 4096

// KernelFunc computes one output texel.
type KernelFunc func(inv *Invocation) [4]float32

// Sampler reads texels of one input buffer with clamp-to-edge addressing.
type Sampler struct {
	width, height int
	data          []float32
}

// Size returns the sampled buffer's dimensions.
func (s Sampler) Size() (int, int) { return s.width, s.height }

// Fetch returns texel (x, y).
func (s Sampler) Fetch(x, y int) [4]float32 {
	if x < 0 {
		x = 0
	} else if x >= s.width {
		x = s.width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= s.height {
		y = s.height - 1
	}
	i := (y*s.width + x) * Channels
	return [4]float32{s.data[i], s.data[i+1], s.data[i+2], s.data[i+3]}
}

// Invocation is the per-texel context handed to a KernelFunc.
type Invocation struct {
	X, Y          int
	Width, Height int
	Inputs        []Sampler
	Params        *Params
}

// Input samples input i at the invocation's texel. Missing inputs read as zero.
func (inv *Invocation) Input(i int) [4]float32 {
	if i >= len(inv.Inputs) {
		return [4]float32{}
	}
	return inv.Inputs[i].Fetch(inv.X, inv.Y)
}

// UV returns the texel center in [0,1]².
func (inv *Invocation) UV() (float32, float32) {
	return (float32(inv.X) + 0.5) / float32(inv.Width), (float32(inv.Y) + 0.5) / float32(inv.Height)
}

// Index returns the linear texel index.
func (inv *Invocation) Index() int { return inv.Y*inv.Width + inv.X }

type softKernel struct {
	name string
	fn   KernelFunc
}

func (k *softKernel) Name() string { return k.name }

type softBuffer struct {
	width, height int
	format        Format
	data          []float32
}

// SoftwareDevice emulates a Device on the CPU. Kernels are Go functions
// registered by name; Compile resolves program text to a registered name.
type SoftwareDevice struct {
	buffers  map[Buffer]*softBuffer
	next     Buffer
	kernels  map[string]KernelFunc
	builtins map[BuiltinKernel]*softKernel
	released bool

	rows *rowWorkers
}

// NewSoftwareDevice creates a software device using up to workers goroutines
// per pass (0 = GOMAXPROCS).
func NewSoftwareDevice(workers int) *SoftwareDevice {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	d := &SoftwareDevice{
		buffers: make(map[Buffer]*softBuffer),
		kernels: make(map[string]KernelFunc),
		builtins: map[BuiltinKernel]*softKernel{
			BuiltinCopy: {name: BuiltinCopy.String(), fn: func(inv *Invocation) [4]float32 {
				return inv.Input(0)
			}},
			BuiltinFlatColor: {name: BuiltinFlatColor.String(), fn: func(inv *Invocation) [4]float32 {
				return FlatColor(inv.Input(0))
			}},
		},
	}
	if workers > 1 {
		d.rows = newRowWorkers(workers)
	}
	return d
}

// Name implements Device.
func (d *SoftwareDevice) Name() string { return "software" }

// Register makes fn compilable under name. Registering a name twice
// replaces the earlier function.
func (d *SoftwareDevice) Register(name string, fn KernelFunc) {
	d.kernels[name] = fn
}

// Kernels returns the registered kernel names, sorted.
func (d *SoftwareDevice) Kernels() []string {
	names := make([]string, 0, len(d.kernels))
	for name := range d.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BufferCount returns the number of live buffers.
func (d *SoftwareDevice) BufferCount() int { return len(d.buffers) }

// Allocate implements Device.
func (d *SoftwareDevice) Allocate(width, height int, format Format) (Buffer, error) {
	if d.released {
		return 0, ErrDeviceReleased
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrBadDimensions, width, height)
	}
	d.next++
	d.buffers[d.next] = &softBuffer{
		width:  width,
		height: height,
		format: format,
		data:   make([]float32, width*height*Channels),
	}
	return d.next, nil
}

// Upload implements Device.
func (d *SoftwareDevice) Upload(b Buffer, texels []float32) error {
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if len(texels) != len(buf.data) {
		return fmt.Errorf("%w: buffer %d holds %d floats, got %d", ErrSizeMismatch, b, len(buf.data), len(texels))
	}
	copy(buf.data, texels)
	if buf.format == FormatRGBA8 {
		quantizeAll(buf.data)
	}
	return nil
}

// Read implements Device.
func (d *SoftwareDevice) Read(b Buffer) ([]float32, error) {
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(buf.data))
	copy(out, buf.data)
	return out, nil
}

// Free implements Device.
func (d *SoftwareDevice) Free(b Buffer) {
	delete(d.buffers, b)
}

// Compile implements Device. The program text names a registered kernel.
func (d *SoftwareDevice) Compile(src Source) (Kernel, error) {
	if d.released {
		return nil, ErrDeviceReleased
	}
	name := strings.TrimSpace(src.Text)
	if name == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, src.Name)
	}
	fn, ok := d.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKernel, name)
	}
	return &softKernel{name: name, fn: fn}, nil
}

// Builtin implements Device.
func (d *SoftwareDevice) Builtin(b BuiltinKernel) (Kernel, error) {
	k, ok := d.builtins[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, b)
	}
	return k, nil
}

// ReleaseKernel implements Device.
func (d *SoftwareDevice) ReleaseKernel(Kernel) {}

// Run implements Device.
func (d *SoftwareDevice) Run(k Kernel, params *Params, inputs []Buffer, output Buffer) error {
	sk, ok := k.(*softKernel)
	if !ok || sk == nil {
		return fmt.Errorf("%w: not a software kernel", ErrUnknownKernel)
	}
	out, err := d.buffer(output)
	if err != nil {
		return err
	}
	samplers := make([]Sampler, len(inputs))
	for i, in := range inputs {
		if in == output {
			return fmt.Errorf("%w: input %d", ErrAliasedInput, i)
		}
		buf, err := d.buffer(in)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		samplers[i] = Sampler{width: buf.width, height: buf.height, data: buf.data}
	}
	if params == nil {
		params = NewParams()
	}

	job := &rowJob{fn: sk.fn, out: out, inputs: samplers, params: params}
	if d.rows == nil || out.width*out.height < parallelThreshold {
		job.runRows(0, out.height)
		return nil
	}
	d.rows.run(job, out.height)
	return nil
}

// Release frees every buffer and stops the worker goroutines.
func (d *SoftwareDevice) Release() {
	if d.released {
		return
	}
	d.released = true
	d.buffers = make(map[Buffer]*softBuffer)
	if d.rows != nil {
		d.rows.stop()
	}
}

func (d *SoftwareDevice) buffer(b Buffer) (*softBuffer, error) {
	if d.released {
		return nil, ErrDeviceReleased
	}
	buf, ok := d.buffers[b]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBuffer, b)
	}
	return buf, nil
}

func quantizeAll(data []float32) {
	for i, v := range data {
		data[i] = float32(quantize8(v)) / 255
	}
}

// rowJob is one pass split into row ranges.
type rowJob struct {
	fn     KernelFunc
	out    *softBuffer
	inputs []Sampler
	params *Params
}

func (j *rowJob) runRows(start, end int) {
	inv := Invocation{
		Width:  j.out.width,
		Height: j.out.height,
		Inputs: j.inputs,
		Params: j.params,
	}
	quantize := j.out.format == FormatRGBA8
	for y := start; y < end; y++ {
		inv.Y = y
		row := j.out.data[y*j.out.width*Channels : (y+1)*j.out.width*Channels]
		for x := 0; x < j.out.width; x++ {
			inv.X = x
			t := j.fn(&inv)
			if quantize {
				for c := range t {
					t[c] = float32(quantize8(t[c])) / 255
				}
			}
			copy(row[x*Channels:], t[:])
		}
	}
}

// rowChunk is a range of rows for a worker to process.
type rowChunk struct {
	job        *rowJob
	start, end int
}

// rowWorkers is a persistent pool of goroutines that process row chunks of
// a single pass. run blocks until every chunk has been written.
type rowWorkers struct {
	numWorkers int
	workChan   chan rowChunk
	doneChan   chan struct{}
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

func newRowWorkers(n int) *rowWorkers {
	w := &rowWorkers{
		numWorkers: n,
		workChan:   make(chan rowChunk, n),
		doneChan:   make(chan struct{}, n),
		stopChan:   make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

func (w *rowWorkers) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopChan:
			return
		case c := <-w.workChan:
			c.job.runRows(c.start, c.end)
			w.doneChan <- struct{}{}
		}
	}
}

func (w *rowWorkers) run(job *rowJob, rows int) {
	chunkSize := (rows + w.numWorkers - 1) / w.numWorkers
	chunks := 0
	for start := 0; start < rows; start += chunkSize {
		end := start + chunkSize
		if end > rows {
			end = rows
		}
		w.workChan <- rowChunk{job: job, start: start, end: end}
		chunks++
	}
	for i := 0; i < chunks; i++ {
		<-w.doneChan
	}
}

func (w *rowWorkers) stop() {
	close(w.stopChan)
	w.wg.Wait()
}
