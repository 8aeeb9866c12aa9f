package model

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

const (
	// Magic opens every encoded program ("TNSR" on disk).
	Magic uint32 = 0x52534E54

	// Version is the current encoding version.
	Version uint16 = 1

	headerSize = 4 + 2 + 2 + 16 + 4 + 4
)

// ErrCorrupt is returned when an encoded program fails to decode.
var ErrCorrupt = errors.New("corrupt program")

// Encode writes the program in the versioned binary format:
//
//	magic(4) version(2) reserved(2) id(16) payloadLen(4) crc32(4) payload
//
// All integers are little-endian. The checksum covers the payload only.
func Encode(p *Program) ([]byte, error) {
	w := &writer{}
	w.str(p.Name)
	w.put(uint16(p.Dim))
	w.refs(p.Catalog.Constants)
	w.refs(p.Catalog.Scalars)

	w.put(uint32(len(p.Outputs)))
	for _, o := range p.Outputs {
		w.str(o.Name)
		w.put(uint8(o.Order))
		w.put(uint32(o.Base))
		w.str(o.Labels.String())
	}

	w.put(uint32(len(p.Kernels)))
	for _, k := range p.Kernels {
		w.put(uint32(k.Equation))
		w.put(uint32(len(k.Targets)))
		w.put(k.Targets)
		w.tree(k.Tree)
	}
	if w.err != nil {
		return nil, errors.Wrap(w.err, "encode program")
	}

	payload := w.buf.Bytes()
	var out bytes.Buffer
	out.Grow(headerSize + len(payload))
	hdr := struct {
		Magic    uint32
		Version  uint16
		Reserved uint16
		ID       [16]byte
		Len      uint32
		CRC      uint32
	}{Magic, Version, 0, [16]byte(p.ID), uint32(len(payload)), crc32.ChecksumIEEE(payload)}
	if err := binary.Write(&out, binary.LittleEndian, hdr); err != nil {
		return nil, errors.Wrap(err, "encode header")
	}
	out.Write(payload)
	return out.Bytes(), nil
}

// Decode reads a program written by Encode and validates it.
func Decode(data []byte) (*Program, error) {
	if len(data) < headerSize {
		return nil, errors.Wrapf(ErrCorrupt, "%d bytes is shorter than the header", len(data))
	}
	var hdr struct {
		Magic    uint32
		Version  uint16
		Reserved uint16
		ID       [16]byte
		Len      uint32
		CRC      uint32
	}
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	if hdr.Magic != Magic {
		return nil, errors.Wrapf(ErrCorrupt, "invalid magic number: %x", hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported version: %d", hdr.Version)
	}
	payload := data[headerSize:]
	if int(hdr.Len) != len(payload) {
		return nil, errors.Wrapf(ErrCorrupt, "payload length %d, header says %d", len(payload), hdr.Len)
	}
	if crc32.ChecksumIEEE(payload) != hdr.CRC {
		return nil, errors.Wrap(ErrCorrupt, "checksum mismatch")
	}

	r := &reader{r: bytes.NewReader(payload), tensors: map[string]*expr.Tensor{}}
	p := &Program{ID: uuid.UUID(hdr.ID)}
	p.Name = r.str()
	p.Dim = int(r.u16())
	constants := r.refs(true)
	scalars := r.refs(false)
	p.Catalog = &Catalog{Constants: constants, Scalars: scalars}
	p.Catalog.index()

	nOut := r.count(4)
	p.Outputs = make([]Output, 0, nOut)
	for i := 0; i < nOut && r.err == nil; i++ {
		o := Output{Name: r.str(), Order: int(r.u8()), Base: int(r.u32())}
		labels := r.str()
		if len(labels) > core.IndexCapacity {
			r.fail("output %s: %d labels", o.Name, len(labels))
			break
		}
		o.Labels = core.NewIndex(labels)
		p.Outputs = append(p.Outputs, o)
	}

	nKernels := r.count(8)
	p.Kernels = make([]Kernel, 0, nKernels)
	for i := 0; i < nKernels && r.err == nil; i++ {
		k := Kernel{Equation: int(r.u32())}
		k.Targets = make([]int32, r.count(4))
		r.get(k.Targets)
		k.Tree = r.tree()
		p.Kernels = append(p.Kernels, k)
	}
	if r.err != nil {
		return nil, errors.Wrap(ErrCorrupt, r.err.Error())
	}
	if r.r.Len() != 0 {
		return nil, errors.Wrapf(ErrCorrupt, "%d trailing bytes", r.r.Len())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteFile encodes p to path.
func WriteFile(path string, p *Program) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}

// ReadFile decodes the program stored at path.
func ReadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	p, err := Decode(data)
	return p, errors.Wrapf(err, "decode %s", path)
}

type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) put(v any) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.LittleEndian, v)
	}
}

func (w *writer) str(s string) {
	w.put(uint16(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) coord(c core.Coord) {
	w.put(uint8(c.Len()))
	for _, v := range c.Values() {
		w.put(uint8(v))
	}
}

func (w *writer) refs(refs []expr.ScalarRef) {
	w.put(uint32(len(refs)))
	for _, r := range refs {
		w.str(r.Tensor.Name())
		w.put(uint8(r.Tensor.Order()))
		w.coord(r.Component)
		w.coord(r.Derivs)
	}
}

func (w *writer) labels(c *CSR[byte]) {
	w.put(uint32(len(c.Data)))
	w.put(c.Offsets)
	w.put(c.Data)
}

func (w *writer) tree(t *Tree) {
	n := t.Len()
	w.put(uint16(t.Dim))
	w.put(uint32(n))
	tags := make([]uint8, n)
	funcs := make([]uint8, n)
	for i := range tags {
		tags[i] = uint8(t.Tags[i])
		funcs[i] = uint8(t.Funcs[i])
	}
	w.put(tags)
	w.put(funcs)
	w.put(t.Left)
	w.labels(&t.Outer)
	w.labels(&t.Inner)
	w.labels(&t.Binding)
	w.put(uint32(len(t.IDs.Data)))
	w.put(t.IDs.Offsets)
	w.put(t.IDs.Data)
	w.put(t.Values)
	w.put(t.Offsets)
	w.put(t.StackDepth)
}

type reader struct {
	r       *bytes.Reader
	err     error
	tensors map[string]*expr.Tensor
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = errors.Errorf(format, args...)
	}
}

func (r *reader) get(v any) {
	if r.err == nil {
		r.err = binary.Read(r.r, binary.LittleEndian, v)
	}
}

func (r *reader) u8() uint8 {
	var v uint8
	r.get(&v)
	return v
}

func (r *reader) u16() uint16 {
	var v uint16
	r.get(&v)
	return v
}

func (r *reader) u32() uint32 {
	var v uint32
	r.get(&v)
	return v
}

// count reads a length prefix and rejects lengths that cannot fit in the
// remaining input at elemSize bytes per element.
func (r *reader) count(elemSize int) int {
	n := int(r.u32())
	if r.err == nil && n*elemSize > r.r.Len() {
		r.fail("length %d exceeds remaining %d bytes", n, r.r.Len())
		return 0
	}
	return n
}

func (r *reader) str() string {
	n := int(r.u16())
	if r.err != nil {
		return ""
	}
	if n > r.r.Len() {
		r.fail("string of %d bytes exceeds input", n)
		return ""
	}
	b := make([]byte, n)
	r.get(b)
	return string(b)
}

func (r *reader) coord() core.Coord {
	n := int(r.u8())
	if n > core.IndexCapacity {
		r.fail("coord of %d entries", n)
		return core.Coord{}
	}
	vals := make([]uint8, n)
	r.get(vals)
	var c core.Coord
	for _, v := range vals {
		c = c.Append(int(v))
	}
	return c
}

func (r *reader) tensor(name string, order int) *expr.Tensor {
	if t, ok := r.tensors[name]; ok {
		if t.Order() != order {
			r.fail("tensor %s: order %d and %d", name, t.Order(), order)
		}
		return t
	}
	if name == "" || order > core.IndexCapacity {
		r.fail("tensor %q of order %d", name, order)
		return nil
	}
	t := expr.NewTensor(name, order)
	r.tensors[name] = t
	return t
}

func (r *reader) refs(constant bool) []expr.ScalarRef {
	n := r.count(5)
	out := make([]expr.ScalarRef, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		name := r.str()
		order := int(r.u8())
		component := r.coord()
		derivs := r.coord()
		t := r.tensor(name, order)
		if r.err != nil {
			break
		}
		if component.Len() != order {
			r.fail("scalar %s: component %v for order %d", name, component, order)
			break
		}
		out = append(out, expr.ScalarRef{Tensor: t, Component: component, Derivs: derivs, Constant: constant})
	}
	return out
}

func (r *reader) labels(rows int) CSR[byte] {
	n := r.count(1)
	c := CSR[byte]{Offsets: make([]int32, rows+1)}
	r.get(c.Offsets)
	if n > 0 {
		c.Data = make([]byte, n)
		r.get(c.Data)
	}
	return c
}

func (r *reader) tree() *Tree {
	t := &Tree{Dim: int(r.u16())}
	n := r.count(1)
	if r.err != nil {
		return t
	}
	tags := make([]uint8, n)
	funcs := make([]uint8, n)
	r.get(tags)
	r.get(funcs)
	t.Tags = make([]expr.Tag, n)
	t.Funcs = make([]expr.Func, n)
	for i := range tags {
		t.Tags[i] = expr.Tag(tags[i])
		t.Funcs[i] = expr.Func(funcs[i])
	}
	t.Left = make([]int32, n)
	r.get(t.Left)
	t.Outer = r.labels(n)
	t.Inner = r.labels(n)
	t.Binding = r.labels(n)
	ids := r.count(4)
	t.IDs = CSR[int32]{Offsets: make([]int32, n+1)}
	r.get(t.IDs.Offsets)
	if ids > 0 {
		t.IDs.Data = make([]int32, ids)
		r.get(t.IDs.Data)
	}
	t.Values = make([]float64, n)
	r.get(t.Values)
	t.Offsets = make([]int32, n)
	r.get(t.Offsets)
	r.get(&t.StackDepth)
	return t
}
