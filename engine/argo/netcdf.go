// Package argo decodes profile files in the NetCDF classic format (CDF-1)
// into profile records. Only the subset of the format that profile files use
// is supported: fixed-size variables, big-endian scalars, and text attributes.
package argo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// NetCDF classic tag and type constants.
const (
	tagDimension = 0x0A
	tagVariable  = 0x0B
	tagAttribute = 0x0C

	typeByte   = 1
	typeChar   = 2
	typeShort  = 3
	typeInt    = 4
	typeFloat  = 5
	typeDouble = 6
)

var (
	ErrBadMagic        = errors.New("not a NetCDF classic file")
	ErrRecordVariables = errors.New("record (unlimited-dimension) variables are not supported")
	ErrTruncated       = errors.New("file truncated")
)

// Dimension is a named array extent.
type Dimension struct {
	Name string
	Size int
}

// Variable is one array in the file. Data access goes through File so the
// underlying buffer is shared, not copied per variable.
type Variable struct {
	Name  string
	Type  int32
	Dims  []int // indexes into File.Dims
	Attrs map[string]any
	size  int
	begin int
}

// File is a decoded NetCDF classic dataset.
type File struct {
	Dims  []Dimension
	Vars  map[string]*Variable
	Attrs map[string]any
	buf   []byte
}

type cursor struct {
	buf []byte
	off int
}

func (c *cursor) need(n int) error {
	if c.off+n > len(c.buf) {
		return ErrTruncated
	}
	return nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) i32() (int32, error) {
	v, err := c.u32()
	return int32(v), err
}

// name reads a length-prefixed string padded to a 4-byte boundary.
func (c *cursor) name() (string, error) {
	n, err := c.i32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("negative name length %d", n)
	}
	padded := int(n+3) &^ 3
	if err := c.need(padded); err != nil {
		return "", err
	}
	s := string(c.buf[c.off : c.off+int(n)])
	c.off += padded
	return s, nil
}

// Decode parses a NetCDF classic byte stream.
func Decode(data []byte) (*File, error) {
	c := &cursor{buf: data}
	if err := c.need(4); err != nil {
		return nil, err
	}
	if data[0] != 'C' || data[1] != 'D' || data[2] != 'F' || data[3] != 1 {
		return nil, ErrBadMagic
	}
	c.off = 4
	if _, err := c.u32(); err != nil { // numrecs; record vars rejected below
		return nil, err
	}

	f := &File{Vars: map[string]*Variable{}, buf: data}

	dims, err := decodeDims(c)
	if err != nil {
		return nil, err
	}
	f.Dims = dims

	f.Attrs, err = decodeAttrs(c)
	if err != nil {
		return nil, err
	}

	if err := decodeVars(c, f); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeDims(c *cursor) ([]Dimension, error) {
	tag, err := c.i32()
	if err != nil {
		return nil, err
	}
	count, err := c.i32()
	if err != nil {
		return nil, err
	}
	if tag == 0 && count == 0 {
		return nil, nil
	}
	if tag != tagDimension {
		return nil, fmt.Errorf("expected dimension list, got tag %d", tag)
	}
	dims := make([]Dimension, 0, count)
	for i := int32(0); i < count; i++ {
		name, err := c.name()
		if err != nil {
			return nil, err
		}
		size, err := c.i32()
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return nil, fmt.Errorf("dimension %s: %w", name, ErrRecordVariables)
		}
		dims = append(dims, Dimension{Name: name, Size: int(size)})
	}
	return dims, nil
}

func decodeAttrs(c *cursor) (map[string]any, error) {
	tag, err := c.i32()
	if err != nil {
		return nil, err
	}
	count, err := c.i32()
	if err != nil {
		return nil, err
	}
	if tag == 0 && count == 0 {
		return nil, nil
	}
	if tag != tagAttribute {
		return nil, fmt.Errorf("expected attribute list, got tag %d", tag)
	}
	attrs := make(map[string]any, count)
	for i := int32(0); i < count; i++ {
		name, err := c.name()
		if err != nil {
			return nil, err
		}
		typ, err := c.i32()
		if err != nil {
			return nil, err
		}
		n, err := c.i32()
		if err != nil {
			return nil, err
		}
		val, err := readValues(c, typ, int(n))
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attrs[name] = val
	}
	return attrs, nil
}

func decodeVars(c *cursor, f *File) error {
	tag, err := c.i32()
	if err != nil {
		return err
	}
	count, err := c.i32()
	if err != nil {
		return err
	}
	if tag == 0 && count == 0 {
		return nil
	}
	if tag != tagVariable {
		return fmt.Errorf("expected variable list, got tag %d", tag)
	}
	for i := int32(0); i < count; i++ {
		name, err := c.name()
		if err != nil {
			return err
		}
		ndims, err := c.i32()
		if err != nil {
			return err
		}
		dims := make([]int, ndims)
		for d := range dims {
			id, err := c.i32()
			if err != nil {
				return err
			}
			if int(id) >= len(f.Dims) {
				return fmt.Errorf("variable %s: dimension id %d out of range", name, id)
			}
			dims[d] = int(id)
		}
		attrs, err := decodeAttrs(c)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		typ, err := c.i32()
		if err != nil {
			return err
		}
		size, err := c.i32()
		if err != nil {
			return err
		}
		begin, err := c.i32()
		if err != nil {
			return err
		}
		f.Vars[name] = &Variable{
			Name:  name,
			Type:  typ,
			Dims:  dims,
			Attrs: attrs,
			size:  int(size),
			begin: int(begin),
		}
	}
	return nil
}

// readValues decodes n values of the given type at the cursor, consuming
// padding to the next 4-byte boundary.
func readValues(c *cursor, typ int32, n int) (any, error) {
	width, err := typeWidth(typ)
	if err != nil {
		return nil, err
	}
	total := (n*width + 3) &^ 3
	if err := c.need(total); err != nil {
		return nil, err
	}
	raw := c.buf[c.off : c.off+n*width]
	c.off += total

	if typ == typeChar {
		return string(raw), nil
	}
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		vals[i] = decodeScalar(typ, raw[i*width:])
	}
	return vals, nil
}

func typeWidth(typ int32) (int, error) {
	switch typ {
	case typeByte, typeChar:
		return 1, nil
	case typeShort:
		return 2, nil
	case typeInt, typeFloat:
		return 4, nil
	case typeDouble:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported type %d", typ)
	}
}

func decodeScalar(typ int32, b []byte) float64 {
	switch typ {
	case typeByte:
		return float64(int8(b[0]))
	case typeShort:
		return float64(int16(binary.BigEndian.Uint16(b)))
	case typeInt:
		return float64(int32(binary.BigEndian.Uint32(b)))
	case typeFloat:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case typeDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return math.NaN()
}

// Shape returns the variable's dimension sizes in order.
func (f *File) Shape(v *Variable) []int {
	shape := make([]int, len(v.Dims))
	for i, id := range v.Dims {
		shape[i] = f.Dims[id].Size
	}
	return shape
}

// HasVar reports whether a variable exists.
func (f *File) HasVar(name string) bool {
	_, ok := f.Vars[name]
	return ok
}

// Floats returns the numeric variable flattened in row-major order.
func (f *File) Floats(name string) ([]float64, error) {
	v, ok := f.Vars[name]
	if !ok {
		return nil, fmt.Errorf("variable %s not found", name)
	}
	if v.Type == typeChar {
		return nil, fmt.Errorf("variable %s is text", name)
	}
	width, err := typeWidth(v.Type)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	n := 1
	for _, s := range f.Shape(v) {
		n *= s
	}
	if v.begin+n*width > len(f.buf) {
		return nil, fmt.Errorf("variable %s: %w", name, ErrTruncated)
	}
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		vals[i] = decodeScalar(v.Type, f.buf[v.begin+i*width:])
	}
	return vals, nil
}

// Strings returns a char variable as one string per leading-dimension entry,
// treating the last dimension as the string length. NUL and space padding is
// trimmed.
func (f *File) Strings(name string) ([]string, error) {
	v, ok := f.Vars[name]
	if !ok {
		return nil, fmt.Errorf("variable %s not found", name)
	}
	if v.Type != typeChar {
		return nil, fmt.Errorf("variable %s is not text", name)
	}
	shape := f.Shape(v)
	if len(shape) == 0 {
		return nil, fmt.Errorf("variable %s is scalar text", name)
	}
	strLen := shape[len(shape)-1]
	rows := 1
	for _, s := range shape[:len(shape)-1] {
		rows *= s
	}
	if v.begin+rows*strLen > len(f.buf) {
		return nil, fmt.Errorf("variable %s: %w", name, ErrTruncated)
	}
	out := make([]string, rows)
	for i := 0; i < rows; i++ {
		raw := f.buf[v.begin+i*strLen : v.begin+(i+1)*strLen]
		out[i] = trimPadding(raw)
	}
	return out, nil
}

func trimPadding(raw []byte) string {
	end := len(raw)
	for end > 0 && (raw[end-1] == 0 || raw[end-1] == ' ') {
		end--
	}
	return string(raw[:end])
}
