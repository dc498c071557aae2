// Package nrrd reads and writes volumes in the NRRD (Nearly Raw Raster Data)
// format: a text header followed by an attached or detached data payload.
//
// Only single-channel three-dimensional volumes are supported. Values are
// converted to float64 on load regardless of the stored sample type.
package nrrd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"roistats/internal/models"
)

var (
	// ErrInvalidHeader is returned for malformed or incomplete headers.
	ErrInvalidHeader = errors.New("invalid NRRD header")

	// ErrUnsupported is returned for valid NRRD files using features this
	// package does not implement (non-3D data, block type, hex encoding, ...).
	ErrUnsupported = errors.New("unsupported NRRD feature")

	// ErrShortData is returned when the payload holds fewer samples than
	// the header's sizes require.
	ErrShortData = errors.New("NRRD payload shorter than declared sizes")
)

// Canonical sample type names.
const (
	TypeInt8   = "int8"
	TypeUint8  = "uint8"
	TypeInt16  = "int16"
	TypeUint16 = "uint16"
	TypeInt32  = "int32"
	TypeUint32 = "uint32"
	TypeInt64  = "int64"
	TypeUint64 = "uint64"
	TypeFloat  = "float"
	TypeDouble = "double"
)

// Canonical encoding names.
const (
	EncodingRaw   = "raw"
	EncodingGzip  = "gzip"
	EncodingBzip2 = "bzip2"
	EncodingASCII = "ascii"
)

var typeAliases = map[string]string{
	"signed char": TypeInt8, "int8": TypeInt8, "int8_t": TypeInt8,
	"uchar": TypeUint8, "unsigned char": TypeUint8, "uint8": TypeUint8, "uint8_t": TypeUint8,
	"short": TypeInt16, "short int": TypeInt16, "signed short": TypeInt16, "signed short int": TypeInt16,
	"int16": TypeInt16, "int16_t": TypeInt16,
	"ushort": TypeUint16, "unsigned short": TypeUint16, "unsigned short int": TypeUint16,
	"uint16": TypeUint16, "uint16_t": TypeUint16,
	"int": TypeInt32, "signed int": TypeInt32, "int32": TypeInt32, "int32_t": TypeInt32,
	"uint": TypeUint32, "unsigned int": TypeUint32, "uint32": TypeUint32, "uint32_t": TypeUint32,
	"longlong": TypeInt64, "long long": TypeInt64, "long long int": TypeInt64, "signed long long": TypeInt64,
	"signed long long int": TypeInt64, "int64": TypeInt64, "int64_t": TypeInt64,
	"ulonglong": TypeUint64, "unsigned long long": TypeUint64, "unsigned long long int": TypeUint64,
	"uint64": TypeUint64, "uint64_t": TypeUint64,
	"float": TypeFloat,
	"double": TypeDouble,
}

var typeSizes = map[string]int{
	TypeInt8: 1, TypeUint8: 1,
	TypeInt16: 2, TypeUint16: 2,
	TypeInt32: 4, TypeUint32: 4, TypeFloat: 4,
	TypeInt64: 8, TypeUint64: 8, TypeDouble: 8,
}

var encodingAliases = map[string]string{
	"raw":   EncodingRaw,
	"gz":    EncodingGzip,
	"gzip":  EncodingGzip,
	"bz2":   EncodingBzip2,
	"bzip2": EncodingBzip2,
	"txt":   EncodingASCII,
	"text":  EncodingASCII,
	"ascii": EncodingASCII,
}

// Header holds the parsed fields of an NRRD header.
type Header struct {
	// Version is the digit of the NRRD000X magic line
	Version int

	// Type is the canonical sample type (see the Type constants)
	Type string

	Dimension int

	// Sizes lists the axis lengths, fastest axis first (columns, rows, slices)
	Sizes []int

	// Encoding is the canonical payload encoding (see the Encoding constants)
	Encoding string

	// BigEndian is set for "endian: big"
	BigEndian bool

	// Spacings holds per-axis spacings; NaN marks an axis without one
	Spacings []float64

	// SpaceDirections holds one vector per axis; nil marks "none"
	SpaceDirections [][]float64

	Space       string
	SpaceOrigin []float64

	// DataFile names a detached payload, relative to the header's directory
	DataFile string

	LineSkip int

	// ByteSkip is the number of bytes to skip before the samples; -1 means
	// the samples are the last bytes of a raw payload
	ByteSkip int

	// Fields holds every "field: value" line verbatim
	Fields map[string]string

	// KeyValues holds every "key:=value" line
	KeyValues map[string]string
}

// SampleSize returns the size in bytes of one sample.
func (h *Header) SampleSize() int {
	return typeSizes[h.Type]
}

// Count returns the number of samples described by Sizes. Headers returned
// by ReadHeader are guaranteed not to overflow.
func (h *Header) Count() int {
	n := 1
	for _, s := range h.Sizes {
		n *= s
	}
	return n
}

// Spacing returns the physical voxel size. Each axis takes its value from
// "spacings" when present and finite, otherwise from the length of its
// "space directions" vector, otherwise 1.
func (h *Header) Spacing() models.Spacing {
	var sp [3]float64
	for axis := 0; axis < 3; axis++ {
		sp[axis] = 1

		if axis < len(h.Spacings) {
			if s := h.Spacings[axis]; !math.IsNaN(s) && !math.IsInf(s, 0) && s != 0 {
				sp[axis] = math.Abs(s)
				continue
			}
		}

		if axis < len(h.SpaceDirections) && h.SpaceDirections[axis] != nil {
			if norm := vectorLength(h.SpaceDirections[axis]); norm > 0 {
				sp[axis] = norm
			}
		}
	}

	return models.Spacing{X: sp[0], Y: sp[1], Z: sp[2]}
}

// Directions returns the physical step of each axis, fastest axis first.
// Axes without a "space directions" vector step along their own coordinate
// by the spacing.
func (h *Header) Directions() [][]float64 {
	sp := h.Spacing()
	steps := []float64{sp.X, sp.Y, sp.Z}

	dims := 3
	for _, d := range h.SpaceDirections {
		if d != nil {
			dims = len(d)
			break
		}
	}

	out := make([][]float64, 3)
	for axis := range out {
		if axis < len(h.SpaceDirections) && h.SpaceDirections[axis] != nil {
			out[axis] = append([]float64(nil), h.SpaceDirections[axis]...)
			continue
		}
		out[axis] = make([]float64, dims)
		if axis < dims {
			out[axis][axis] = steps[axis]
		}
	}
	return out
}

// OriginAt returns the physical position of the voxel at idx: the space
// origin (zero when absent) plus idx steps along each axis direction.
func (h *Header) OriginAt(idx models.Index) []float64 {
	dirs := h.Directions()
	origin := make([]float64, len(dirs[0]))
	copy(origin, h.SpaceOrigin)

	for axis, n := range []int{idx.Column, idx.Row, idx.Slice} {
		for i := range origin {
			if i < len(dirs[axis]) {
				origin[i] += float64(n) * dirs[axis][i]
			}
		}
	}
	return origin
}

// vectorLength returns the Euclidean length of v. Axis-aligned vectors
// return the absolute value of their only non-zero component exactly.
func vectorLength(v []float64) float64 {
	var sum, single float64
	nonZero := 0
	for _, c := range v {
		if c != 0 {
			nonZero++
			single = math.Abs(c)
		}
		sum += c * c
	}
	if nonZero == 1 {
		return single
	}
	return math.Sqrt(sum)
}

// ReadHeader parses the header from r, stopping after the blank line that
// separates it from an attached payload (or at end of input for a detached
// header).
func ReadHeader(r *bufio.Reader) (*Header, error) {
	magic, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("%w: missing magic line: %v", ErrInvalidHeader, err)
	}
	if len(magic) != 8 || !strings.HasPrefix(magic, "NRRD000") {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, magic)
	}

	h := &Header{
		Fields:    make(map[string]string),
		KeyValues: make(map[string]string),
	}
	h.Version = int(magic[7] - '0')
	if h.Version < 1 || h.Version > 5 {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidHeader, magic)
	}

	for {
		line, err := readLine(r)
		if err == io.EOF && line == "" {
			break
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}

		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		if key, value, ok := strings.Cut(line, ":="); ok {
			h.KeyValues[key] = value
			continue
		}

		field, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed line %q", ErrInvalidHeader, line)
		}
		h.Fields[strings.ToLower(strings.TrimSpace(field))] = strings.TrimSpace(value)

		if err == io.EOF {
			break
		}
	}

	if err := h.parseFields(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *Header) parseFields() error {
	for _, required := range []string{"type", "dimension", "sizes", "encoding"} {
		if _, ok := h.Fields[required]; !ok {
			return fmt.Errorf("%w: missing required field %q", ErrInvalidHeader, required)
		}
	}

	typ, ok := typeAliases[strings.ToLower(h.Fields["type"])]
	if !ok {
		return fmt.Errorf("%w: sample type %q", ErrUnsupported, h.Fields["type"])
	}
	h.Type = typ

	dim, err := strconv.Atoi(h.Fields["dimension"])
	if err != nil || dim < 1 {
		return fmt.Errorf("%w: bad dimension %q", ErrInvalidHeader, h.Fields["dimension"])
	}
	h.Dimension = dim
	if dim != 3 {
		return fmt.Errorf("%w: dimension %d, only single-channel 3D volumes are supported", ErrUnsupported, dim)
	}

	h.Sizes, err = parseInts(h.Fields["sizes"])
	if err != nil || len(h.Sizes) != dim {
		return fmt.Errorf("%w: sizes %q do not match dimension %d", ErrInvalidHeader, h.Fields["sizes"], dim)
	}
	// The payload length in bytes must fit in an int
	total := h.SampleSize()
	for _, s := range h.Sizes {
		if s < 1 {
			return fmt.Errorf("%w: non-positive size in %q", ErrInvalidHeader, h.Fields["sizes"])
		}
		if s > math.MaxInt/total {
			return fmt.Errorf("%w: sizes %q overflow the payload length", ErrInvalidHeader, h.Fields["sizes"])
		}
		total *= s
	}

	enc, ok := encodingAliases[strings.ToLower(h.Fields["encoding"])]
	if !ok {
		return fmt.Errorf("%w: encoding %q", ErrUnsupported, h.Fields["encoding"])
	}
	h.Encoding = enc

	switch endian := strings.ToLower(h.Fields["endian"]); endian {
	case "", "little":
	case "big":
		h.BigEndian = true
	default:
		return fmt.Errorf("%w: endian %q", ErrInvalidHeader, endian)
	}

	if v, ok := h.Fields["spacings"]; ok {
		h.Spacings, err = parseFloats(v)
		if err != nil || len(h.Spacings) != dim {
			return fmt.Errorf("%w: spacings %q", ErrInvalidHeader, v)
		}
	}

	if v, ok := h.Fields["space directions"]; ok {
		h.SpaceDirections, err = parseVectors(v)
		if err != nil || len(h.SpaceDirections) != dim {
			return fmt.Errorf("%w: space directions %q", ErrInvalidHeader, v)
		}
	}

	h.Space = h.Fields["space"]

	if v, ok := h.Fields["space origin"]; ok {
		origin, err := parseVectors(v)
		if err != nil || len(origin) != 1 || origin[0] == nil {
			return fmt.Errorf("%w: space origin %q", ErrInvalidHeader, v)
		}
		h.SpaceOrigin = origin[0]
	}

	for _, name := range []string{"data file", "datafile"} {
		if v, ok := h.Fields[name]; ok {
			if strings.HasPrefix(v, "LIST") || strings.ContainsRune(v, ' ') {
				return fmt.Errorf("%w: multi-file data %q", ErrUnsupported, v)
			}
			h.DataFile = v
		}
	}

	if h.LineSkip, err = parseSkip(h.Fields, "line skip", "lineskip"); err != nil {
		return err
	}
	if h.LineSkip < 0 {
		return fmt.Errorf("%w: negative line skip", ErrInvalidHeader)
	}

	if h.ByteSkip, err = parseSkip(h.Fields, "byte skip", "byteskip"); err != nil {
		return err
	}
	if h.ByteSkip < -1 {
		return fmt.Errorf("%w: byte skip %d", ErrInvalidHeader, h.ByteSkip)
	}
	if h.ByteSkip == -1 && h.Encoding != EncodingRaw {
		return fmt.Errorf("%w: byte skip -1 requires raw encoding", ErrInvalidHeader)
	}

	return nil
}

// readLine returns the next line without its line terminator.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func parseSkip(fields map[string]string, names ...string) (int, error) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("%w: %s %q", ErrInvalidHeader, name, v)
			}
			return n, nil
		}
	}
	return 0, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, tok := range strings.Fields(s) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, tok := range strings.Fields(s) {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// parseVectors parses a list of "(a,b,c)" vectors and "none" entries.
// Whitespace inside the parentheses is tolerated.
func parseVectors(s string) ([][]float64, error) {
	var out [][]float64
	rest := strings.TrimSpace(s)
	for rest != "" {
		switch {
		case strings.HasPrefix(rest, "none"):
			out = append(out, nil)
			rest = rest[len("none"):]

		case strings.HasPrefix(rest, "("):
			end := strings.IndexByte(rest, ')')
			if end < 0 {
				return nil, fmt.Errorf("unterminated vector in %q", s)
			}
			var vec []float64
			for _, tok := range strings.Split(rest[1:end], ",") {
				f, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
				if err != nil {
					return nil, err
				}
				vec = append(vec, f)
			}
			out = append(out, vec)
			rest = rest[end+1:]

		default:
			return nil, fmt.Errorf("unexpected token in %q", s)
		}
		rest = strings.TrimSpace(rest)
	}
	return out, nil
}
