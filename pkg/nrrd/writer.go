package nrrd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"roistats/internal/models"
)

// WriteOptions controls how a volume is serialized.
type WriteOptions struct {
	// Type is one of TypeDouble (default), TypeFloat, TypeInt16 or TypeUint8.
	// Integer types round and clamp the samples.
	Type string

	// Encoding is EncodingRaw (default) or EncodingGzip.
	Encoding string

	// KeyValues are written as "key:=value" lines.
	KeyValues map[string]string

	// Space names the physical coordinate system; left-posterior-superior
	// by default.
	Space string

	// Origin is the position of the first voxel; zero by default.
	Origin []float64

	// Directions holds one step vector per axis, fastest first. By default
	// the axes are aligned with the space and scaled by the volume spacing.
	Directions [][]float64
}

// WriteFile writes vol to path, creating the parent directory if needed.
func WriteFile(path string, vol *models.Volume, opts WriteOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(file, vol, opts); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return file.Close()
}

// Write serializes vol as an attached NRRD0004 stream in little-endian order.
func Write(w io.Writer, vol *models.Volume, opts WriteOptions) error {
	if opts.Type == "" {
		opts.Type = TypeDouble
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingRaw
	}

	switch opts.Type {
	case TypeDouble, TypeFloat, TypeInt16, TypeUint8:
	default:
		return fmt.Errorf("%w: write type %q", ErrUnsupported, opts.Type)
	}
	if opts.Encoding != EncodingRaw && opts.Encoding != EncodingGzip {
		return fmt.Errorf("%w: write encoding %q", ErrUnsupported, opts.Encoding)
	}
	if len(vol.Data) != vol.Len() {
		return fmt.Errorf("volume holds %d samples, shape needs %d", len(vol.Data), vol.Len())
	}
	if opts.Space == "" {
		opts.Space = "left-posterior-superior"
	}
	if opts.Directions == nil {
		sp := vol.VoxelSize
		opts.Directions = [][]float64{{sp.X, 0, 0}, {0, sp.Y, 0}, {0, 0, sp.Z}}
	}
	if len(opts.Directions) != 3 {
		return fmt.Errorf("%d space directions for 3 axes", len(opts.Directions))
	}
	dims := len(opts.Directions[0])
	for _, d := range opts.Directions {
		if len(d) != dims {
			return fmt.Errorf("space directions of mixed length %d and %d", dims, len(d))
		}
	}
	if opts.Origin == nil {
		opts.Origin = make([]float64, dims)
	}
	if len(opts.Origin) != dims {
		return fmt.Errorf("space origin has %d components, directions have %d", len(opts.Origin), dims)
	}

	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "NRRD0004")
	fmt.Fprintln(bw, "# Complete NRRD file format specification at:")
	fmt.Fprintln(bw, "# http://teem.sourceforge.net/nrrd/format.html")
	fmt.Fprintf(bw, "type: %s\n", opts.Type)
	fmt.Fprintln(bw, "dimension: 3")
	if dims == 3 {
		fmt.Fprintf(bw, "space: %s\n", opts.Space)
	} else {
		fmt.Fprintf(bw, "space dimension: %d\n", dims)
	}
	fmt.Fprintf(bw, "sizes: %d %d %d\n", vol.Width, vol.Height, vol.Depth)
	fmt.Fprintf(bw, "space directions: %s %s %s\n",
		formatVector(opts.Directions[0]), formatVector(opts.Directions[1]), formatVector(opts.Directions[2]))
	fmt.Fprintln(bw, "kinds: domain domain domain")
	fmt.Fprintln(bw, "endian: little")
	fmt.Fprintf(bw, "encoding: %s\n", opts.Encoding)
	fmt.Fprintf(bw, "space origin: %s\n", formatVector(opts.Origin))

	// Sorted so output is reproducible
	keys := make([]string, 0, len(opts.KeyValues))
	for k := range opts.KeyValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(bw, "%s:=%s\n", k, opts.KeyValues[k])
	}
	fmt.Fprintln(bw)

	payload := encodeBinary(vol.Data, opts.Type)

	if opts.Encoding == EncodingGzip {
		gz := gzip.NewWriter(bw)
		if _, err := gz.Write(payload); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}
	} else if _, err := bw.Write(payload); err != nil {
		return err
	}

	return bw.Flush()
}

// formatVector renders v as "(a,b,c)" with full precision.
func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, c := range v {
		parts[i] = strconv.FormatFloat(c, 'g', -1, 64)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func encodeBinary(data []float64, typ string) []byte {
	size := typeSizes[typ]
	out := make([]byte, len(data)*size)
	order := binary.LittleEndian

	for i, v := range data {
		b := out[i*size : (i+1)*size]
		switch typ {
		case TypeDouble:
			order.PutUint64(b, math.Float64bits(v))
		case TypeFloat:
			order.PutUint32(b, math.Float32bits(float32(v)))
		case TypeInt16:
			order.PutUint16(b, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
		case TypeUint8:
			b[0] = uint8(clampRound(v, 0, math.MaxUint8))
		}
	}
	return out
}

func clampRound(v, lo, hi float64) float64 {
	v = math.Round(v)
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
