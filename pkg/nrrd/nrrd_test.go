package nrrd

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"roistats/internal/models"
)

// createTestVolume creates a small volume with a unique value per voxel
func createTestVolume() *models.Volume {
	vol := models.NewVolume(4, 3, 2, models.Spacing{X: 0.75, Y: 0.8, Z: 2.5})
	for i := range vol.Data {
		vol.Data[i] = float64(i) - 5.5
	}
	return vol
}

// TestRoundTrip verifies that written volumes read back unchanged
func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		opts WriteOptions
	}{
		{"RawDouble", WriteOptions{}},
		{"GzipDouble", WriteOptions{Encoding: EncodingGzip}},
		{"GzipFloat", WriteOptions{Type: TypeFloat, Encoding: EncodingGzip}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			vol := createTestVolume()

			var buf bytes.Buffer
			if err := Write(&buf, vol, tc.opts); err != nil {
				t.Fatalf("Write failed: %v", err)
			}

			got, header, err := Read(&buf, "")
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}

			if got.Width != vol.Width || got.Height != vol.Height || got.Depth != vol.Depth {
				t.Fatalf("Shape mismatch: expected %v, got %v", vol.Shape(), got.Shape())
			}
			if got.VoxelSize != vol.VoxelSize {
				t.Errorf("Expected spacing %v, got %v", vol.VoxelSize, got.VoxelSize)
			}
			if header.Space != "left-posterior-superior" {
				t.Errorf("Unexpected space %q", header.Space)
			}
			for i := range vol.Data {
				if got.Data[i] != vol.Data[i] {
					t.Fatalf("Sample %d: expected %v, got %v", i, vol.Data[i], got.Data[i])
				}
			}
		})
	}
}

// TestWriteIntegerTypes verifies rounding and clamping for integer outputs
func TestWriteIntegerTypes(t *testing.T) {
	vol := models.NewVolume(4, 1, 1, models.Spacing{X: 1, Y: 1, Z: 1})
	copy(vol.Data, []float64{-1.6, 2.4, 300, 40000})

	var buf bytes.Buffer
	if err := Write(&buf, vol, WriteOptions{Type: TypeUint8}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, _, err := Read(&buf, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if want := []float64{0, 2, 255, 255}; !equalFloats(got.Data, want) {
		t.Errorf("uint8: expected %v, got %v", want, got.Data)
	}

	buf.Reset()
	if err := Write(&buf, vol, WriteOptions{Type: TypeInt16}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, _, err = Read(&buf, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if want := []float64{-2, 2, 300, 32767}; !equalFloats(got.Data, want) {
		t.Errorf("int16: expected %v, got %v", want, got.Data)
	}
}

// TestReadBigEndianSpacings verifies a hand-written header with big endian
// shorts, type aliases, comments and key/value pairs
func TestReadBigEndianSpacings(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("NRRD0004\n")
	buf.WriteString("# written by hand\n")
	buf.WriteString("type: short\n")
	buf.WriteString("dimension: 3\n")
	buf.WriteString("sizes: 2 2 1\n")
	buf.WriteString("spacings: 0.5 0.25 3\n")
	buf.WriteString("endian: big\n")
	buf.WriteString("encoding: raw\n")
	buf.WriteString("modality:=CT\n")
	buf.WriteString("\n")
	for _, v := range []int16{-1000, 0, 40, 1200} {
		binary.Write(&buf, binary.BigEndian, v)
	}

	vol, header, err := Read(&buf, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if header.Type != TypeInt16 || !header.BigEndian {
		t.Errorf("Unexpected header type %q big=%v", header.Type, header.BigEndian)
	}
	if header.KeyValues["modality"] != "CT" {
		t.Errorf("Expected key/value modality=CT, got %v", header.KeyValues)
	}
	if vol.VoxelSize != (models.Spacing{X: 0.5, Y: 0.25, Z: 3}) {
		t.Errorf("Unexpected spacing %v", vol.VoxelSize)
	}
	if want := []float64{-1000, 0, 40, 1200}; !equalFloats(vol.Data, want) {
		t.Errorf("Expected %v, got %v", want, vol.Data)
	}
}

// TestReadASCII verifies text encoded payloads
func TestReadASCII(t *testing.T) {
	input := "NRRD0001\ntype: float\ndimension: 3\nsizes: 3 1 2\nencoding: text\n\n1.5 2\n3 4\n5 6.25\n"

	vol, _, err := Read(strings.NewReader(input), "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if want := []float64{1.5, 2, 3, 4, 5, 6.25}; !equalFloats(vol.Data, want) {
		t.Errorf("Expected %v, got %v", want, vol.Data)
	}
	if vol.VoxelSize != (models.Spacing{X: 1, Y: 1, Z: 1}) {
		t.Errorf("Expected unit spacing without spacing fields, got %v", vol.VoxelSize)
	}
}

// TestHeaderSpacingFromDirections verifies spacing derived from oblique
// direction vectors
func TestHeaderSpacingFromDirections(t *testing.T) {
	input := "NRRD0005\ntype: uchar\ndimension: 3\nsizes: 1 1 1\nencoding: raw\n" +
		"space: right-anterior-superior\n" +
		"space directions: (0.6, 0.8, 0) (0,-2,0) (0,0,1.25)\n\n\x07"

	vol, header, err := Read(strings.NewReader(input), "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if math.Abs(vol.VoxelSize.X-1) > 1e-12 || vol.VoxelSize.Y != 2 || vol.VoxelSize.Z != 1.25 {
		t.Errorf("Unexpected spacing %v", vol.VoxelSize)
	}
	if header.Space != "right-anterior-superior" {
		t.Errorf("Unexpected space %q", header.Space)
	}
	if vol.Data[0] != 7 {
		t.Errorf("Expected sample 7, got %v", vol.Data[0])
	}
}

// TestWriteSpaceGeometry verifies that space, origin and directions are kept
func TestWriteSpaceGeometry(t *testing.T) {
	vol := createTestVolume()
	opts := WriteOptions{
		Space:      "right-anterior-superior",
		Origin:     []float64{10, -20.25, 30},
		Directions: [][]float64{{0.6, 0.8, 0}, {0, 0, -2}, {0, 1.25, 0}},
	}

	var buf bytes.Buffer
	if err := Write(&buf, vol, opts); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, header, err := Read(&buf, "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if header.Space != opts.Space {
		t.Errorf("Expected space %q, got %q", opts.Space, header.Space)
	}
	if !equalFloats(header.SpaceOrigin, opts.Origin) {
		t.Errorf("Expected origin %v, got %v", opts.Origin, header.SpaceOrigin)
	}
	for axis, want := range opts.Directions {
		if !equalFloats(header.SpaceDirections[axis], want) {
			t.Errorf("Axis %d: expected direction %v, got %v", axis, want, header.SpaceDirections[axis])
		}
	}
	if math.Abs(got.VoxelSize.X-1) > 1e-12 || got.VoxelSize.Y != 2 || got.VoxelSize.Z != 1.25 {
		t.Errorf("Unexpected spacing %v", got.VoxelSize)
	}

	opts.Directions = opts.Directions[:2]
	if err := Write(&buf, vol, opts); err == nil {
		t.Error("Expected error for two direction vectors, got nil")
	}
	opts.Directions = nil
	opts.Origin = []float64{1, 2}
	if err := Write(&buf, vol, opts); err == nil {
		t.Error("Expected error for a two-component origin, got nil")
	}
}

// TestHeaderOriginAt verifies voxel positions with and without geometry fields
func TestHeaderOriginAt(t *testing.T) {
	idx := models.Index{Slice: 1, Row: 2, Column: 1}

	oriented := "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 1 1 1\nencoding: raw\n" +
		"space directions: (-0.5,0,0) (0,-0.75,0) (0,0,2)\nspace origin: (10,20,30)\n\n"
	header, err := ReadHeader(bufio.NewReader(strings.NewReader(oriented)))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got, want := header.OriginAt(idx), []float64{9.5, 18.5, 32}; !equalFloats(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := header.OriginAt(models.Index{}); !equalFloats(got, header.SpaceOrigin) {
		t.Errorf("Expected the space origin at index 0, got %v", got)
	}

	plain := "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 1 1 1\nencoding: raw\nspacings: 0.5 0.75 2\n\n"
	header, err = ReadHeader(bufio.NewReader(strings.NewReader(plain)))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got, want := header.OriginAt(idx), []float64{0.5, 1.5, 2}; !equalFloats(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := header.Directions(); !equalFloats(got[2], []float64{0, 0, 2}) {
		t.Errorf("Expected axis-aligned slice direction, got %v", got[2])
	}
}

// TestReadDetached verifies header-only files pointing at a data file
func TestReadDetached(t *testing.T) {
	dir := t.TempDir()

	raw := make([]byte, 8)
	for i := range raw {
		raw[i] = byte(i * 10)
	}
	// Junk prefix exercises byte skip -1
	if err := os.WriteFile(filepath.Join(dir, "scan.raw"), append([]byte("junk"), raw...), 0644); err != nil {
		t.Fatalf("Failed to write data file: %v", err)
	}

	header := "NRRD0004\ntype: uint8\ndimension: 3\nsizes: 2 2 2\nencoding: raw\nbyte skip: -1\ndata file: scan.raw\n"
	headerPath := filepath.Join(dir, "scan.nhdr")
	if err := os.WriteFile(headerPath, []byte(header), 0644); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	vol, hdr, err := ReadFile(headerPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if hdr.DataFile != "scan.raw" {
		t.Errorf("Unexpected data file %q", hdr.DataFile)
	}
	for i, v := range vol.Data {
		if v != float64(i*10) {
			t.Errorf("Sample %d: expected %d, got %v", i, i*10, v)
		}
	}
}

// TestWriteFile verifies writing to disk creates parent directories
func TestWriteFile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	path := filepath.Join(t.TempDir(), "nested", "roi.nrrd")
	vol := createTestVolume()

	if err := WriteFile(path, vol, WriteOptions{Encoding: EncodingGzip, KeyValues: map[string]string{"source": "test"}}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, header, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if header.KeyValues["source"] != "test" {
		t.Errorf("Key/value not preserved: %v", header.KeyValues)
	}
	if !equalFloats(got.Data, vol.Data) {
		t.Errorf("Data not preserved")
	}
}

// TestReadErrors verifies the error taxonomy for bad inputs
func TestReadErrors(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected error
	}{
		{"BadMagic", "NRRX0004\n", ErrInvalidHeader},
		{"MissingType", "NRRD0004\ndimension: 3\nsizes: 1 1 1\nencoding: raw\n\n", ErrInvalidHeader},
		{"FourDimensional", "NRRD0004\ntype: float\ndimension: 4\nsizes: 3 1 1 1\nencoding: raw\n\n", ErrUnsupported},
		{"BlockType", "NRRD0004\ntype: block\ndimension: 3\nsizes: 1 1 1\nencoding: raw\n\n", ErrUnsupported},
		{"HexEncoding", "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 1 1 1\nencoding: hex\n\n", ErrUnsupported},
		{"SizesMismatch", "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 1 1\nencoding: raw\n\n", ErrInvalidHeader},
		{"ShortRaw", "NRRD0004\ntype: uchar\ndimension: 3\nsizes: 2 2 2\nencoding: raw\n\n\x01\x02", ErrShortData},
		{"ShortASCII", "NRRD0004\ntype: float\ndimension: 3\nsizes: 2 1 1\nencoding: ascii\n\n1\n", ErrShortData},
		{"MalformedLine", "NRRD0004\ntype uchar\n\n", ErrInvalidHeader},
		{"SizesOverflow", "NRRD0004\ntype: uint8\ndimension: 3\nsizes: 4294967296 4294967296 1\nencoding: raw\n\n", ErrInvalidHeader},
		{"PayloadOverflow", "NRRD0004\ntype: double\ndimension: 3\nsizes: 1152921504606846976 2 1\nencoding: raw\n\n", ErrInvalidHeader},
		{"HugeTruncated", "NRRD0004\ntype: uint8\ndimension: 3\nsizes: 1048576 1048576 1024\nencoding: raw\n\n\x01", ErrShortData},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Read(strings.NewReader(tc.input), "")
			if !errors.Is(err, tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, err)
			}
		})
	}
}

// TestReadHeaderOnly verifies header parsing stops at the blank line
func TestReadHeaderOnly(t *testing.T) {
	input := "NRRD0004\ntype: double\ndimension: 3\nsizes: 5 6 7\nencoding: gz\nline skip: 2\n\nPAYLOAD"
	br := bufio.NewReader(strings.NewReader(input))

	header, err := ReadHeader(br)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}

	if header.Encoding != EncodingGzip || header.LineSkip != 2 || header.Count() != 210 || header.SampleSize() != 8 {
		t.Errorf("Unexpected header %+v", header)
	}

	rest, _ := br.ReadString(0)
	if rest != "PAYLOAD" {
		t.Errorf("Expected payload to follow header, got %q", rest)
	}
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
