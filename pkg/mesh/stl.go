package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
)

// stlHeader fills the 80-byte header of a binary STL file.
const stlHeader = "roistats region surface"

// SaveToSTL writes triangles to path as binary STL, creating the parent
// directory if needed.
func SaveToSTL(path string, triangles []Triangle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := WriteSTL(file, triangles); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return file.Close()
}

// WriteSTL serializes triangles as binary STL: an 80-byte header, the
// triangle count and 50 bytes per triangle in little-endian float32.
func WriteSTL(w io.Writer, triangles []Triangle) error {
	if uint64(len(triangles)) > math.MaxUint32 {
		return fmt.Errorf("%d triangles exceed the STL limit", len(triangles))
	}

	bw := bufio.NewWriter(w)

	var header [80]byte
	copy(header[:], stlHeader)
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	var record [50]byte
	for _, t := range triangles {
		for i, v := range []r3.Vec{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			putVec(record[i*12:], v)
		}
		// Attribute byte count stays zero
		if _, err := bw.Write(record[:]); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func putVec(b []byte, v r3.Vec) {
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(v.X)))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(v.Y)))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(v.Z)))
}
