package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Spacing is the physical size of one voxel along the column (X), row (Y)
// and slice (Z) axes, in the units of the source image (usually mm).
//
// The order follows the image's coordinate metadata, which lists the
// fastest-varying axis first.
type Spacing struct {
	X, Y, Z float64
}

// Valid reports whether every component is strictly positive and finite.
func (s Spacing) Valid() bool {
	for _, c := range [3]float64{s.X, s.Y, s.Z} {
		if !(c > 0) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// VoxelVolume returns the physical volume of a single voxel cell.
func (s Spacing) VoxelVolume() float64 {
	return s.X * s.Y * s.Z
}

func (s Spacing) String() string {
	return fmt.Sprintf("(%g, %g, %g)", s.X, s.Y, s.Z)
}

// Index addresses one voxel as (slice, row, column).
type Index struct {
	Slice  int
	Row    int
	Column int
}

// Volume represents a 3D scalar volume loaded from a scan or a mask file
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order:
	// voxel (slice z, row y, column x) lives at z*Width*Height + y*Width + x
	Data []float64

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int

	// Depth is the number of slices
	Depth int

	// VoxelSize is the physical size of each voxel
	VoxelSize Spacing
}

// NewVolume allocates a zero-filled volume of the given shape.
func NewVolume(width, height, depth int, spacing Spacing) *Volume {
	return &Volume{
		Data:      make([]float64, width*height*depth),
		Width:     width,
		Height:    height,
		Depth:     depth,
		VoxelSize: spacing,
	}
}

// Len returns the number of voxels implied by the volume's shape.
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Offset returns the position of (slice, row, column) in Data.
func (v *Volume) Offset(slice, row, column int) int {
	return slice*v.Width*v.Height + row*v.Width + column
}

// At returns the value stored at (slice, row, column).
func (v *Volume) At(slice, row, column int) float64 {
	return v.Data[v.Offset(slice, row, column)]
}

// Set stores value at (slice, row, column).
func (v *Volume) Set(slice, row, column int, value float64) {
	v.Data[v.Offset(slice, row, column)] = value
}

// Shape returns the extents as (slices, rows, columns).
func (v *Volume) Shape() [3]int {
	return [3]int{v.Depth, v.Height, v.Width}
}

// SameShape reports whether both volumes have identical extents on all
// three axes and carry data buffers of the expected size.
func (v *Volume) SameShape(other *Volume) bool {
	if v == nil || other == nil {
		return false
	}
	return v.Shape() == other.Shape() &&
		len(v.Data) == v.Len() &&
		len(other.Data) == other.Len()
}

// ValueRange returns the smallest and largest of values, or zeros when
// there are none.
func ValueRange(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return floats.Min(values), floats.Max(values)
}

// Crop copies the sub-volume starting at start and spanning size voxels
// along each axis. The crop keeps the source voxel size.
func (v *Volume) Crop(start, size Index) (*Volume, error) {
	if start.Slice < 0 || start.Row < 0 || start.Column < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if size.Slice <= 0 || size.Row <= 0 || size.Column <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if start.Column+size.Column > v.Width || start.Row+size.Row > v.Height || start.Slice+size.Slice > v.Depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := NewVolume(size.Column, size.Row, size.Slice, v.VoxelSize)
	for z := 0; z < size.Slice; z++ {
		for y := 0; y < size.Row; y++ {
			// Rows are contiguous in both buffers
			src := v.Offset(start.Slice+z, start.Row+y, start.Column)
			dst := region.Offset(z, y, 0)
			copy(region.Data[dst:dst+size.Column], v.Data[src:src+size.Column])
		}
	}

	return region, nil
}
