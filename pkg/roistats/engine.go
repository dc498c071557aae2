// Package roistats computes intensity and shape statistics of a region of
// interest directly from the voxel arrays of a scan and its binary mask.
//
// Every function in this package is pure: inputs are read, never mutated, and
// all intermediate structures are local to the call.
package roistats

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"roistats/internal/models"
)

// Result keys.
const (
	KeyMean              = "Mean"
	KeyStandardDeviation = "StandardDeviation"
	KeyMedian            = "Median"
	KeyColumnSize        = "ColumnSize"
	KeyRowSize           = "RowSize"
	KeySliceSize         = "SliceSize"
	KeyVolume            = "Volume"
)

// Result maps a statistic name to its value.
type Result map[string]float64

// Range is an inclusive index range along one axis.
type Range struct {
	Min, Max int
}

// Span returns Max - Min.
func (r Range) Span() int {
	return r.Max - r.Min
}

func (r Range) include(i int) Range {
	if i < r.Min {
		r.Min = i
	}
	if i > r.Max {
		r.Max = i
	}
	return r
}

// BoundingBox is the minimal axis-aligned index box enclosing a region.
type BoundingBox struct {
	Column Range
	Row    Range
	Slice  Range
}

func (b BoundingBox) include(idx models.Index) BoundingBox {
	return BoundingBox{
		Column: b.Column.include(idx.Column),
		Row:    b.Row.include(idx.Row),
		Slice:  b.Slice.include(idx.Slice),
	}
}

// Start returns the lowest corner of the box.
func (b BoundingBox) Start() models.Index {
	return models.Index{Slice: b.Slice.Min, Row: b.Row.Min, Column: b.Column.Min}
}

// Size returns the number of voxels the box spans along each axis.
func (b BoundingBox) Size() models.Index {
	return models.Index{
		Slice:  b.Slice.Span() + 1,
		Row:    b.Row.Span() + 1,
		Column: b.Column.Span() + 1,
	}
}

// Extents holds the physical size of a bounding box along each axis.
type Extents struct {
	Column float64
	Row    float64
	Slice  float64
}

// Physical converts the index extents of the box to physical units. The
// index difference is taken first and then scaled by the axis spacing.
func (b BoundingBox) Physical(spacing models.Spacing) Extents {
	return Extents{
		Column: float64(b.Column.Span()) * spacing.X,
		Row:    float64(b.Row.Span()) * spacing.Y,
		Slice:  float64(b.Slice.Span()) * spacing.Z,
	}
}

// Statistics holds the central tendency and dispersion of the masked intensities.
type Statistics struct {
	Mean              float64
	StandardDeviation float64
	Median            float64
}

// ScanMask enumerates every non-zero voxel of mask. Slices are the outer
// loop, rows the middle and columns the inner, all ascending, so the
// sequence is non-decreasing in slice.
func ScanMask(mask *models.Volume) []models.Index {
	var indices []models.Index
	for z := 0; z < mask.Depth; z++ {
		for y := 0; y < mask.Height; y++ {
			row := mask.Offset(z, y, 0)
			for x := 0; x < mask.Width; x++ {
				if mask.Data[row+x] != 0 {
					indices = append(indices, models.Index{Slice: z, Row: y, Column: x})
				}
			}
		}
	}
	return indices
}

// ExtractBoundingBox folds the indices into their bounding box. Each axis is
// reduced with an explicit running min/max; the order of indices does not
// matter.
func ExtractBoundingBox(indices []models.Index) (BoundingBox, error) {
	if len(indices) == 0 {
		return BoundingBox{}, fmt.Errorf("cannot compute %s: %w", StepBoundingBox, ErrEmptyRegion)
	}

	first := indices[0]
	box := BoundingBox{
		Column: Range{first.Column, first.Column},
		Row:    Range{first.Row, first.Row},
		Slice:  Range{first.Slice, first.Slice},
	}
	for _, idx := range indices[1:] {
		box = box.include(idx)
	}

	return box, nil
}

// RegionVolume returns the physical volume of count voxels, each counted as a
// full voxel cell.
func RegionVolume(count int, spacing models.Spacing) float64 {
	return spacing.VoxelVolume() * float64(count)
}

// GatherIntensities returns the intensity values at the given indices, in
// the same order.
func GatherIntensities(intensity *models.Volume, indices []models.Index) []float64 {
	values := make([]float64, len(indices))
	for i, idx := range indices {
		values[i] = intensity.At(idx.Slice, idx.Row, idx.Column)
	}
	return values
}

// Aggregate computes the mean, population standard deviation and median of values.
func Aggregate(values []float64) (Statistics, error) {
	if len(values) == 0 {
		return Statistics{}, fmt.Errorf("cannot compute %s: %w", StepStatistics, ErrEmptyRegion)
	}

	// Divisor is the count, not count-1
	mean, std := stat.PopMeanStdDev(values, nil)

	return Statistics{
		Mean:              mean,
		StandardDeviation: std,
		Median:            Median(values),
	}, nil
}

// Median returns the median of values, averaging the two middle values for
// even counts. values is not modified. It returns 0 for an empty slice.
func Median(values []float64) float64 {
	// Create a copy to avoid modifying the caller's data
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return sorted[n/2]
}

// Validate checks the engine preconditions on its inputs.
func Validate(intensity, mask *models.Volume, spacing models.Spacing) error {
	if intensity == nil || mask == nil {
		return fmt.Errorf("nil volume: %w", ErrShapeMismatch)
	}

	if !intensity.SameShape(mask) {
		return fmt.Errorf("intensity %v (%d voxels) vs mask %v (%d voxels): %w",
			intensity.Shape(), len(intensity.Data), mask.Shape(), len(mask.Data), ErrShapeMismatch)
	}

	if !spacing.Valid() {
		return fmt.Errorf("spacing %v: %w", spacing, ErrInvalidSpacing)
	}

	return nil
}

// Compute returns Mean, StandardDeviation and Median of the intensities
// selected by mask.
func Compute(intensity, mask *models.Volume, spacing models.Spacing) (Result, error) {
	if err := Validate(intensity, mask, spacing); err != nil {
		return nil, err
	}

	indices := ScanMask(mask)
	stats, err := Aggregate(GatherIntensities(intensity, indices))
	if err != nil {
		return nil, err
	}

	return stats.result(), nil
}

// ComputeExtended returns the Compute statistics plus the physical bounding
// box extents (ColumnSize, RowSize, SliceSize) and the region Volume.
func ComputeExtended(intensity, mask *models.Volume, spacing models.Spacing) (Result, error) {
	summary, err := Summarize(intensity, mask, spacing)
	if err != nil {
		return nil, err
	}
	return summary.Result(true), nil
}

// Summary holds everything derived from one scan of the mask.
type Summary struct {
	Statistics

	// Indices lists the region voxels in scan order
	Indices []models.Index

	Box     BoundingBox
	Extents Extents

	// Volume is the region volume in physical units
	Volume float64
}

// Summarize validates the inputs, scans the mask once and derives the
// statistics, bounding box and volume of the region. It fails like
// ComputeExtended.
func Summarize(intensity, mask *models.Volume, spacing models.Spacing) (Summary, error) {
	if err := Validate(intensity, mask, spacing); err != nil {
		return Summary{}, err
	}

	indices := ScanMask(mask)
	stats, err := Aggregate(GatherIntensities(intensity, indices))
	if err != nil {
		return Summary{}, err
	}

	box, err := ExtractBoundingBox(indices)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Statistics: stats,
		Indices:    indices,
		Box:        box,
		Extents:    box.Physical(spacing),
		Volume:     RegionVolume(len(indices), spacing),
	}, nil
}

// Result returns the Compute keys, plus the ComputeExtended keys when
// extended is set.
func (s Summary) Result(extended bool) Result {
	result := s.Statistics.result()
	if extended {
		result[KeyColumnSize] = s.Extents.Column
		result[KeyRowSize] = s.Extents.Row
		result[KeySliceSize] = s.Extents.Slice
		result[KeyVolume] = s.Volume
	}
	return result
}

func (s Statistics) result() Result {
	return Result{
		KeyMean:              s.Mean,
		KeyStandardDeviation: s.StandardDeviation,
		KeyMedian:            s.Median,
	}
}
