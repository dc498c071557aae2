package roistats

import "errors"

var (
	// ErrShapeMismatch is returned when the intensity and mask volumes do not
	// have identical extents along all three axes.
	ErrShapeMismatch = errors.New("intensity and mask volumes differ in shape")

	// ErrInvalidSpacing is returned when a spacing component is zero,
	// negative or not finite.
	ErrInvalidSpacing = errors.New("voxel spacing must be strictly positive")

	// ErrEmptyRegion is returned when the mask selects no voxel. The wrapping
	// error names the step that could not proceed.
	ErrEmptyRegion = errors.New("mask contains no non-zero voxel")
)

// Steps named by ErrEmptyRegion failures.
const (
	StepStatistics  = "intensity statistics"
	StepBoundingBox = "bounding box"
)
