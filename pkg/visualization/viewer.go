package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"roistats/internal/models"
)

// Viewer extracts 2D slices from a scan volume for display.
type Viewer struct {
	// volume holds the scan or mask being viewed
	volume *models.Volume
}

// NewViewer creates a new slice viewer over vol
func NewViewer(vol *models.Volume) *Viewer {
	return &Viewer{volume: vol}
}

// SliceCount returns the number of positions available along axis.
func (v *Viewer) SliceCount(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Width, nil
	case "y", "Y":
		return v.volume.Height, nil
	case "z", "Z":
		return v.volume.Depth, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractPlane returns the raw values of the plane at position along axis,
// in row-major order, with its width and height.
//
// The "z" plane is an axial slice (columns across, rows down), "y" is
// columns across and slices down, "x" is slices across and rows down.
func (v *Viewer) ExtractPlane(axis string, position int) ([]float64, int, int, error) {
	if position < 0 {
		return nil, 0, 0, fmt.Errorf("position must be non-negative")
	}

	count, err := v.SliceCount(axis)
	if err != nil {
		return nil, 0, 0, err
	}
	if position >= count {
		return nil, 0, 0, fmt.Errorf("position %d exceeds %s extent %d", position, strings.ToLower(axis), count)
	}

	vol := v.volume
	var plane []float64
	var width, height int

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		width, height = vol.Depth, vol.Height
		plane = make([]float64, width*height)
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				plane[y*width+z] = vol.At(z, y, position)
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		width, height = vol.Width, vol.Depth
		plane = make([]float64, width*height)
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				plane[z*width+x] = vol.At(z, position, x)
			}
		}

	default:
		// Axial slices are contiguous
		width, height = vol.Width, vol.Height
		plane = make([]float64, width*height)
		start := vol.Offset(position, 0, 0)
		copy(plane, vol.Data[start:start+width*height])
	}

	return plane, width, height, nil
}

// ExtractSlice extracts a 2D greyscale slice. Intensities are windowed to
// the slice's own minimum and maximum, so any scanner range is displayable.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	plane, width, height, err := v.ExtractPlane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	lo, hi := models.ValueRange(plane)
	for i, val := range plane {
		img.Pix[i] = window(val, lo, hi)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume
func (v *Viewer) ExtractRegion(start, size models.Index) (*models.Volume, error) {
	return v.volume.Crop(start, size)
}

// SaveImage writes img as PNG, or as JPEG when filename ends in .jpg/.jpeg.
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := EncodeImage(file, img, filename); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}

	return file.Close()
}

// EncodeImage writes img to w as JPEG when name ends in .jpg/.jpeg and as
// PNG otherwise.
func EncodeImage(w io.Writer, img image.Image, name string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(w, img)
	}
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	count, err := v.SliceCount(axis)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < count; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := SaveImage(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// window maps val from [lo, hi] to [0, 255]. A flat slice renders black.
func window(val, lo, hi float64) uint8 {
	if hi <= lo {
		return 0
	}
	scaled := (val - lo) / (hi - lo) * 255
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	}
	return uint8(scaled + 0.5)
}
