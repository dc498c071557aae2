package visualization

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"roistats/internal/models"
	"roistats/pkg/roistats"
)

// Panel layout in output pixels.
const (
	panelMargin = 8
	titleHeight = 13
)

// Mask colours: the two ends of the viridis colour map.
var (
	MaskBackground = color.RGBA{R: 0x44, G: 0x01, B: 0x54, A: 0xff}
	MaskForeground = color.RGBA{R: 0xfd, G: 0xe7, B: 0x25, A: 0xff}
)

// ComparisonOptions controls the side-by-side rendering of an image slice
// and its mask.
type ComparisonOptions struct {
	// Scale is the integer upscaling factor applied to each panel
	Scale int
	// ImageTitle is drawn above the left panel
	ImageTitle string
	// MaskTitle is drawn above the right panel
	MaskTitle string
}

// DefaultComparisonOptions returns the options used by the command line tool
func DefaultComparisonOptions() ComparisonOptions {
	return ComparisonOptions{
		Scale:      2,
		ImageTitle: "Image",
		MaskTitle:  "Mask",
	}
}

// RenderComparison draws axial slice number slice of the scan (greyscale)
// next to the same slice of the mask (viridis ends), each panel titled.
func RenderComparison(scan, mask *models.Volume, slice int, opts ComparisonOptions) (*image.RGBA, error) {
	if scan == nil || !scan.SameShape(mask) {
		return nil, fmt.Errorf("cannot render comparison: %w", roistats.ErrShapeMismatch)
	}

	grey, err := NewViewer(scan).ExtractSlice("z", slice)
	if err != nil {
		return nil, fmt.Errorf("cannot extract image slice: %w", err)
	}
	labels, err := MaskSlice(mask, slice)
	if err != nil {
		return nil, fmt.Errorf("cannot extract mask slice: %w", err)
	}

	scale := opts.Scale
	if scale < 1 {
		scale = 1
	}
	pw, ph := scan.Width*scale, scan.Height*scale

	canvas := image.NewRGBA(image.Rect(0, 0, 3*panelMargin+2*pw, 3*panelMargin+titleHeight+ph))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	top := 2*panelMargin + titleHeight
	left := image.Rect(panelMargin, top, panelMargin+pw, top+ph)
	right := left.Add(image.Pt(pw+panelMargin, 0))

	draw.NearestNeighbor.Scale(canvas, left, grey, grey.Bounds(), draw.Src, nil)
	draw.NearestNeighbor.Scale(canvas, right, labels, labels.Bounds(), draw.Src, nil)

	drawTitle(canvas, opts.ImageTitle, left)
	drawTitle(canvas, opts.MaskTitle, right)

	return canvas, nil
}

// MaskSlice colours an axial mask slice: zero voxels get MaskBackground,
// every other value MaskForeground.
func MaskSlice(mask *models.Volume, slice int) (*image.RGBA, error) {
	plane, width, height, err := NewViewer(mask).ExtractPlane("z", slice)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, val := range plane {
		c := MaskBackground
		if val != 0 {
			c = MaskForeground
		}
		img.SetRGBA(i%width, i/width, c)
	}
	return img, nil
}

// drawTitle centres text above panel.
func drawTitle(dst *image.RGBA, text string, panel image.Rectangle) {
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	x := panel.Min.X + (panel.Dx()-width)/2
	if x < 0 {
		x = 0
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: face,
		Dot:  fixed.P(x, panelMargin+face.Ascent),
	}
	d.DrawString(text)
}
