// Package volume loads stacks of 2D slice images into gotch tensors
// shaped for the loss and metric packages: integer label volumes for
// targets and float intensity volumes for single-channel inputs.
package volume

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"

	"github.com/sugarme/vseg/loss"
)

// ReadImage reads an image from file. PNG, JPEG and TIFF are supported.
func ReadImage(filename string) (image.Image, error) {
	ext := filepath.Ext(filename)
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext {
	case ".png", ".PNG":
		return png.Decode(f)
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		return jpeg.Decode(f)
	case ".tiff", ".tif", ".TIFF", ".TIF":
		return tiff.Decode(f)
	default:
		return nil, fmt.Errorf("volume.ReadImage: unsupported image format: %v", ext)
	}
}

// SliceLabels converts one mask slice to per-pixel class indices. The
// image is grayscale-converted first; each 8-bit gray value is taken as
// a class index. An optional width/height rescales with nearest
// neighbour so no new label values are invented between classes.
func SliceLabels(img image.Image, w, h int) []int64 {
	gray := imaging.Grayscale(img)
	if w > 0 && h > 0 && (gray.Rect.Dx() != w || gray.Rect.Dy() != h) {
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)
		gray = imaging.Grayscale(dst)
	}

	b := gray.Bounds()
	labels := make([]int64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			labels = append(labels, int64(gray.NRGBAAt(x, y).R))
		}
	}

	return labels
}

// SliceIntensity converts one intensity slice to normalized [0,1] gray
// values, rescaling bilinearly when a target size is given.
func SliceIntensity(img image.Image, w, h int) []float64 {
	if w > 0 && h > 0 {
		img = resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	}
	gray := imaging.Grayscale(img)

	b := gray.Bounds()
	vals := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			vals = append(vals, float64(gray.NRGBAAt(x, y).R)/255.0)
		}
	}

	return vals
}

// LoadLabelVolume reads mask slices (one file per depth step, in the
// given order) into a [depth, height, width] int64 label tensor. All
// slices are scaled to the size of the first one.
func LoadLabelVolume(filenames []string) (*ts.Tensor, error) {
	if len(filenames) == 0 {
		return nil, fmt.Errorf("volume.LoadLabelVolume: no slice files given")
	}

	var labels []int64
	var w, h int
	for _, fname := range filenames {
		img, err := ReadImage(fname)
		if err != nil {
			return nil, err
		}
		if w == 0 {
			w, h = img.Bounds().Dx(), img.Bounds().Dy()
		}
		labels = append(labels, SliceLabels(img, w, h)...)
	}

	x := ts.MustOfSlice(labels)
	return x.MustView([]int64{int64(len(filenames)), int64(h), int64(w)}, true), nil
}

// LoadIntensityVolume reads intensity slices into a
// [depth, height, width] float volume, normalized to [0,1].
func LoadIntensityVolume(filenames []string) (*ts.Tensor, error) {
	if len(filenames) == 0 {
		return nil, fmt.Errorf("volume.LoadIntensityVolume: no slice files given")
	}

	var vals []float64
	var w, h int
	for _, fname := range filenames {
		img, err := ReadImage(fname)
		if err != nil {
			return nil, err
		}
		if w == 0 {
			w, h = img.Bounds().Dx(), img.Bounds().Dy()
		}
		vals = append(vals, SliceIntensity(img, w, h)...)
	}

	x := ts.MustOfSlice(vals)
	v := x.MustView([]int64{int64(len(filenames)), int64(h), int64(w)}, true)
	return v.MustTotype(gotch.Float, true), nil
}

// Batch shapes a [depth, height, width] volume as a single-item batch
// with a singleton channel axis in the given layout, ready for the Dice
// computer.
func Batch(vol *ts.Tensor, layout loss.Layout) *ts.Tensor {
	switch layout {
	case loss.NDHWC:
		return vol.MustUnsqueeze(0, false).MustUnsqueeze(-1, true)
	default: // NCDHW
		return vol.MustUnsqueeze(0, false).MustUnsqueeze(0, true)
	}
}
