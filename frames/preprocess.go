package frames

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ImageNet statistics used by most torchvision classification models.
var (
	ImageNetMean = []float32{0.485, 0.456, 0.406}
	ImageNetStd  = []float32{0.229, 0.224, 0.225}
)

// Normalization holds per-channel standardization values applied after scaling pixels to
// [0, 1]. Empty slices mean no standardization (mean 0, std 1).
type Normalization struct {
	Mean []float32 `json:"mean" yaml:"mean"`
	Std  []float32 `json:"std"  yaml:"std"`
}

// Validate checks that the mean/std vectors match the channel count and that every std is
// a usable divisor.
func (n Normalization) Validate(channels int) error {
	if len(n.Mean) != 0 && len(n.Mean) != channels {
		return fmt.Errorf("mean has %d values, expected %d", len(n.Mean), channels)
	}
	if len(n.Std) != 0 && len(n.Std) != channels {
		return fmt.Errorf("std has %d values, expected %d", len(n.Std), channels)
	}
	for c, s := range n.Std {
		if s == 0 || math32.IsNaN(s) || math32.IsInf(s, 0) {
			return fmt.Errorf("std[%d] is not a valid divisor: %v", c, s)
		}
	}
	return nil
}

// Apply normalizes one 8-bit pixel value of channel c.
func (n Normalization) Apply(c int, px uint8) float32 {
	v := float32(px) / 255.0
	if len(n.Mean) > c {
		v -= n.Mean[c]
	}
	if len(n.Std) > c {
		v /= n.Std[c]
	}
	return v
}

// Preprocessor turns decoded images into normalized NCHW tensors.
type Preprocessor struct {
	shape Shape
	norm  Normalization
}

// NewPreprocessor creates a preprocessor for the given model geometry.
//
// Arguments:
//   - shape: The model input shape.
//   - norm: The per-channel normalization.
//
// Returns:
//   - *Preprocessor: The preprocessor.
//   - error: An error if the shape or normalization is invalid.
func NewPreprocessor(shape Shape, norm Normalization) (*Preprocessor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid input shape")
	}
	if err := norm.Validate(shape.Channels); err != nil {
		return nil, errors.Wrap(err, "invalid normalization")
	}
	return &Preprocessor{shape: shape, norm: norm}, nil
}

// Preprocess resizes the image to the model input size and converts it to a normalized
// float32 tensor in CHW order.
//
// Arguments:
//   - img: The decoded image.
//
// Returns:
//   - *tensor.Dense: A [1, C, H, W] tensor.
//   - error: An error if the image is nil or empty.
func (p *Preprocessor) Preprocess(img image.Image) (*tensor.Dense, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if img.Bounds().Empty() {
		return nil, errors.New("image is empty")
	}

	w, h := p.shape.Width, p.shape.Height
	resized := img
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		resized = resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	}

	data := make([]float32, p.shape.Size())
	plane := w * h
	bounds := resized.Bounds()

	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			if p.shape.Channels == 1 {
				// ITU-R BT.601 luma.
				luma := 0.299*float32(r>>8) + 0.587*float32(g>>8) + 0.114*float32(b>>8)
				data[i] = p.norm.Apply(0, uint8(math32.Round(luma)))
			} else {
				data[i] = p.norm.Apply(0, uint8(r>>8))
				data[plane+i] = p.norm.Apply(1, uint8(g>>8))
				data[2*plane+i] = p.norm.Apply(2, uint8(b>>8))
			}
			i++
		}
	}

	return tensor.New(tensor.WithShape(p.shape.Dims()...), tensor.WithBacking(data)), nil
}
