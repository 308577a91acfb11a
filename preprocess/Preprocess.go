// Package preprocess converts raw RGB frames into the observation
// vectors agents learn from. Frames are converted to grayscale, scaled
// into [0, 1], resized by area averaging, and flattened row-major.
//
// Processing is pure and deterministic: the same frame always yields
// the same vector, and the input frame is never modified.
package preprocess

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"
)

// Luminance weights for grayscale conversion. They sum to exactly 1 so
// that a uniform frame maps to its own intensity.
const (
	redWeight   = 0.299
	greenWeight = 0.587
	blueWeight  = 0.114
)

// Processor converts RGB frames into flattened grayscale observation
// vectors of a fixed size.
type Processor struct {
	size int
}

// NewProcessor returns a Processor producing size x size observations
func NewProcessor(size int) (*Processor, error) {
	if size < 1 {
		return nil, fmt.Errorf("newprocessor: frame size must be positive "+
			"\n\thave(%v)", size)
	}
	return &Processor{size: size}, nil
}

// Features returns the length of the observation vectors the Processor
// produces.
func (p *Processor) Features() int {
	return p.size * p.size
}

// Process converts an RGB image into a flattened grayscale observation
// vector with components in [0, 1].
func (p *Processor) Process(img image.Image) (*mat.VecDense, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < p.size || height < p.size {
		return nil, fmt.Errorf("process: frame smaller than target size "+
			"\n\twant(at least %vx%v) \n\thave(%vx%v)", p.size, p.size,
			width, height)
	}

	gray := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			// RGBA returns 16-bit channels
			gray[y*width+x] = (redWeight*float64(r>>8) +
				greenWeight*float64(g>>8) +
				blueWeight*float64(b>>8)) / 255.0
		}
	}

	return p.resize(gray, width, height), nil
}

// ProcessRGB converts a flat row-major RGB byte frame into a flattened
// grayscale observation vector with components in [0, 1].
func (p *Processor) ProcessRGB(rgb []uint8, width, height int) (
	*mat.VecDense, error) {
	if len(rgb) != width*height*3 {
		return nil, fmt.Errorf("processrgb: frame size mismatch "+
			"\n\twant(%v) \n\thave(%v)", width*height*3, len(rgb))
	}
	if width < p.size || height < p.size {
		return nil, fmt.Errorf("processrgb: frame smaller than target size "+
			"\n\twant(at least %vx%v) \n\thave(%vx%v)", p.size, p.size,
			width, height)
	}

	gray := make([]float64, width*height)
	for i := 0; i < width*height; i++ {
		gray[i] = (redWeight*float64(rgb[3*i]) +
			greenWeight*float64(rgb[3*i+1]) +
			blueWeight*float64(rgb[3*i+2])) / 255.0
	}

	return p.resize(gray, width, height), nil
}

// resize shrinks a grayscale frame to size x size by averaging each
// output pixel's source block.
func (p *Processor) resize(gray []float64, width, height int) *mat.VecDense {
	out := make([]float64, p.size*p.size)

	for i := 0; i < p.size; i++ {
		rowStart := i * height / p.size
		rowEnd := (i + 1) * height / p.size

		for j := 0; j < p.size; j++ {
			colStart := j * width / p.size
			colEnd := (j + 1) * width / p.size

			var sum float64
			for y := rowStart; y < rowEnd; y++ {
				for x := colStart; x < colEnd; x++ {
					sum += gray[y*width+x]
				}
			}
			area := float64((rowEnd - rowStart) * (colEnd - colStart))
			out[i*p.size+j] = sum / area
		}
	}

	return mat.NewVecDense(len(out), out)
}
