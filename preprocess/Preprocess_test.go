package preprocess

import (
	"image"
	"image/color"
	"math"
	"testing"
)

// uniformFrame returns a width x height RGB frame with every pixel set
// to the same color.
func uniformFrame(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestProcessShapeAndRange(t *testing.T) {
	p, err := NewProcessor(4)
	if err != nil {
		t.Fatalf("could not create processor: %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 2), uint8(y * 2),
				uint8((x + y)), 255})
		}
	}

	obs, err := p.Process(img)
	if err != nil {
		t.Fatalf("could not process frame: %v", err)
	}

	if obs.Len() != p.Features() {
		t.Errorf("got %v features, expected %v", obs.Len(), p.Features())
	}
	for i := 0; i < obs.Len(); i++ {
		if v := obs.AtVec(i); v < 0.0 || v > 1.0 {
			t.Errorf("component %v out of [0, 1]: %v", i, v)
		}
	}
}

func TestProcessUniformFrame(t *testing.T) {
	p, err := NewProcessor(8)
	if err != nil {
		t.Fatalf("could not create processor: %v", err)
	}

	// A pure white frame maps every component to 1
	obs, err := p.Process(uniformFrame(64, 64,
		color.RGBA{255, 255, 255, 255}))
	if err != nil {
		t.Fatalf("could not process frame: %v", err)
	}
	for i := 0; i < obs.Len(); i++ {
		if math.Abs(obs.AtVec(i)-1.0) > 1e-4 {
			t.Fatalf("component %v: got %v, expected 1", i, obs.AtVec(i))
		}
	}

	// A pure red frame maps every component to the red luminance weight
	obs, err = p.Process(uniformFrame(64, 64, color.RGBA{255, 0, 0, 255}))
	if err != nil {
		t.Fatalf("could not process frame: %v", err)
	}
	for i := 0; i < obs.Len(); i++ {
		if math.Abs(obs.AtVec(i)-redWeight) > 1e-4 {
			t.Fatalf("component %v: got %v, expected %v", i, obs.AtVec(i),
				redWeight)
		}
	}
}

func TestProcessDeterministic(t *testing.T) {
	p, err := NewProcessor(16)
	if err != nil {
		t.Fatalf("could not create processor: %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y),
				uint8(x ^ y), 255})
		}
	}

	first, err := p.Process(img)
	if err != nil {
		t.Fatalf("could not process frame: %v", err)
	}
	second, err := p.Process(img)
	if err != nil {
		t.Fatalf("could not process frame: %v", err)
	}

	for i := 0; i < first.Len(); i++ {
		if first.AtVec(i) != second.AtVec(i) {
			t.Fatalf("component %v differs across runs: %v != %v", i,
				first.AtVec(i), second.AtVec(i))
		}
	}
}

func TestProcessRGBAveragesBlocks(t *testing.T) {
	p, err := NewProcessor(1)
	if err != nil {
		t.Fatalf("could not create processor: %v", err)
	}

	// 2x2 frame: two black pixels and two white pixels average to 0.5
	rgb := []uint8{
		0, 0, 0, 255, 255, 255,
		255, 255, 255, 0, 0, 0,
	}
	obs, err := p.ProcessRGB(rgb, 2, 2)
	if err != nil {
		t.Fatalf("could not process frame: %v", err)
	}
	if math.Abs(obs.AtVec(0)-0.5) > 1e-4 {
		t.Errorf("got %v, expected 0.5", obs.AtVec(0))
	}
}

func TestProcessRejectsBadFrames(t *testing.T) {
	p, err := NewProcessor(64)
	if err != nil {
		t.Fatalf("could not create processor: %v", err)
	}

	if _, err := p.Process(uniformFrame(32, 32,
		color.RGBA{0, 0, 0, 255})); err == nil {
		t.Error("expected error processing a too-small frame")
	}
	if _, err := p.ProcessRGB(make([]uint8, 7), 2, 2); err == nil {
		t.Error("expected error processing a wrongly sized frame")
	}
}
