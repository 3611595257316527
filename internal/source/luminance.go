package source

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const thumbSize = 32

// LuminanceFilter rejects frames whose mean luminance lies outside [Min, Max].
// Near-black and near-white frames are what a broken decode usually produces.
type LuminanceFilter struct {
	Min float64
	Max float64
}

// Check decodes data and reports its dimensions and whether it is sane.
// Undecodable data is never sane.
func (f LuminanceFilter) Check(data []byte) (width, height int, ok bool) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	b := img.Bounds()
	mean := meanLuminance(img)
	return b.Dx(), b.Dy(), mean >= f.Min && mean <= f.Max
}

// MeanLuminance returns the mean gray level (0..255) of a JPEG image.
func MeanLuminance(data []byte) (float64, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode jpeg: %w", err)
	}
	return meanLuminance(img), nil
}

func meanLuminance(img image.Image) float64 {
	gray := image.NewGray(image.Rect(0, 0, thumbSize, thumbSize))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum int
	for _, v := range gray.Pix {
		sum += int(v)
	}
	return float64(sum) / float64(len(gray.Pix))
}
