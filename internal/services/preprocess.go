package services

import (
	"image"

	"github.com/disintegration/imaging"
)

// CLIP normalization constants (RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Preprocess resizes the shorter side to size, center-crops to size×size
// and returns normalized CHW float32 pixels.
func Preprocess(img image.Image, size int) []float32 {
	crop := imaging.Fill(img, size, size, imaging.Center, imaging.CatmullRom)

	plane := size * size
	out := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		row := crop.Pix[y*crop.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			i := y*size + x
			for c := 0; c < 3; c++ {
				out[c*plane+i] = (float32(px[c])/255 - clipMean[c]) / clipStd[c]
			}
		}
	}

	return out
}
