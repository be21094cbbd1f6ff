package transform

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

const (
	mimeJPEG = "image/jpeg"

	minImageSide = 16
)

var jpegQualities = []int{90, 80, 70, 60, 50, 40}

// FitImage returns data unchanged when it is already an accepted format
// within maxBytes and maxSide. Otherwise the image is decoded, scaled down
// and re-encoded as JPEG at decreasing quality until it fits. Zero limits
// are ignored.
func FitImage(data []byte, mime string, accepted func(string) bool, maxBytes, maxSide int) ([]byte, string, error) {
	cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(data))
	fitsSide := cfgErr != nil || maxSide <= 0 || (cfg.Width <= maxSide && cfg.Height <= maxSide)
	if accepted(mime) && (maxBytes <= 0 || len(data) <= maxBytes) && fitsSide {
		return data, mime, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	scale := 1.0
	if longest := max(bounds.Dx(), bounds.Dy()); maxSide > 0 && longest > maxSide {
		scale = float64(maxSide) / float64(longest)
	}

	for {
		w := int(math.Round(float64(bounds.Dx()) * scale))
		h := int(math.Round(float64(bounds.Dy()) * scale))
		if w < minImageSide || h < minImageSide {
			return nil, "", fmt.Errorf("image cannot be reduced below %d bytes", maxBytes)
		}
		img := src
		if scale < 1 {
			dst := image.NewRGBA(image.Rect(0, 0, w, h))
			draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
			img = dst
		}
		for _, q := range jpegQualities {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return nil, "", fmt.Errorf("encode jpeg: %w", err)
			}
			if maxBytes <= 0 || buf.Len() <= maxBytes {
				return buf.Bytes(), mimeJPEG, nil
			}
		}
		scale *= 0.75
	}
}
