package visual

import (
	"fmt"
	"image"
	"math"
	"math/bits"
	"strings"
)

// Algorithm selects how two images are compared.
type Algorithm int

const (
	AlgorithmPixel Algorithm = iota
	AlgorithmPerceptualHash
	AlgorithmSSIM
	AlgorithmHistogram
)

var algorithmNames = [...]string{"pixel", "perceptual_hash", "ssim", "histogram"}

func (a Algorithm) String() string {
	if a < 0 || int(a) >= len(algorithmNames) {
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
	return algorithmNames[a]
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(b []byte) error {
	v, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAlgorithm accepts the algorithm names plus "phash" as a short form.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pixel":
		return AlgorithmPixel, nil
	case "perceptual_hash", "phash":
		return AlgorithmPerceptualHash, nil
	case "ssim":
		return AlgorithmSSIM, nil
	case "histogram":
		return AlgorithmHistogram, nil
	}
	return 0, fmt.Errorf("unknown comparison algorithm %q", s)
}

// SSIM stabilisation constants for 8-bit luminance: (0.01*255)^2 and (0.03*255)^2.
const (
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

const hashGrid = 8

// pixelDiff holds per-pixel comparison output for equally sized images.
type pixelDiff struct {
	width, height int
	count         int
	mask          []bool
}

func (d pixelDiff) percentage() float64 {
	total := d.width * d.height
	if total == 0 {
		return 0
	}
	return float64(d.count) / float64(total) * 100
}

// diffPixels marks every pixel where some RGBA channel differs by more than
// tolerance. Both images must have the same bounds.
func diffPixels(a, b *image.NRGBA, tolerance uint8) pixelDiff {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	d := pixelDiff{width: w, height: h, mask: make([]bool, w*h)}
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		for x := 0; x < w; x++ {
			i := x * 4
			if absDelta(ra[i], rb[i]) > tolerance ||
				absDelta(ra[i+1], rb[i+1]) > tolerance ||
				absDelta(ra[i+2], rb[i+2]) > tolerance ||
				absDelta(ra[i+3], rb[i+3]) > tolerance {
				d.mask[y*w+x] = true
				d.count++
			}
		}
	}
	return d
}

func absDelta(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func sameSize(a, b *image.NRGBA) bool {
	return a.Rect.Dx() == b.Rect.Dx() && a.Rect.Dy() == b.Rect.Dy()
}

// luminance is the unweighted mean of R, G and B.
func luminance(img *image.NRGBA, x, y int) float64 {
	i := y*img.Stride + x*4
	p := img.Pix[i : i+3 : i+3]
	return (float64(p[0]) + float64(p[1]) + float64(p[2])) / 3
}

// perceptualHash averages luminance over an 8x8 grid of blocks and sets one
// bit per block brighter than the grid mean. Images smaller than the grid
// reuse edge pixels.
func perceptualHash(img *image.NRGBA) uint64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var samples [hashGrid * hashGrid]float64
	var total float64
	for by := 0; by < hashGrid; by++ {
		y0, y1 := blockSpan(by, h)
		for bx := 0; bx < hashGrid; bx++ {
			x0, x1 := blockSpan(bx, w)
			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += luminance(img, x, y)
				}
			}
			v := sum / float64((y1-y0)*(x1-x0))
			samples[by*hashGrid+bx] = v
			total += v
		}
	}
	mean := total / float64(len(samples))
	var hash uint64
	for i, v := range samples {
		if v > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

func blockSpan(block, size int) (int, int) {
	lo := block * size / hashGrid
	hi := (block + 1) * size / hashGrid
	if lo >= size {
		lo = size - 1
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

func hashSimilarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/float64(hashGrid*hashGrid)
}

// ssim computes a single global structural similarity over luminance.
// Negative correlation is reported as 0.
func ssim(a, b *image.NRGBA) float64 {
	if !sameSize(a, b) {
		return 0
	}
	w, h := a.Rect.Dx(), a.Rect.Dy()
	n := float64(w * h)
	if n == 0 {
		return 1
	}
	var sa, sb, saa, sbb, sab float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			la, lb := luminance(a, x, y), luminance(b, x, y)
			sa += la
			sb += lb
			saa += la * la
			sbb += lb * lb
			sab += la * lb
		}
	}
	ma, mb := sa/n, sb/n
	va := saa/n - ma*ma
	vb := sbb/n - mb*mb
	cov := sab/n - ma*mb
	s := ((2*ma*mb + ssimC1) * (2*cov + ssimC2)) /
		((ma*ma + mb*mb + ssimC1) * (va + vb + ssimC2))
	return clamp01(s)
}

func grayHistogram(img *image.NRGBA) [256]float64 {
	var hist [256]float64
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[uint8(luminance(img, x, y))]++
		}
	}
	return hist
}

// histogramSimilarity maps the Pearson correlation of the grayscale
// histograms from [-1,1] onto [0,1].
func histogramSimilarity(a, b *image.NRGBA) float64 {
	ha, hb := grayHistogram(a), grayHistogram(b)
	var ma, mb float64
	for i := range ha {
		ma += ha[i]
		mb += hb[i]
	}
	ma /= 256
	mb /= 256
	var num, da, db float64
	for i := range ha {
		x, y := ha[i]-ma, hb[i]-mb
		num += x * y
		da += x * x
		db += y * y
	}
	if da == 0 || db == 0 {
		if ha == hb {
			return 1
		}
		return 0
	}
	r := num / math.Sqrt(da*db)
	return clamp01((r + 1) / 2)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// applyMask blanks rects to opaque black in place.
func applyMask(img *image.NRGBA, rects []image.Rectangle) {
	for _, r := range rects {
		r = r.Intersect(img.Rect)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				i := img.PixOffset(x, y)
				img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 0, 0, 0, 0xff
			}
		}
	}
}
