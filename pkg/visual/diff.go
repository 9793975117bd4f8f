package visual

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// regionCell is the side of the grid cells used to cluster differing pixels.
const regionCell = 16

var (
	diffRed     = color.NRGBA{R: 0xff, A: 0xff}
	outlineCol  = color.NRGBA{R: 0xff, G: 0xd7, A: 0xff}
	labelBgCol  = color.NRGBA{A: 0xc0}
	labelTextCl = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// diffRegions clusters differing pixels into bounding rectangles. Pixels are
// bucketed into cells and 8-connected cells are merged.
func diffRegions(d pixelDiff) []image.Rectangle {
	if d.count == 0 {
		return nil
	}
	cw := (d.width + regionCell - 1) / regionCell
	ch := (d.height + regionCell - 1) / regionCell
	cells := make([]bool, cw*ch)
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			if d.mask[y*d.width+x] {
				cells[(y/regionCell)*cw+x/regionCell] = true
			}
		}
	}

	seen := make([]bool, len(cells))
	var regions []image.Rectangle
	var stack []int
	for start, hit := range cells {
		if !hit || seen[start] {
			continue
		}
		var bounds image.Rectangle
		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cx, cy := c%cw, c/cw
			bounds = bounds.Union(cellBounds(d, cx, cy))
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := cx+dx, cy+dy
					if nx < 0 || ny < 0 || nx >= cw || ny >= ch {
						continue
					}
					n := ny*cw + nx
					if cells[n] && !seen[n] {
						seen[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
		regions = append(regions, bounds)
	}
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Min.Y != regions[j].Min.Y {
			return regions[i].Min.Y < regions[j].Min.Y
		}
		return regions[i].Min.X < regions[j].Min.X
	})
	return regions
}

// cellBounds returns the tight bounds of differing pixels within one cell.
func cellBounds(d pixelDiff, cx, cy int) image.Rectangle {
	var r image.Rectangle
	x0, y0 := cx*regionCell, cy*regionCell
	for y := y0; y < y0+regionCell && y < d.height; y++ {
		for x := x0; x < x0+regionCell && x < d.width; x++ {
			if d.mask[y*d.width+x] {
				r = r.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	return r
}

// renderDiff draws differing pixels in red over a dimmed copy of actual and
// outlines each region with a numbered label.
func renderDiff(actual *image.NRGBA, d pixelDiff, regions []image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(actual.Rect)
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			if d.mask[y*d.width+x] {
				out.SetNRGBA(x, y, diffRed)
				continue
			}
			c := actual.NRGBAAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{R: c.R / 3, G: c.G / 3, B: c.B / 3, A: 0xff})
		}
	}
	for i, r := range regions {
		outline(out, r.Inset(-1).Intersect(out.Rect))
		label(out, r, fmt.Sprintf("#%d", i+1))
	}
	return out
}

// renderSizeDiff is the diff image for screenshots whose size differs from
// the baseline: a dimmed copy of actual framed in red and labelled with both
// sizes.
func renderSizeDiff(actual *image.NRGBA, baseline image.Point) *image.NRGBA {
	out := image.NewNRGBA(actual.Rect)
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			c := actual.NRGBAAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{R: c.R / 3, G: c.G / 3, B: c.B / 3, A: 0xff})
		}
	}
	for i := 0; i < 2; i++ {
		frame(out, out.Rect.Inset(i), diffRed)
	}
	size := actual.Rect.Size()
	label(out, out.Rect.Inset(2), fmt.Sprintf("baseline %dx%d, actual %dx%d", baseline.X, baseline.Y, size.X, size.Y))
	return out
}

func outline(img *image.NRGBA, r image.Rectangle) {
	frame(img, r, outlineCol)
}

func frame(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetNRGBA(x, r.Min.Y, c)
		img.SetNRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetNRGBA(r.Min.X, y, c)
		img.SetNRGBA(r.Max.X-1, y, c)
	}
}

// label writes text above r, or inside it when r touches the top edge.
func label(img *image.NRGBA, r image.Rectangle, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	top := r.Min.Y - height - 1
	if top < img.Rect.Min.Y {
		top = r.Min.Y + 1
	}
	bg := image.Rect(r.Min.X, top, r.Min.X+width+2, top+height).Intersect(img.Rect)
	for y := bg.Min.Y; y < bg.Max.Y; y++ {
		for x := bg.Min.X; x < bg.Max.X; x++ {
			img.SetNRGBA(x, y, labelBgCol)
		}
	}
	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelTextCl),
		Face: face,
		Dot:  fixed.P(r.Min.X+1, top+face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)
}
