// Package board draws fleet status images: a PNG map for the web API and a
// 128x64 monochrome frame for an SSD1306 OLED.
package board

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/patrol_tracker/internal/patrol"
)

const (
	lineHeight = 13
	margin     = 8
	dotRadius  = 3

	// OLEDWidth and OLEDHeight are the SSD1306 panel size.
	OLEDWidth  = 128
	OLEDHeight = 64
)

var (
	background   = color.RGBA{R: 0x12, G: 0x16, B: 0x1c, A: 0xff}
	textColor    = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	patrolDot    = color.RGBA{R: 0x3d, G: 0x8b, B: 0xff, A: 0xff}
	emergencyDot = color.RGBA{R: 0xff, G: 0x4d, B: 0x4d, A: 0xff}
)

// Render draws every unit of batch scaled into a width x height map, with
// its id next to it, and a header line with the unit count. Units listed in
// emergency are drawn in red.
func Render(batch patrol.Batch, emergency map[string]bool, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{textColor},
		Face: basicfont.Face7x13,
	}
	drawer.Dot = fixed.P(margin, lineHeight)
	drawer.DrawString(fmt.Sprintf("%d units", len(batch)))

	if len(batch) == 0 {
		return img
	}

	plot := image.Rect(margin, lineHeight+margin, width-margin, height-margin)
	minLat, maxLat, minLng, maxLng := extent(batch)

	for _, u := range sorted(batch) {
		x := scale(u.Lng, minLng, maxLng, plot.Min.X, plot.Max.X)
		y := scale(u.Lat, maxLat, minLat, plot.Min.Y, plot.Max.Y) // north up

		c := patrolDot
		if emergency[u.ID] {
			c = emergencyDot
		}
		dot(img, x, y, c)

		drawer.Dot = fixed.P(x+dotRadius+2, y+4)
		drawer.DrawString(u.ID)
	}
	return img
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// RenderOLED draws a text summary for a 128x64 panel: the unit count and as
// many units with their heading as fit.
func RenderOLED(batch patrol.Batch) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, OLEDWidth, OLEDHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(0, lineHeight)
	if len(batch) == 0 {
		drawer.DrawString("FLEET")
		drawer.Dot = fixed.P(0, 2*lineHeight)
		drawer.DrawString("Waiting...")
		return img
	}
	drawer.DrawString(fmt.Sprintf("FLEET %d units", len(batch)))

	rows := OLEDHeight/lineHeight - 1
	for i, u := range sorted(batch) {
		if i == rows {
			break
		}
		drawer.Dot = fixed.P(0, (i+2)*lineHeight)
		drawer.DrawString(fmt.Sprintf("%-8s %3.0f", u.ID, u.Bearing))
	}
	return img
}

func sorted(batch patrol.Batch) patrol.Batch {
	out := append(patrol.Batch(nil), batch...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func extent(batch patrol.Batch) (minLat, maxLat, minLng, maxLng float64) {
	minLat, minLng = math.Inf(1), math.Inf(1)
	maxLat, maxLng = math.Inf(-1), math.Inf(-1)
	for _, u := range batch {
		minLat = math.Min(minLat, u.Lat)
		maxLat = math.Max(maxLat, u.Lat)
		minLng = math.Min(minLng, u.Lng)
		maxLng = math.Max(maxLng, u.Lng)
	}
	return
}

// scale maps v from [from, to] onto [lo, hi]. A zero-width range maps to
// the middle.
func scale(v, from, to float64, lo, hi int) int {
	if from == to {
		return (lo + hi) / 2
	}
	f := (v - from) / (to - from)
	return lo + int(math.Round(f*float64(hi-lo)))
}

func dot(img *image.RGBA, cx, cy int, c color.RGBA) {
	for dy := -dotRadius; dy <= dotRadius; dy++ {
		for dx := -dotRadius; dx <= dotRadius; dx++ {
			if dx*dx+dy*dy <= dotRadius*dotRadius {
				img.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
}
