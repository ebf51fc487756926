package cmd

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"

	"github.com/andresmejia3/irisguide/internal/analysis"
	"github.com/andresmejia3/irisguide/internal/types"
	"github.com/disintegration/imaging"
)

// Debug frames are scaled down to fit this box.
const debugFrameMaxSize = 640

var (
	readyColor    = color.NRGBA{R: 0, G: 220, B: 90, A: 255}
	notReadyColor = color.NRGBA{R: 255, G: 190, B: 0, A: 255}
)

// bgraImage wraps a packed BGRA buffer in place so overlays can be drawn without a copy.
type bgraImage struct {
	pix    []byte
	stride int
	rect   image.Rectangle
}

func newBGRAImage(pix []byte, width, height int) *bgraImage {
	return &bgraImage{pix: pix, stride: width * 4, rect: image.Rect(0, 0, width, height)}
}

func (b *bgraImage) ColorModel() color.Model { return color.NRGBAModel }
func (b *bgraImage) Bounds() image.Rectangle { return b.rect }

func (b *bgraImage) At(x, y int) color.Color {
	if !image.Pt(x, y).In(b.rect) {
		return color.NRGBA{}
	}
	o := y*b.stride + x*4
	return color.NRGBA{R: b.pix[o+2], G: b.pix[o+1], B: b.pix[o], A: b.pix[o+3]}
}

func (b *bgraImage) Set(x, y int, c color.Color) {
	if !image.Pt(x, y).In(b.rect) {
		return
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	o := y*b.stride + x*4
	b.pix[o], b.pix[o+1], b.pix[o+2], b.pix[o+3] = n.B, n.G, n.R, n.A
}

// frameImage copies a frame into an NRGBA image.
func frameImage(f *types.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b, _ := analysis.RGB(f, x, y)
			off := y*img.Stride + x*4
			img.Pix[off] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 255
		}
	}
	return img
}

// annotate draws the iris ring and a status bar along the top edge.
func annotate(img draw.Image, s types.GuidanceState) {
	c := notReadyColor
	if s.ReadyToCapture {
		c = readyColor
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	barHeight := max(2, h/60)
	for y := 0; y < barHeight && y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	if !s.IrisDetected {
		return
	}
	cx := s.IrisCenter.X * float64(w)
	cy := s.IrisCenter.Y * float64(h)
	// Radius is a quarter of the eye spacing; the ring encloses both eyes.
	r := math.Max(4, s.IrisRadius*float64(w)*2.5)
	drawRing(img, cx, cy, r, max(2, w/320), c)
}

// drawRing plots a circle outline of the given thickness, clipped to the image.
func drawRing(img draw.Image, cx, cy, r float64, thickness int, c color.Color) {
	bounds := img.Bounds()
	steps := int(2*math.Pi*r) + 1
	for t := 0; t < thickness; t++ {
		rr := r + float64(t)
		for i := 0; i < steps; i++ {
			a := 2 * math.Pi * float64(i) / float64(steps)
			p := image.Pt(int(math.Round(cx+rr*math.Cos(a))), int(math.Round(cy+rr*math.Sin(a))))
			if p.In(bounds) {
				img.Set(p.X, p.Y, c)
			}
		}
	}
}

// writeDebugFrame saves an annotated, downscaled JPEG of f under dir/session/.
func writeDebugFrame(dir, session string, index int, f *types.Frame, s types.GuidanceState) (string, error) {
	img := frameImage(f)
	annotate(img, s)
	out := imaging.Fit(img, debugFrameMaxSize, debugFrameMaxSize, imaging.Linear)

	outDir := filepath.Join(dir, session)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(outDir, fmt.Sprintf("frame_%06d.jpg", index))
	if err := imaging.Save(out, path, imaging.JPEGQuality(90)); err != nil {
		return "", err
	}
	return path, nil
}
