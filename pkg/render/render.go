// Package render overlays haiku text on images.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultSize is the side of the square output image.
	DefaultSize = 512
	// DefaultTextScale enlarges the bitmap face so text reads at DefaultSize.
	DefaultTextScale = 2
	// DefaultShadow is the shadow offset in source pixels.
	DefaultShadow = 1
)

// errorBackground is the fill of blank images.
var errorBackground = color.RGBA{R: 0x00, G: 0x00, B: 0xaa, A: 0xff}

// Renderer crops images to a square and draws shadowed text on them.
type Renderer struct {
	size       int
	textScale  int
	shadow     int
	face       font.Face
	background color.Color
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithSize sets the side of the square output. Default: 512
func WithSize(size int) Option {
	return func(r *Renderer) {
		if size > 0 {
			r.size = size
		}
	}
}

// WithTextScale sets the integer factor applied to the font face. Default: 2
func WithTextScale(scale int) Option {
	return func(r *Renderer) {
		if scale > 0 {
			r.textScale = scale
		}
	}
}

// WithShadow sets the shadow offset. Zero disables the shadow. Default: 1
func WithShadow(offset int) Option {
	return func(r *Renderer) {
		if offset >= 0 {
			r.shadow = offset
		}
	}
}

// WithFace sets the font face. Default: basicfont.Face7x13
func WithFace(face font.Face) Option {
	return func(r *Renderer) {
		if face != nil {
			r.face = face
		}
	}
}

// WithBackground sets the fill used by RenderBlank.
func WithBackground(c color.Color) Option {
	return func(r *Renderer) {
		if c != nil {
			r.background = c
		}
	}
}

// New creates a Renderer with the given options.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		size:       DefaultSize,
		textScale:  DefaultTextScale,
		shadow:     DefaultShadow,
		face:       basicfont.Face7x13,
		background: errorBackground,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Size returns the side of the square output.
func (r *Renderer) Size() int {
	return r.size
}

// Render reads the image at inPath, crops it to a square, draws text on it
// and writes it to outPath in the format named by its extension.
func (r *Renderer) Render(inPath, outPath, text string) error {
	src, err := decodeFile(inPath)
	if err != nil {
		return err
	}
	dst := r.square(src)
	r.drawText(dst, text)
	return encodeFile(outPath, dst)
}

// RenderBlank draws text on a plain background and writes it to outPath.
func (r *Renderer) RenderBlank(outPath, text string) error {
	dst := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.background), image.Point{}, draw.Src)
	r.drawText(dst, text)
	return encodeFile(outPath, dst)
}

// square scales src so its short side is r.size and crops the center.
func (r *Renderer) square(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	short := min(w, h)

	nw := (w*r.size + short/2) / short
	nh := (h*r.size + short/2) / short
	nw, nh = max(nw, r.size), max(nh, r.size)
	scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)

	dst := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	offset := image.Pt((nw-r.size)/2, (nh-r.size)/2)
	draw.Draw(dst, dst.Bounds(), scaled, offset, draw.Src)
	return dst
}

// drawText draws each line of text at a margin of a sixteenth of the size.
// Text is drawn on a transparent layer at 1/textScale and scaled up, since
// the bitmap face has a single size.
func (r *Renderer) drawText(dst *image.RGBA, text string) {
	layerSize := r.size / r.textScale
	layer := image.NewRGBA(image.Rect(0, 0, layerSize, layerSize))

	margin := r.size / 16 / r.textScale
	metrics := r.face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()

	drawLines := func(c color.Color, dx, dy int) {
		d := &font.Drawer{Dst: layer, Src: image.NewUniform(c), Face: r.face}
		for i, line := range strings.Split(text, "\n") {
			d.Dot = fixed.P(margin+dx, margin+ascent+i*lineHeight+dy)
			d.DrawString(line)
		}
	}

	if s := r.shadow; s > 0 {
		for _, off := range [][2]int{{-s, -s}, {-s, s}, {s, -s}, {s, s}} {
			drawLines(color.Black, off[0], off[1])
		}
	}
	drawLines(color.White, 0, 0)

	draw.NearestNeighbor.Scale(dst, dst.Bounds(), layer, layer.Bounds(), draw.Over, nil)
}

// Thumbnail writes a copy of the image at inPath that fits within w×h,
// keeping its aspect ratio. Images already small enough are not enlarged.
// It returns the absolute path of the thumbnail.
func Thumbnail(inPath, outPath string, w, h int) (string, error) {
	if w <= 0 || h <= 0 {
		return "", fmt.Errorf("invalid thumbnail size %dx%d", w, h)
	}
	src, err := decodeFile(inPath)
	if err != nil {
		return "", err
	}

	b := src.Bounds()
	tw, th := b.Dx(), b.Dy()
	if tw > w {
		th = max(1, th*w/tw)
		tw = w
	}
	if th > h {
		tw = max(1, tw*h/th)
		th = h
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	if err = encodeFile(outPath, dst); err != nil {
		return "", err
	}
	return filepath.Abs(outPath)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode image %s: %w", path, err)
	}
	return img, nil
}

// encodeFile writes img to path, choosing the format from the extension.
// Unknown extensions are written as PNG.
func encodeFile(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	case ".gif":
		err = gif.Encode(f, img, nil)
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("could not encode image %s: %w", path, err)
	}
	return f.Close()
}
