package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/script2video/internal/system"
)

// TextRenderer draws a title card: a gradient background derived from the
// fingerprint, the prompt centered in bold and the caption underneath.
type TextRenderer struct {
	width, height int

	mu      sync.Mutex
	title   font.Face
	caption font.Face
}

func NewTextRenderer(width, height int) (*TextRenderer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, err
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}

	title, err := opentype.NewFace(bold, &opentype.FaceOptions{
		Size:    float64(height) / 16,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	caption, err := opentype.NewFace(regular, &opentype.FaceOptions{
		Size:    float64(height) / 30,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}

	return &TextRenderer{width: width, height: height, title: title, caption: caption}, nil
}

func (r *TextRenderer) Size() (int, int) {
	return r.width, r.height
}

// Render is deterministic in its inputs: equal requests give equal bytes.
func (r *TextRenderer) Render(req Request, fingerprint string) ([]byte, error) {
	if req.Width != r.width || req.Height != r.height {
		return nil, fmt.Errorf("renderer is %dx%d, request wants %dx%d", r.width, r.height, req.Width, req.Height)
	}
	// font faces keep glyph caches and are not safe for concurrent use
	r.mu.Lock()
	defer r.mu.Unlock()

	canvas := system.GetImage(image.Rect(0, 0, r.width, r.height))
	defer system.PutImage(canvas)

	top, bottom := palette(fingerprint)
	fillGradient(canvas, top, bottom)
	r.drawFrameBorder(canvas, top)

	margin := r.width / 10
	maxWidth := r.width - 2*margin

	titleLines := wrap(r.title, req.Prompt, maxWidth)
	captionLines := wrap(r.caption, req.Caption, maxWidth)
	titleLH := r.title.Metrics().Height.Ceil() * 5 / 4
	captionLH := r.caption.Metrics().Height.Ceil() * 5 / 4

	// captions get at most three lines, the title whatever fits above them
	captionLines = clampLines(r.caption, captionLines, 3, maxWidth)
	room := r.height - 2*margin - len(captionLines)*captionLH
	titleLines = clampLines(r.title, titleLines, maxInt(1, room/titleLH), maxWidth)

	block := len(titleLines)*titleLH + len(captionLines)*captionLH
	if len(captionLines) > 0 {
		block += captionLH / 2
	}
	y := (r.height-block)/2 + r.title.Metrics().Ascent.Ceil()

	ink := image.NewUniform(color.RGBA{245, 245, 240, 255})
	for _, l := range titleLines {
		drawCentered(canvas, r.title, ink, l, r.width, y)
		y += titleLH
	}
	if len(captionLines) > 0 {
		y += captionLH / 2
		soft := image.NewUniform(color.RGBA{210, 214, 220, 255})
		for _, l := range captionLines {
			drawCentered(canvas, r.caption, soft, l, r.width, y)
			y += captionLH
		}
	}

	var out image.Image = canvas
	if req.Stamp {
		stamped, err := r.stamp(canvas, fingerprint)
		if err != nil {
			return nil, err
		}
		out = stamped
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stamp puts a QR code of the fingerprint in the bottom right corner so a
// frame can be traced back to its cache entry.
func (r *TextRenderer) stamp(canvas *image.RGBA, fingerprint string) (image.Image, error) {
	code, err := qrcode.New(fingerprint, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	size := r.height / 6
	qr := code.Image(size)
	pad := r.height / 30
	return imaging.Overlay(canvas, qr, image.Pt(r.width-qr.Bounds().Dx()-pad, r.height-qr.Bounds().Dy()-pad), 0.9), nil
}

func (r *TextRenderer) drawFrameBorder(dst *image.RGBA, base colorful.Color) {
	c := base.BlendHcl(colorful.Color{R: 1, G: 1, B: 1}, 0.35).Clamped()
	cr, cg, cb := c.RGB255()
	line := image.NewUniform(color.RGBA{cr, cg, cb, 255})

	inset := r.height / 24
	thick := maxInt(1, r.height/360)
	b := dst.Bounds()
	x0, y0, x1, y1 := b.Min.X+inset, b.Min.Y+inset, b.Max.X-inset, b.Max.Y-inset
	draw.Draw(dst, image.Rect(x0, y0, x1, y0+thick), line, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(x0, y1-thick, x1, y1), line, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(x0, y0, x0+thick, y1), line, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(x1-thick, y0, x1, y1), line, image.Point{}, draw.Src)
}

// palette picks two dark colors whose hue comes from the fingerprint.
func palette(fingerprint string) (colorful.Color, colorful.Color) {
	hue := 210.0
	if len(fingerprint) >= 4 {
		if v, err := strconv.ParseUint(fingerprint[:4], 16, 32); err == nil {
			hue = float64(v % 360)
		}
	}
	top := colorful.Hcl(hue, 0.25, 0.20).Clamped()
	bottom := colorful.Hcl(hue+40, 0.30, 0.35).Clamped()
	return top, bottom
}

func fillGradient(dst *image.RGBA, top, bottom colorful.Color) {
	b := dst.Bounds()
	h := b.Dy()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		t := 0.0
		if h > 1 {
			t = float64(y-b.Min.Y) / float64(h-1)
		}
		cr, cg, cb := top.BlendHcl(bottom, t).Clamped().RGB255()
		row := dst.Pix[(y-b.Min.Y)*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = cr, cg, cb, 255
		}
	}
}

func drawCentered(dst draw.Image, face font.Face, src image.Image, text string, width, baseline int) {
	d := &font.Drawer{Dst: dst, Src: src, Face: face}
	w := d.MeasureString(text)
	d.Dot = fixed.Point26_6{X: (fixed.I(width) - w) / 2, Y: fixed.I(baseline)}
	d.DrawString(text)
}

// wrap breaks text into lines no wider than maxWidth. A single word wider
// than the line gets a line of its own.
func wrap(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	var lines []string
	cur := ""
	for _, w := range words {
		next := w
		if cur != "" {
			next = cur + " " + w
		}
		if cur != "" && font.MeasureString(face, next).Ceil() > maxWidth {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur = next
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func clampLines(face font.Face, lines []string, limit, maxWidth int) []string {
	if len(lines) <= limit {
		return lines
	}
	out := append([]string(nil), lines[:limit]...)
	last := out[limit-1]
	for last != "" && font.MeasureString(face, last+"…").Ceil() > maxWidth {
		r := []rune(last)
		last = strings.TrimSpace(string(r[:len(r)-1]))
	}
	out[limit-1] = last + "…"
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
