package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gg/text"
)

type glyphKey struct {
	font  string
	size  float64 // logical size
	scale int32
	r     rune
}

// Glyph is one shaped and rasterized code point: an alpha mask plus
// the metrics needed to advance the pen. Dimensions are pixels at the
// cached scale.
type Glyph struct {
	Mask    *image.Alpha
	Advance float64
	Ascent  float64
}

// GlyphCache shapes and rasterizes glyphs lazily, one entry per
// (font, size, scale, code point). The panel's repertoire is the clock
// digits and a few labels, so entries are never evicted except by
// wholesale invalidation on scale change.
type GlyphCache struct {
	source   *text.FontSource
	fontName string
	entries  map[glyphKey]*Glyph
	faces    map[float64]text.Face // pixel size -> face
}

// NewGlyphCache loads the font file the panel renders with.
func NewGlyphCache(fontPath string) (*GlyphCache, error) {
	source, err := text.NewFontSourceFromFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load font %s: %w", fontPath, err)
	}
	return &GlyphCache{
		source:   source,
		fontName: source.Name(),
		entries:  make(map[glyphKey]*Glyph),
		faces:    make(map[float64]text.Face),
	}, nil
}

func (c *GlyphCache) face(pixelSize float64) text.Face {
	if f, ok := c.faces[pixelSize]; ok {
		return f
	}
	f := c.source.Face(pixelSize)
	c.faces[pixelSize] = f
	return f
}

// Get returns the cached rasterization for r, producing it on first
// miss. size is logical; the mask is rendered at size*scale pixels.
func (c *GlyphCache) Get(size float64, scale int32, r rune) *Glyph {
	key := glyphKey{font: c.fontName, size: size, scale: scale, r: r}
	if g, ok := c.entries[key]; ok {
		return g
	}

	face := c.face(size * float64(scale))
	metrics := face.Metrics()
	s := string(r)
	advance := face.Advance(s)

	w := int(math.Ceil(advance)) + 2 // AA bleed margin
	h := int(math.Ceil(metrics.Ascent+metrics.Descent)) + 2
	if w < 1 {
		w = 1
	}
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	text.Draw(mask, s, face, 1, 1+metrics.Ascent, color.Opaque)

	g := &Glyph{Mask: mask, Advance: advance, Ascent: metrics.Ascent}
	c.entries[key] = g
	return g
}

// Invalidate drops all entries and faces; called wholesale on scale
// change.
func (c *GlyphCache) Invalidate() {
	c.entries = make(map[glyphKey]*Glyph)
	c.faces = make(map[float64]text.Face)
}

// Len reports the number of cached glyphs.
func (c *GlyphCache) Len() int { return len(c.entries) }

// Measure returns the advance width of s at the given size and scale,
// summing per-glyph advances the same way drawing does.
func (c *GlyphCache) Measure(size float64, scale int32, s string) float64 {
	var w float64
	for _, r := range s {
		w += c.Get(size, scale, r).Advance
	}
	return w
}
