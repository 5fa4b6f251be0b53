// Package render rasterizes the panel: vector icons and shaped text,
// cached per scale, composited in a fixed layer order into an RGBA
// back image. Rendering is a pure function of panel state and surface
// geometry; identical inputs produce identical pixels.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/veldt/ledge/internal/logger"
	"github.com/veldt/ledge/internal/state"
	"github.com/veldt/ledge/internal/surface"
)

const (
	paddingLogical = 8.0
	clusterGap     = 6.0
)

// Style is the configurable appearance.
type Style struct {
	Background  color.RGBA
	Foreground  color.RGBA
	FontSize    float64 // logical
	ClockFormat string
}

// ParseColor parses "#rrggbb".
func ParseColor(s string) (color.RGBA, error) {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// Pipeline owns the caches and the back image.
type Pipeline struct {
	style  Style
	icons  *IconCache
	glyphs *GlyphCache

	back      *image.RGBA
	lastScale int32
}

// NewPipeline creates a pipeline rendering with the given font and
// style. iconSize is the logical icon box, derived from panel height.
func NewPipeline(fontPath string, iconSize int32, style Style) (*Pipeline, error) {
	glyphs, err := NewGlyphCache(fontPath)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		style:  style,
		icons:  NewIconCache(iconSize),
		glyphs: glyphs,
	}, nil
}

// SetStyle applies a new style (config reload). Cached masks are
// colorless, so no invalidation is needed.
func (p *Pipeline) SetStyle(style Style) {
	p.style = style
}

// Style returns the active style.
func (p *Pipeline) Style() Style { return p.style }

// Render produces the frame for the given state and geometry. The
// returned image is owned by the pipeline and valid until the next
// Render call.
func (p *Pipeline) Render(st state.PanelState, geom surface.Geometry) *image.RGBA {
	pw, ph := geom.PixelSize()

	if geom.Scale != p.lastScale {
		// Scale changed: every cached rasterization is for the wrong
		// pixel density.
		p.icons.Invalidate()
		p.glyphs.Invalidate()
		p.lastScale = geom.Scale
	}
	if p.back == nil || p.back.Rect.Dx() != int(pw) || p.back.Rect.Dy() != int(ph) {
		p.back = image.NewRGBA(image.Rect(0, 0, int(pw), int(ph)))
	}

	// Layer 1: background.
	draw.Draw(p.back, p.back.Rect, image.NewUniform(p.style.Background), image.Point{}, draw.Src)

	if !st.Visible {
		return p.back
	}

	scale := geom.Scale
	fscale := float64(scale)
	pad := paddingLogical * fscale
	gap := clusterGap * fscale
	iconPx := float64(int(p.icons.size * scale))
	iconY := (float64(ph) - iconPx) / 2

	// Layer 2: left cluster (connectivity).
	p.blitIcon(connectivityAsset(st), scale, pad, iconY)

	// Layer 3: right cluster, composed right-to-left.
	x := float64(pw) - pad
	if st.BatteryPercent >= 0 {
		label := fmt.Sprintf("%d%%", st.BatteryPercent)
		x -= p.glyphs.Measure(p.style.FontSize, scale, label)
		p.drawString(label, scale, x, float64(ph))
		x -= gap + iconPx
		p.blitIcon(AssetBatteryOutline, scale, x, iconY)
		p.drawBatteryFill(st.BatteryPercent, x, iconY, iconPx)
		if st.Charging {
			p.blitIcon(AssetBolt, scale, x, iconY)
		}
		x -= gap
	}
	if st.Brightness >= 0 {
		label := fmt.Sprintf("%d%%", st.Brightness)
		x -= p.glyphs.Measure(p.style.FontSize, scale, label)
		p.drawString(label, scale, x, float64(ph))
		x -= gap + iconPx
		p.blitIcon(AssetBrightness, scale, x, iconY)
	}

	// Layer 4: clock, centered.
	clock := "--:--"
	if !st.Wall.IsZero() {
		clock = st.Wall.Format(p.style.ClockFormat)
	}
	cw := p.glyphs.Measure(p.style.FontSize, scale, clock)
	p.drawString(clock, scale, (float64(pw)-cw)/2, float64(ph))

	return p.back
}

// connectivityAsset picks the icon for the link state.
func connectivityAsset(st state.PanelState) string {
	switch st.Connectivity {
	case state.Disconnected:
		return AssetSignalOff
	case state.Limited:
		return AssetSignal0
	default:
		switch st.SignalStrength {
		case 0:
			return AssetSignal0
		case 1:
			return AssetSignal1
		case 2:
			return AssetSignal2
		case 3:
			return AssetSignal3
		default:
			return AssetSignal4
		}
	}
}

func (p *Pipeline) blitIcon(asset string, scale int32, x, y float64) {
	mask := p.icons.Get(asset, scale)
	if mask == nil {
		logger.Warnf("Unknown icon asset %q", asset)
		return
	}
	r := mask.Bounds().Add(image.Pt(int(x), int(y)))
	draw.DrawMask(p.back, r, image.NewUniform(p.style.Foreground), image.Point{}, mask, mask.Bounds().Min, draw.Over)
}

// drawBatteryFill paints the charge bar inside the outline. Drawn
// live: the fill is a plain rectangle, cheaper than caching 101
// variants.
func (p *Pipeline) drawBatteryFill(percent int, x, y, s float64) {
	lw := s * 0.07
	innerX := x + lw*2 + s*0.02
	innerW := (s*0.78 - lw*2 - s*0.04) * float64(percent) / 100
	innerY := y + s*0.28 + lw*1.5
	innerH := s*0.44 - lw*3
	r := image.Rect(int(innerX), int(innerY), int(innerX+innerW), int(innerY+innerH))
	draw.Draw(p.back, r, image.NewUniform(p.style.Foreground), image.Point{}, draw.Over)
}

// drawString blits cached glyphs along a baseline centered in the bar
// height. y is the bar's pixel height.
func (p *Pipeline) drawString(s string, scale int32, x, barHeight float64) {
	size := p.style.FontSize
	fg := image.NewUniform(p.style.Foreground)
	for _, r := range s {
		g := p.glyphs.Get(size, scale, r)
		baseline := (barHeight + g.Ascent) / 2
		dst := g.Mask.Bounds().Add(image.Pt(int(x)-1, int(baseline-g.Ascent)-1))
		draw.DrawMask(p.back, dst, fg, image.Point{}, g.Mask, g.Mask.Bounds().Min, draw.Over)
		x += g.Advance
	}
}

// RegionRects maps damaged state regions to conservative surface-local
// rectangles (logical units). Regions may overlap; over-damaging is
// harmless, under-damaging is not.
func RegionRects(region state.Region, geom surface.Geometry) []image.Rectangle {
	w, h := int(geom.Width), int(geom.Height)
	var rects []image.Rectangle
	if region&state.RegionLeft != 0 {
		rects = append(rects, image.Rect(0, 0, w/3, h))
	}
	if region&state.RegionClock != 0 {
		rects = append(rects, image.Rect(w/4, 0, w*3/4, h))
	}
	if region&state.RegionRight != 0 {
		rects = append(rects, image.Rect(w/2, 0, w, h))
	}
	return rects
}
