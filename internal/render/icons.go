package render

import (
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gg"
)

// Icon asset identifiers. The vector sources are the path functions
// below; rasterization happens at most once per (asset, scale).
const (
	AssetBatteryOutline = "battery-outline"
	AssetBolt           = "bolt"
	AssetSignalOff      = "signal-off"
	AssetSignal0        = "signal-0"
	AssetSignal1        = "signal-1"
	AssetSignal2        = "signal-2"
	AssetSignal3        = "signal-3"
	AssetSignal4        = "signal-4"
	AssetBrightness     = "brightness"
)

// iconPaths maps each asset to its drawing function. Paths work in a
// unit box; the rasterizer scales to the target pixel size.
var iconPaths = map[string]func(dc *gg.Context, s float64){
	AssetBatteryOutline: drawBatteryOutline,
	AssetBolt:           drawBolt,
	AssetSignalOff:      signalBars(0, true),
	AssetSignal0:        signalBars(0, false),
	AssetSignal1:        signalBars(1, false),
	AssetSignal2:        signalBars(2, false),
	AssetSignal3:        signalBars(3, false),
	AssetSignal4:        signalBars(4, false),
	AssetBrightness:     drawBrightness,
}

type iconKey struct {
	asset string
	scale int32
}

// IconCache rasterizes vector icons lazily and keeps the result as an
// alpha mask, one entry per (asset, scale). Color is applied at blit
// time so a theme change does not invalidate.
type IconCache struct {
	size    int32 // logical pixel box the icons are drawn in
	entries map[iconKey]*image.Alpha
}

// NewIconCache creates a cache for icons of the given logical size.
func NewIconCache(size int32) *IconCache {
	return &IconCache{
		size:    size,
		entries: make(map[iconKey]*image.Alpha),
	}
}

// Get returns the rasterized mask for asset at scale, drawing it on
// first use. Unknown assets return nil.
func (c *IconCache) Get(asset string, scale int32) *image.Alpha {
	key := iconKey{asset: asset, scale: scale}
	if mask, ok := c.entries[key]; ok {
		return mask
	}

	draw, ok := iconPaths[asset]
	if !ok {
		return nil
	}

	px := int(c.size * scale)
	dc := gg.NewContext(px, px)
	dc.SetRGB(1, 1, 1)
	draw(dc, float64(px))

	mask := alphaOf(dc.Image())
	c.entries[key] = mask
	return mask
}

// Invalidate drops every entry; called wholesale on scale change.
func (c *IconCache) Invalidate() {
	c.entries = make(map[iconKey]*image.Alpha)
}

// Len reports the number of cached rasterizations.
func (c *IconCache) Len() int { return len(c.entries) }

// alphaOf extracts the coverage channel of a rasterized icon.
func alphaOf(img image.Image) *image.Alpha {
	b := img.Bounds()
	mask := image.NewAlpha(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			mask.SetAlpha(x, y, color.Alpha{A: uint8(a >> 8)})
		}
	}
	return mask
}

func drawBatteryOutline(dc *gg.Context, s float64) {
	lw := s * 0.07
	dc.SetLineWidth(lw)
	dc.DrawRoundedRectangle(lw, s*0.28, s*0.78, s*0.44, s*0.08)
	dc.Stroke()
	// terminal nub
	dc.DrawRectangle(lw+s*0.80, s*0.42, s*0.10, s*0.16)
	dc.Fill()
}

func drawBolt(dc *gg.Context, s float64) {
	dc.MoveTo(s*0.55, s*0.20)
	dc.LineTo(s*0.32, s*0.55)
	dc.LineTo(s*0.47, s*0.55)
	dc.LineTo(s*0.42, s*0.80)
	dc.LineTo(s*0.66, s*0.45)
	dc.LineTo(s*0.51, s*0.45)
	dc.ClosePath()
	dc.Fill()
}

// signalBars renders 4 bars with the first `lit` filled. hollow draws
// outlines only (disconnected).
func signalBars(lit int, hollow bool) func(dc *gg.Context, s float64) {
	return func(dc *gg.Context, s float64) {
		barW := s * 0.16
		gap := s * 0.06
		for i := 0; i < 4; i++ {
			x := float64(i) * (barW + gap)
			h := s * (0.25 + 0.20*float64(i))
			y := s*0.85 - h
			if hollow || i >= lit {
				dc.SetLineWidth(s * 0.04)
				dc.DrawRectangle(x+s*0.02, y, barW, h)
				dc.Stroke()
			} else {
				dc.DrawRectangle(x+s*0.02, y, barW, h)
				dc.Fill()
			}
		}
	}
}

func drawBrightness(dc *gg.Context, s float64) {
	dc.DrawCircle(s*0.5, s*0.5, s*0.18)
	dc.Fill()
	dc.SetLineWidth(s * 0.06)
	for i := 0; i < 8; i++ {
		angle := float64(i) * math.Pi / 4
		x1 := s*0.5 + s*0.30*math.Cos(angle)
		y1 := s*0.5 + s*0.30*math.Sin(angle)
		x2 := s*0.5 + s*0.42*math.Cos(angle)
		y2 := s*0.5 + s*0.42*math.Sin(angle)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}
}
