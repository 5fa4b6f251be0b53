// Package app wires the panel together: it builds every component,
// registers the reactor sources, and runs the loop until shutdown.
// All state mutation happens in dispatch handlers on the reactor
// goroutine; the only cross-goroutine traffic is atomic handoff plus a
// reactor wake (config reload, signals).
package app

import (
	"fmt"
	"image"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/veldt/ledge/internal/config"
	"github.com/veldt/ledge/internal/control"
	"github.com/veldt/ledge/internal/logger"
	"github.com/veldt/ledge/internal/reactor"
	"github.com/veldt/ledge/internal/render"
	"github.com/veldt/ledge/internal/sched"
	"github.com/veldt/ledge/internal/state"
	"github.com/veldt/ledge/internal/surface"
	"github.com/veldt/ledge/internal/telemetry"
)

// Maximum time between redraws even without events.
const refreshInterval = 60 * time.Second

// App is the assembled panel.
type App struct {
	cfg *config.Config

	loop      *reactor.Reactor
	store     *state.Store
	manager   *surface.Manager
	pipeline  *render.Pipeline
	scheduler *sched.Scheduler
	watcher   *telemetry.Watcher
	ctrl      *control.Client

	clockTimer   *reactor.Timer
	refreshTimer *reactor.Timer

	pendingCfg  atomic.Pointer[config.Config]
	stopRequest atomic.Bool
}

// Run builds the panel and blocks until it exits. The returned error
// is nil on graceful shutdown; anything else maps to a non-zero exit.
func Run(cfg *config.Config) error {
	if cfg.Logging.LogLevel != "" {
		logger.SetLevel(cfg.Logging.LogLevel)
	}

	a := &App{cfg: cfg, store: state.NewStore()}

	// Surface handshake first: a compositor without the layer-shell
	// protocol is fatal before anything else spins up.
	manager, err := surface.Connect(surface.Options{
		Height:    int32(cfg.Panel.Height),
		Anchor:    cfg.Panel.Anchor,
		Namespace: "ledge",
	})
	if err != nil {
		return fmt.Errorf("surface handshake failed: %w", err)
	}
	a.manager = manager

	style, err := styleFromConfig(cfg)
	if err != nil {
		manager.Teardown()
		return err
	}
	a.pipeline, err = render.NewPipeline(cfg.Font.Path, int32(cfg.Panel.Height)/2, style)
	if err != nil {
		manager.Teardown()
		return err
	}

	a.scheduler = sched.New(manager, a.submitFrame)

	loop, err := reactor.New()
	if err != nil {
		manager.Teardown()
		return err
	}
	a.loop = loop
	loop.PostDispatch = a.postDispatch

	if err := a.setup(); err != nil {
		a.teardown()
		return err
	}

	// Seed the initial state and frame before the first wake.
	a.applyDelta(state.ClockDelta{Wall: time.Now()})
	geom := manager.Geometry()
	a.applyDelta(state.GeometryDelta{Width: geom.Width, Height: geom.Height, Scale: geom.Scale})
	a.scheduler.StateChangedFull()
	if err := a.scheduler.Flush(); err != nil {
		a.teardown()
		return err
	}

	logger.Info("Panel running", "height", cfg.Panel.Height, "anchor", cfg.Panel.Anchor)
	runErr := loop.Run()
	a.teardown()
	return runErr
}

// setup registers every event source.
func (a *App) setup() error {
	m := a.manager
	m.OnGeometry = func(g surface.Geometry) {
		a.applyDelta(state.GeometryDelta{Width: g.Width, Height: g.Height, Scale: g.Scale})
		a.scheduler.StateChangedFull()
	}
	m.OnClosed = func(err error) {
		a.loop.Stop(err)
	}
	if err := a.loop.Register(m); err != nil {
		return err
	}

	// Clock, aligned to the minute boundary.
	var err error
	a.clockTimer, err = reactor.NewTimer("clock", a.tickClock)
	if err != nil {
		return err
	}
	if err := a.loop.Register(a.clockTimer); err != nil {
		return err
	}
	if err := a.armClock(); err != nil {
		return err
	}

	// Periodic full refresh bounds staleness.
	a.refreshTimer, err = reactor.NewTimer("refresh", func() error {
		a.scheduler.StateChangedFull()
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.loop.Register(a.refreshTimer); err != nil {
		return err
	}
	if err := a.refreshTimer.ArmInterval(refreshInterval, refreshInterval); err != nil {
		return err
	}

	// Telemetry is best-effort: a sandbox without netlink access
	// degrades to a panel without battery/network readouts.
	window := time.Duration(a.cfg.Telemetry.CoalesceWindowMs) * time.Millisecond
	watcher, err := telemetry.NewWatcher(window, a.applyDelta)
	if err != nil {
		logger.Warnf("Telemetry unavailable: %v", err)
	} else {
		a.watcher = watcher
		if err := a.loop.Register(watcher); err != nil {
			return err
		}
		if err := a.loop.Register(watcher.Timer()); err != nil {
			return err
		}
	}

	// Control channel.
	socketPath, err := control.SocketPath(a.cfg.Control.SocketPath)
	if err != nil {
		logger.Warnf("Control channel disabled: %v", err)
	} else {
		a.ctrl, err = control.NewClient(socketPath, a.cfg.Control.MaxReconnects, a.loop)
		if err != nil {
			return err
		}
		a.ctrl.OnMessage = a.handleControl
		a.ctrl.OnConnect = a.announceZone
		a.ctrl.Start()
	}

	// Config reload and signals reach the loop via atomic handoff.
	if err := config.Watch(func(cfg *config.Config) {
		a.pendingCfg.Store(cfg)
		a.loop.Wake()
	}); err != nil {
		logger.Warnf("Config reload disabled: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.stopRequest.Store(true)
		a.loop.Wake()
	}()

	return nil
}

// postDispatch runs after every reactor wake: apply deferred
// cross-goroutine work, then let the scheduler decide on one render
// for everything this wake changed.
func (a *App) postDispatch() {
	if a.stopRequest.Load() {
		logger.Info("Shutdown requested")
		a.loop.Stop(nil)
		return
	}
	if cfg := a.pendingCfg.Swap(nil); cfg != nil {
		a.applyConfig(cfg)
	}
	if err := a.scheduler.Flush(); err != nil {
		a.loop.Stop(err)
	}
}

// applyDelta routes one state mutation through the store and marks
// whatever it dirtied.
func (a *App) applyDelta(d state.Delta) {
	a.scheduler.StateChanged(a.store.Apply(d))
}

// submitFrame is the scheduler's render callback: rasterize the
// current snapshot and hand it to the surface under the token.
func (a *App) submitFrame(token surface.FrameToken, damage *sched.DamageSet) error {
	st := a.store.Snapshot()
	geom := a.manager.Geometry()
	img := a.pipeline.Render(st, geom)

	var rects []image.Rectangle
	if damage.Full() {
		rects = []image.Rectangle{image.Rect(0, 0, int(geom.Width), int(geom.Height))}
	} else {
		rects = render.RegionRects(damage.Regions(), geom)
	}
	return a.manager.Submit(token, img, rects)
}

func (a *App) tickClock() error {
	a.applyDelta(state.ClockDelta{Wall: time.Now()})
	return a.armClock()
}

// armClock schedules the next tick just past the minute boundary.
func (a *App) armClock() error {
	now := time.Now()
	next := now.Truncate(time.Minute).Add(time.Minute)
	return a.clockTimer.Arm(next.Sub(now) + 50*time.Millisecond)
}

func (a *App) handleControl(msg control.Message) {
	switch msg.Type {
	case control.TypeVisibility:
		if msg.Visibility == nil {
			logger.Warn("Control visibility message without payload")
			return
		}
		a.applyDelta(state.VisibilityDelta{Visible: msg.Visibility.Visible})
	case control.TypeOrientation:
		if msg.Orientation == nil {
			logger.Warn("Control orientation message without payload")
			return
		}
		o := state.Portrait
		if msg.Orientation.Orientation == "landscape" {
			o = state.Landscape
		}
		a.applyDelta(state.OrientationDelta{Orientation: o})
	case control.TypeExclusiveZone:
		if msg.ExclusiveZone == nil {
			logger.Warn("Control exclusive-zone message without payload")
			return
		}
		if msg.ExclusiveZone.Ack {
			logger.Debug("Exclusive zone acknowledged", "size", msg.ExclusiveZone.Size)
			return
		}
		// The compositor wants a different zone; renegotiate. The
		// resulting configure discards any in-flight frame.
		if err := a.manager.SetExclusiveZone(msg.ExclusiveZone.Size); err != nil {
			logger.Errorf("Failed to renegotiate exclusive zone: %v", err)
		}
	default:
		logger.Debug("Ignoring control message", "type", msg.Type)
	}
}

// announceZone reports the current exclusive zone after each control
// (re)connect.
func (a *App) announceZone() {
	zone := a.manager.Geometry().ExclusiveZone
	if err := a.ctrl.Send(control.NewExclusiveZoneMessage(zone)); err != nil {
		logger.Warnf("Failed to announce exclusive zone: %v", err)
	}
}

// applyConfig applies a live-reloaded configuration.
func (a *App) applyConfig(cfg *config.Config) {
	style, err := styleFromConfig(cfg)
	if err != nil {
		logger.Warnf("Ignoring config reload: %v", err)
		return
	}
	a.pipeline.SetStyle(style)
	if cfg.Logging.LogLevel != "" {
		logger.SetLevel(cfg.Logging.LogLevel)
	}

	if int32(cfg.Panel.Height) != a.manager.Geometry().ExclusiveZone {
		if err := a.manager.SetExclusiveZone(int32(cfg.Panel.Height)); err != nil {
			logger.Errorf("Failed to apply new panel height: %v", err)
		}
	}
	// Coalesce window and font path apply on next start; not worth
	// rebuilding the watcher and glyph caches live.
	a.cfg = cfg
	a.scheduler.StateChangedFull()
}

func styleFromConfig(cfg *config.Config) (render.Style, error) {
	bg, err := render.ParseColor(cfg.Panel.Background)
	if err != nil {
		return render.Style{}, err
	}
	fg, err := render.ParseColor(cfg.Panel.Foreground)
	if err != nil {
		return render.Style{}, err
	}
	return render.Style{
		Background:  bg,
		Foreground:  fg,
		FontSize:    cfg.Font.Size,
		ClockFormat: cfg.Panel.ClockFormat,
	}, nil
}

func (a *App) teardown() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.clockTimer != nil {
		a.clockTimer.Close()
	}
	if a.refreshTimer != nil {
		a.refreshTimer.Close()
	}
	a.manager.Teardown()
}
