// Package protocols contains hand-written bindings for the Wayland
// protocols the panel speaks: the core surface/buffer/output protocol
// and the wlr layer-shell extension. Each object follows the same
// shape: interface-name constant, request wrappers around SendRequest
// with their opcodes, and a Dispatch switch for events.
package protocols

import (
	"fmt"

	"github.com/veldt/ledge/internal/wire"
)

// Global describes one advertised global object.
type Global struct {
	Name    uint32
	Iface   string
	Version uint32
}

// Registry represents wl_registry.
type Registry struct {
	wire.BaseProxy
	globals map[string]Global
}

// NewRegistry creates the registry and requests the global list. The
// caller must roundtrip before reading globals.
func NewRegistry(d *wire.Display) (*Registry, error) {
	r := &Registry{globals: make(map[string]Global)}
	r.Init(d, r)
	if err := d.GetRegistry(r); err != nil {
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	return r, nil
}

// Dispatch handles global and global_remove events.
func (r *Registry) Dispatch(e *wire.Event) {
	switch e.Opcode {
	case 0: // global
		name := e.Uint32()
		iface := e.String()
		version := e.Uint32()
		// First advertisement wins; the panel manages one output.
		if _, seen := r.globals[iface]; !seen || iface != OutputInterface {
			r.globals[iface] = Global{Name: name, Iface: iface, Version: version}
		}
	case 1: // global_remove
		name := e.Uint32()
		for iface, g := range r.globals {
			if g.Name == name {
				delete(r.globals, iface)
				break
			}
		}
	}
}

// Find reports the advertised global for an interface.
func (r *Registry) Find(iface string) (Global, bool) {
	g, ok := r.globals[iface]
	return g, ok
}

// Bind binds a global to the given proxy, capping the bound version at
// what the compositor advertised.
func (r *Registry) Bind(iface string, version uint32, proxy wire.Proxy) error {
	g, ok := r.globals[iface]
	if !ok {
		return fmt.Errorf("required global %s not advertised", iface)
	}
	if g.Version < version {
		version = g.Version
	}
	// Opcode 0: bind(name, interface, version, new_id)
	const opcode = 0
	return r.Display().SendRequest(r.ID(), opcode, g.Name, iface, version, proxy.ID())
}
