package config

import (
	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// Environment is a chain of variable scopes: the root holds global config
// (parsed from the top-level file), and each "entry" block gets a child
// scope so a device/directory/kernel set inside one entry never leaks into
// another. Lookup walks up the parent chain; Set only ever writes the
// local scope.
type Environment struct {
	parent *Environment
	vars   map[string]Value

	device    *device.Device
	directory string
	loaderOps any
}

// NewRootEnvironment creates the top-level scope, from which per-entry
// child scopes are derived.
func NewRootEnvironment() *Environment {
	return &Environment{vars: make(map[string]Value)}
}

// Child creates a nested scope, e.g. for the body of an "entry" block.
func (e *Environment) Child() *Environment {
	return &Environment{parent: e, vars: make(map[string]Value)}
}

// Lookup resolves name against this scope, then its ancestors.
func (e *Environment) Lookup(name string) (Value, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// Set assigns name in this scope only, never an ancestor's.
func (e *Environment) Set(name string, v Value) {
	e.vars[name] = v
}

// Resolve turns a parse-time Reference value into its bound value, and
// recursively resolves references nested inside lists. An unresolved
// reference is a configuration error, not an internal one: it means the
// boot configuration named a variable that was never set.
func (e *Environment) Resolve(v Value) (Value, error) {
	switch v.Kind {
	case KindReference:
		resolved, ok := e.Lookup(v.Ref)
		if !ok {
			return Value{}, status.Newf(status.InvalidArg, "undefined variable %q", v.Ref)
		}
		return resolved, nil
	case KindList:
		out := make([]Value, len(v.List))
		for i, elem := range v.List {
			r, err := e.Resolve(elem)
			if err != nil {
				return Value{}, err
			}
			out[i] = r
		}
		return ListValue(out), nil
	default:
		return v, nil
	}
}

// SetDevice binds the current device for this scope, consulted by
// relative path resolution (fs.DeviceContext) when no explicit device
// prefix is given.
func (e *Environment) SetDevice(d *device.Device) { e.device = d }

// SetDirectory binds the current working directory for this scope.
func (e *Environment) SetDirectory(dir string) { e.directory = dir }

// CurrentDevice implements fs.DeviceContext, walking up to the nearest
// ancestor scope that has one set.
func (e *Environment) CurrentDevice() *device.Device {
	for s := e; s != nil; s = s.parent {
		if s.device != nil {
			return s.device
		}
	}
	return nil
}

// CurrentDirectory returns the nearest ancestor scope's working directory,
// defaulting to "/".
func (e *Environment) CurrentDirectory() string {
	for s := e; s != nil; s = s.parent {
		if s.directory != "" {
			return s.directory
		}
	}
	return "/"
}

// SetLoaderOps binds the loader a "initium"/"linux"/"multiboot"/"efi"
// command produced for this scope. The value is untyped so config carries
// no import on the packages that implement the loaders; a caller holding
// an Environment type-asserts it back to whatever LoaderOps shape it
// expects before invoking it.
func (e *Environment) SetLoaderOps(ops any) { e.loaderOps = ops }

// LoaderOps returns the nearest ancestor scope's bound loader, or nil if
// no loader command has run in this entry yet.
func (e *Environment) LoaderOps() any {
	for s := e; s != nil; s = s.parent {
		if s.loaderOps != nil {
			return s.loaderOps
		}
	}
	return nil
}
