package config

import (
	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// Handler runs one command against env. Commands beyond the small built-in
// set (set/device/directory) are registered by the packages that give them
// meaning: the menu package owns "entry", the initium/loaders packages own
// "initium"/"linux"/"multiboot"/"efi". This keeps config free of any
// import on menu or the loaders, the same way device.FSProbeFunc keeps
// device free of an import on fs.
type Handler func(ex *Executor, env *Environment, cmd Command) error

// Executor walks a parsed CommandList, resolving references against an
// Environment and dispatching to built-ins or registered Handlers.
type Executor struct {
	Tree     *device.Tree
	Handlers map[string]Handler
}

func NewExecutor(tree *device.Tree) *Executor {
	return &Executor{Tree: tree, Handlers: make(map[string]Handler)}
}

// Register installs h for command name, overriding any previous handler.
func (ex *Executor) Register(name string, h Handler) {
	ex.Handlers[name] = h
}

// Run executes every command in list against env in order, stopping at the
// first error. "entry" bodies are not run when the configuration loads:
// internal/menu stores them unexecuted and later passes the selected
// entry's body to Run on the same Executor, returning any error as a boot
// error.
func (ex *Executor) Run(list *CommandList, env *Environment) error {
	for _, cmd := range list.Commands {
		if err := ex.dispatch(env, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) dispatch(env *Environment, cmd Command) error {
	switch cmd.Name {
	case "set":
		return ex.execSet(env, cmd)
	case "device":
		return ex.execDevice(env, cmd)
	case "directory":
		return ex.execDirectory(env, cmd)
	default:
		if h, ok := ex.Handlers[cmd.Name]; ok {
			return h(ex, env, cmd)
		}
		return status.Newf(status.InvalidArg, "unknown command %q", cmd.Name)
	}
}

// execSet implements "set name value" and "set name value1 value2 ...",
// the latter binding name to a list. The variable name arrives as a
// KindReference (an unresolved bare word) since the lexer/parser cannot
// tell a variable name from any other bare word; set is the one place
// that distinction matters, so it inspects Kind directly instead of
// calling Environment.Resolve on the name argument.
func (ex *Executor) execSet(env *Environment, cmd Command) error {
	if len(cmd.Args) < 2 {
		return status.Newf(status.InvalidArg, "set: expected name and value, got %d argument(s)", len(cmd.Args))
	}
	name := cmd.Args[0]
	if name.Kind != KindReference {
		return status.Newf(status.InvalidArg, "set: first argument must be a variable name")
	}

	rest := cmd.Args[1:]
	if len(rest) == 1 {
		v, err := env.Resolve(rest[0])
		if err != nil {
			return err
		}
		env.Set(name.Ref, v)
		return nil
	}

	resolved := make([]Value, len(rest))
	for i, v := range rest {
		r, err := env.Resolve(v)
		if err != nil {
			return err
		}
		resolved[i] = r
	}
	env.Set(name.Ref, ListValue(resolved))
	return nil
}

// execDevice implements "device name", binding the environment's current
// device for subsequent relative path resolution.
func (ex *Executor) execDevice(env *Environment, cmd Command) error {
	name, err := ex.singleStringArg("device", cmd)
	if err != nil {
		return err
	}
	if ex.Tree == nil {
		return status.New(status.InvalidArg, "device: no device tree available")
	}
	d, err := ex.Tree.Lookup(name)
	if err != nil {
		return err
	}
	env.SetDevice(d)
	return nil
}

// execDirectory implements "directory path", binding the environment's
// current working directory for subsequent relative path resolution.
func (ex *Executor) execDirectory(env *Environment, cmd Command) error {
	dir, err := ex.singleStringArg("directory", cmd)
	if err != nil {
		return err
	}
	env.SetDirectory(dir)
	return nil
}

// singleStringArg requires cmd's lone argument be a string or a bare word,
// the shape every current built-in needs. A bare word is taken literally as
// the string; it is not resolved against the environment.
func (ex *Executor) singleStringArg(name string, cmd Command) (string, error) {
	if len(cmd.Args) != 1 {
		return "", status.Newf(status.InvalidArg, "%s: expected exactly one argument, got %d", name, len(cmd.Args))
	}
	arg := cmd.Args[0]
	if arg.Kind == KindReference {
		arg = StringValue(arg.Ref)
	}
	if arg.Kind != KindString {
		return "", status.Newf(status.InvalidArg, "%s: expected a string argument", name)
	}
	return arg.Str, nil
}
