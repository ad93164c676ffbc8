package loaders

import (
	"github.com/gil0mendes/Initium-sub000/internal/config"
	"github.com/gil0mendes/Initium-sub000/internal/fs"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// Ops is what a bound "linux"/"multiboot"/"efi" command leaves on the
// environment for the boot step to act on later: the resolved kernel bytes
// and command line, not a running loader. Actually placing the kernel in
// memory happens when the entry is booted, not when its body runs, the
// same deferred-effect split menu.Execute gives "entry" bodies.
type Ops struct {
	Format     string
	KernelPath string
	KernelData []byte
	Args       string
	Modules    [][]byte
}

// registrar is the common shape of config.Executor and menu.Menu: whichever
// one the caller has on hand, loader commands register onto it the same
// way.
type registrar interface {
	Register(name string, h config.Handler)
}

// Register installs the "linux", "multiboot", and "efi" commands on r. An
// "initium" command is registered separately by internal/initium, since
// this package would otherwise need to import it purely for the one
// format's own command name.
func Register(r registrar) {
	r.Register("linux", handleLoad("linux"))
	r.Register("multiboot", handleLoad("multiboot"))
	r.Register("efi", handleLoad("efi"))
}

func handleLoad(format string) config.Handler {
	return func(ex *config.Executor, env *config.Environment, cmd config.Command) error {
		if len(cmd.Args) == 0 {
			return status.Newf(status.InvalidArg, "%s: expected a kernel path", format)
		}
		pathVal, err := env.Resolve(cmd.Args[0])
		if err != nil {
			return err
		}
		if pathVal.Kind != config.KindString {
			return status.Newf(status.InvalidArg, "%s: kernel path must be a string", format)
		}

		var modulePaths []string
		args := ""
		for _, raw := range cmd.Args[1:] {
			v, err := env.Resolve(raw)
			if err != nil {
				return err
			}
			if v.Kind != config.KindString {
				return status.Newf(status.InvalidArg, "%s: expected string arguments", format)
			}
			if format == "multiboot" {
				modulePaths = append(modulePaths, v.Str)
			} else if args == "" {
				args = v.Str
			} else {
				args += " " + v.Str
			}
		}

		data, err := readWholeFile(ex, pathVal.Str, env)
		if err != nil {
			return err
		}

		var modules [][]byte
		for _, mp := range modulePaths {
			m, err := readWholeFile(ex, mp, env)
			if err != nil {
				return err
			}
			modules = append(modules, m)
		}

		switch format {
		case "linux":
			if _, err := ParseLinuxHeader(data); err != nil {
				return err
			}
		case "multiboot":
			if _, err := FindMultibootHeader(data); err != nil {
				return err
			}
		}

		env.SetLoaderOps(&Ops{
			Format:     format,
			KernelPath: pathVal.Str,
			KernelData: data,
			Args:       args,
			Modules:    modules,
		})
		return nil
	}
}

func readWholeFile(ex *config.Executor, path string, env *config.Environment) ([]byte, error) {
	h, err := fs.Open(ex.Tree, path, nil, env)
	if err != nil {
		return nil, err
	}
	defer fs.Close(h)

	buf := make([]byte, h.Size)
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := fs.Read(h, buf, len(buf), 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
