package initium

import (
	"bytes"
	"debug/elf"

	"github.com/gil0mendes/Initium-sub000/internal/config"
	"github.com/gil0mendes/Initium-sub000/internal/fs"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// Ops is what the "initium" command leaves bound on the environment: the
// parsed image ready for Loader.Load, plus whatever module files followed
// the kernel path on the same command line.
type Ops struct {
	Image   *Image
	Modules []ModuleFile
}

// registrar is the common shape of config.Executor and menu.Menu.
type registrar interface {
	Register(name string, h config.Handler)
}

// RegisterCommand installs the "initium" command on r: "initium <path>
// [module-path...]", each module file read in whole and named by its
// final path component.
func RegisterCommand(r registrar) {
	r.Register("initium", func(ex *config.Executor, env *config.Environment, cmd config.Command) error {
		if len(cmd.Args) == 0 {
			return status.New(status.InvalidArg, "initium: expected a kernel path")
		}
		pathVal, err := env.Resolve(cmd.Args[0])
		if err != nil {
			return err
		}
		if pathVal.Kind != config.KindString {
			return status.New(status.InvalidArg, "initium: kernel path must be a string")
		}

		kernelData, err := readFile(ex, pathVal.Str, env)
		if err != nil {
			return err
		}
		f, err := elf.NewFile(bytes.NewReader(kernelData))
		if err != nil {
			return status.Newf(status.MalformedImage, "initium: %v", err)
		}
		img, err := ParseImage(f)
		if err != nil {
			return err
		}

		var modules []ModuleFile
		for _, raw := range cmd.Args[1:] {
			v, err := env.Resolve(raw)
			if err != nil {
				return err
			}
			if v.Kind != config.KindString {
				return status.New(status.InvalidArg, "initium: module paths must be strings")
			}
			data, err := readFile(ex, v.Str, env)
			if err != nil {
				return err
			}
			modules = append(modules, ModuleFile{Name: baseName(v.Str), Data: data})
		}

		env.SetLoaderOps(&Ops{Image: img, Modules: modules})
		return nil
	})
}

func readFile(ex *config.Executor, path string, env *config.Environment) ([]byte, error) {
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

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
