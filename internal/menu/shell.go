package menu

import (
	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/config"
	"github.com/gil0mendes/Initium-sub000/internal/device"
)

// LineReader abstracts the shell's input source: one call returns one
// line of typed text, or ok=false on EOF (Ctrl-D / empty input stream).
type LineReader interface {
	ReadLine(prompt string) (line string, ok bool)
}

// Shell is an interactive REPL that reuses the configuration parser one
// line at a time: every line the user types is parsed and executed as a
// single-command configuration file, letting "set", "device", and any
// registered command work identically to a loaded config file.
type Shell struct {
	ex  *config.Executor
	env *config.Environment
}

// NewShell creates a shell sharing env (so "device hd0" typed at the
// prompt has the same effect as the same command would in a config file),
// registering the same handlers ex already knows about.
func NewShell(tree *device.Tree, ex *config.Executor, env *config.Environment) *Shell {
	if ex == nil {
		ex = config.NewExecutor(tree)
	}
	if env == nil {
		env = config.NewRootEnvironment()
	}
	return &Shell{ex: ex, env: env}
}

// Run reads and executes lines from in until EOF, reporting each command's
// error (if any) through report without aborting the loop: one bad command in an
// interactive shell should not end the session.
func (s *Shell) Run(in LineReader, report func(err error)) {
	for {
		line, ok := in.ReadLine("initium> ")
		if !ok {
			return
		}
		if line == "" {
			continue
		}
		if err := s.runLine(line); err != nil && report != nil {
			report(err)
		}
	}
}

func (s *Shell) runLine(line string) error {
	list, err := config.Parse("<shell>", line+"\n")
	if err != nil {
		return err
	}
	if err := s.ex.Run(list, s.env); err != nil {
		bootlog.Log.WithError(err).Debug("shell: command failed")
		return err
	}
	return nil
}
