// Package menu turns a parsed boot configuration into a selectable list of
// entries: default-entry resolution by index or name, a hidden-menu
// keypress window, a timeout-driven auto-boot, and deferred execution of
// an entry's body so a bad entry only fails when it is actually chosen.
package menu

import (
	"strconv"
	"time"

	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/config"
	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/list"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// HiddenKeypressWindow is how long a hidden menu waits for a keypress
// before auto-booting the default entry, matching the short grace period
// real bootloaders give a user to interrupt a silent boot.
const HiddenKeypressWindow = 500 * time.Millisecond

// Entry is one "entry" block: a name, its unexecuted body, and the child
// environment its body runs in.
type Entry struct {
	Name string
	Body *config.CommandList
	Env  *config.Environment
}

// Menu is the top-level boot menu built from a configuration file's
// top-level command list.
type Menu struct {
	Entries    []*Entry
	DefaultSel string // raw "default" argument: an index, a name, or "".
	Timeout    int    // seconds; 0 disables the auto-boot countdown.
	Hidden     bool

	entries *list.List[*Entry] // backs Entries; order of arrival is boot order
	ex      *config.Executor
	rootEnv *config.Environment
}

// Load parses src and builds a Menu from its top-level commands. Entry
// bodies are stored unexecuted: they only run once an entry is selected,
// so a broken entry never prevents the menu itself from displaying.
func Load(tree *device.Tree, file, src string) (*Menu, error) {
	list, err := config.Parse(file, src)
	if err != nil {
		return nil, err
	}

	m := &Menu{
		entries: list.New[*Entry](),
		ex:      config.NewExecutor(tree),
		rootEnv: config.NewRootEnvironment(),
	}
	m.ex.Register("entry", m.handleEntry)
	m.ex.Register("default", m.handleDefault)
	m.ex.Register("timeout", m.handleTimeout)
	m.ex.Register("hidden", m.handleHidden)

	if err := m.ex.Run(list, m.rootEnv); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Menu) handleEntry(ex *config.Executor, env *config.Environment, cmd config.Command) error {
	if len(cmd.Args) != 2 {
		return status.Newf(status.InvalidArg, "entry: expected a name and a body, got %d argument(s)", len(cmd.Args))
	}
	name := cmd.Args[0]
	if name.Kind != config.KindString {
		return status.New(status.InvalidArg, "entry: name must be a string")
	}
	body := cmd.Args[1]
	if body.Kind != config.KindCommandList {
		return status.New(status.InvalidArg, "entry: second argument must be a { ... } body")
	}
	m.entries.PushBack(&Entry{
		Name: name.Str,
		Body: body.Commands,
		Env:  env.Child(),
	})
	m.Entries = m.entries.ToSlice()
	return nil
}

func (m *Menu) handleDefault(ex *config.Executor, env *config.Environment, cmd config.Command) error {
	v, err := m.singleArg("default", cmd, env)
	if err != nil {
		return err
	}
	m.DefaultSel = v.String()
	return nil
}

func (m *Menu) handleTimeout(ex *config.Executor, env *config.Environment, cmd config.Command) error {
	v, err := m.singleArg("timeout", cmd, env)
	if err != nil {
		return err
	}
	if v.Kind != config.KindInteger {
		return status.New(status.InvalidArg, "timeout: expected an integer")
	}
	m.Timeout = int(v.Int)
	return nil
}

func (m *Menu) handleHidden(ex *config.Executor, env *config.Environment, cmd config.Command) error {
	v, err := m.singleArg("hidden", cmd, env)
	if err != nil {
		return err
	}
	if v.Kind != config.KindBoolean {
		return status.New(status.InvalidArg, "hidden: expected a boolean")
	}
	m.Hidden = v.Bool
	return nil
}

func (m *Menu) singleArg(name string, cmd config.Command, env *config.Environment) (config.Value, error) {
	if len(cmd.Args) != 1 {
		return config.Value{}, status.Newf(status.InvalidArg, "%s: expected exactly one argument", name)
	}
	return env.Resolve(cmd.Args[0])
}

// DefaultEntry resolves DefaultSel against Entries: an empty selector picks
// the first entry, a decimal selector picks by zero-based index, and
// anything else picks by exact name match.
func (m *Menu) DefaultEntry() (*Entry, error) {
	if len(m.Entries) == 0 {
		return nil, status.New(status.NotFound, "no boot entries configured")
	}
	if m.DefaultSel == "" {
		return m.Entries[0], nil
	}
	if idx, err := strconv.Atoi(m.DefaultSel); err == nil {
		if idx < 0 || idx >= len(m.Entries) {
			return nil, status.Newf(status.InvalidArg, "default entry index %d out of range", idx)
		}
		return m.Entries[idx], nil
	}
	for _, e := range m.Entries {
		if e.Name == m.DefaultSel {
			return e, nil
		}
	}
	return nil, status.Newf(status.NotFound, "no entry named %q", m.DefaultSel)
}

// Register installs an additional command handler, e.g. the
// "initium"/"linux"/"multiboot"/"efi" loader commands, which menu does not
// know about directly so it stays free of an import on those packages.
// Entry bodies are unexecuted until Execute runs them, so registering
// after Load still reaches every entry. The method name matches
// config.Executor.Register so callers like loaders.Register can take
// either one through the same small interface.
func (m *Menu) Register(name string, h config.Handler) {
	m.ex.Register(name, h)
}

// Execute runs an entry's body against its environment. A failure here is
// a deferred boot error: the caller is expected to report it and return to
// the menu rather than treat it as fatal to the process.
func (m *Menu) Execute(e *Entry) error {
	if err := m.ex.Run(e.Body, e.Env); err != nil {
		return bootlog.NewBootError(err, "failed to prepare entry %q", e.Name)
	}
	return nil
}

// Configure returns a copy of entry whose environment has overrides
// applied on top of (without mutating) the original, the data behind an
// interactive "edit this entry before booting" sub-window.
func (m *Menu) Configure(e *Entry, overrides map[string]config.Value) *Entry {
	env := e.Env.Child()
	for k, v := range overrides {
		env.Set(k, v)
	}
	return &Entry{Name: e.Name, Body: e.Body, Env: env}
}

// InputSource abstracts the keyboard the menu reads from, so it can be
// driven by a real console or, in tests, by a scripted sequence of keys.
type InputSource interface {
	// WaitKey blocks up to d waiting for a key, or indefinitely if d is
	// negative; ok is false on timeout.
	WaitKey(d time.Duration) (key rune, ok bool)
}

// Action is what the user asked the menu to do in response to a keypress.
type Action int

const (
	ActionNone Action = iota
	ActionBoot
	ActionShell
	ActionConfigure
)

// Run drives the menu's selection loop. If Hidden is set, it first waits
// HiddenKeypressWindow for any key: silence auto-boots the default entry,
// any keypress reveals the menu. Digit keys select an entry by index,
// Enter boots the highlighted entry, 'c' drops to the shell, and 'e' opens
// the configure sub-window for the highlighted entry. Once the menu is
// shown, a Timeout > 0 auto-boots the default entry if it elapses before a
// key is pressed in the menu; the key that reveals a hidden menu does not
// cancel it.
func (m *Menu) Run(in InputSource) (Action, *Entry, error) {
	if len(m.Entries) == 0 {
		return ActionNone, nil, status.New(status.NotFound, "no boot entries configured")
	}

	if m.Hidden {
		if _, gotKey := in.WaitKey(HiddenKeypressWindow); !gotKey {
			def, err := m.DefaultEntry()
			return ActionBoot, def, err
		}
	}

	selected := 0
	if def, err := m.DefaultEntry(); err == nil {
		for i, e := range m.Entries {
			if e == def {
				selected = i
				break
			}
		}
	}

	budget := time.Duration(m.Timeout) * time.Second
	useTimeout := m.Timeout > 0

	for {
		wait := time.Duration(-1)
		if useTimeout {
			wait = budget
		}
		key, ok := in.WaitKey(wait)
		if !ok {
			def, err := m.DefaultEntry()
			return ActionBoot, def, err
		}
		useTimeout = false // any keypress cancels the countdown permanently.

		switch {
		case key == '\r' || key == '\n':
			return ActionBoot, m.Entries[selected], nil
		case key == 'c' || key == 'C':
			return ActionShell, nil, nil
		case key == 'e' || key == 'E':
			return ActionConfigure, m.Entries[selected], nil
		case key >= '0' && key <= '9':
			idx := int(key - '0')
			if idx < len(m.Entries) {
				selected = idx
			}
		case key == 'j':
			if selected < len(m.Entries)-1 {
				selected++
			}
		case key == 'k':
			if selected > 0 {
				selected--
			}
		}
	}
}
