package menu_test

import (
	"testing"
	"time"

	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/menu"
	"github.com/stretchr/testify/require"
)

const src = `default 1
timeout 5

entry "Initium" {
	set kernel "/boot/initium"
}

entry "Fallback" {
	set kernel "/boot/fallback"
	fail_me
}
`

func TestLoadBuildsEntriesAndDefault(t *testing.T) {
	m, err := menu.Load(device.NewTree(), "menu.cfg", src)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	require.Equal(t, 5, m.Timeout)

	def, err := m.DefaultEntry()
	require.NoError(t, err)
	require.Equal(t, "Fallback", def.Name)
}

func TestExecuteSucceedsForWellFormedEntry(t *testing.T) {
	m, err := menu.Load(device.NewTree(), "menu.cfg", src)
	require.NoError(t, err)
	require.NoError(t, m.Execute(m.Entries[0]))
}

func TestExecuteReturnsDeferredBootErrorWithoutBreakingMenu(t *testing.T) {
	m, err := menu.Load(device.NewTree(), "menu.cfg", src)
	require.NoError(t, err)
	// The second entry references an unregistered command; Load itself
	// must not have failed because of it (entries run lazily), but
	// executing it now surfaces the error.
	err = m.Execute(m.Entries[1])
	require.Error(t, err)
	require.Len(t, m.Entries, 2, "a bad entry's failure must not remove it from the menu")
}

type scriptedInput struct {
	keys []rune
	i    int
}

func (s *scriptedInput) WaitKey(d time.Duration) (rune, bool) {
	if s.i >= len(s.keys) {
		return 0, false
	}
	k := s.keys[s.i]
	s.i++
	return k, true
}

func TestRunHiddenWithNoKeypressAutobootsDefault(t *testing.T) {
	m, err := menu.Load(device.NewTree(), "menu.cfg", "hidden true\ndefault 0\nentry \"A\" { set x 1 }\nentry \"B\" { set x 2 }\n")
	require.NoError(t, err)
	action, entry, err := m.Run(&scriptedInput{})
	require.NoError(t, err)
	require.Equal(t, menu.ActionBoot, action)
	require.Equal(t, "A", entry.Name)
}

func TestRunEnterBootsHighlightedEntry(t *testing.T) {
	m, err := menu.Load(device.NewTree(), "menu.cfg", "entry \"A\" { set x 1 }\nentry \"B\" { set x 2 }\n")
	require.NoError(t, err)
	action, entry, err := m.Run(&scriptedInput{keys: []rune{'1', '\r'}})
	require.NoError(t, err)
	require.Equal(t, menu.ActionBoot, action)
	require.Equal(t, "B", entry.Name)
}

func TestRunShellKeyRequestsShell(t *testing.T) {
	m, err := menu.Load(device.NewTree(), "menu.cfg", "entry \"A\" { set x 1 }\n")
	require.NoError(t, err)
	action, _, err := m.Run(&scriptedInput{keys: []rune{'c'}})
	require.NoError(t, err)
	require.Equal(t, menu.ActionShell, action)
}

type scriptedLines struct {
	lines []string
	i     int
}

func (s *scriptedLines) ReadLine(prompt string) (string, bool) {
	if s.i >= len(s.lines) {
		return "", false
	}
	l := s.lines[s.i]
	s.i++
	return l, true
}

func TestShellExecutesLinesAndReportsErrors(t *testing.T) {
	shell := menu.NewShell(device.NewTree(), nil, nil)
	var errs []error
	shell.Run(&scriptedLines{lines: []string{`set a 1`, `nonsense`, `set b 2`}}, func(err error) {
		errs = append(errs, err)
	})
	require.Len(t, errs, 1)
}
