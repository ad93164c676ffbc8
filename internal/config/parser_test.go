package config_test

import (
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/config"
	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/stretchr/testify/require"
)

func TestParseBasicCommands(t *testing.T) {
	src := `set timeout 5
set gfx_mode true
device cdrom0
`
	list, err := config.Parse("test.cfg", src)
	require.NoError(t, err)
	require.Len(t, list.Commands, 3)
	require.Equal(t, "set", list.Commands[0].Name)
	require.Equal(t, "timeout", list.Commands[0].Args[0].Ref)
	require.EqualValues(t, 5, list.Commands[0].Args[1].Int)
}

func TestParseNestedCommandList(t *testing.T) {
	src := `entry "Linux" {
	set root hd0
	linux (hd0)/vmlinuz
}
`
	list, err := config.Parse("test.cfg", src)
	require.NoError(t, err)
	require.Len(t, list.Commands, 1)
	entry := list.Commands[0]
	require.Equal(t, "entry", entry.Name)
	require.Equal(t, "Linux", entry.Args[0].Str)
	require.Equal(t, config.KindCommandList, entry.Args[1].Kind)
	require.Len(t, entry.Args[1].Commands.Commands, 2)
}

func TestParseList(t *testing.T) {
	src := `set modules [initrd.img vmlinuz]` + "\n"
	list, err := config.Parse("test.cfg", src)
	require.NoError(t, err)
	values := list.Commands[0].Args[1]
	require.Equal(t, config.KindList, values.Kind)
	require.Len(t, values.List, 2)
}

func TestParseRejectsUnbalancedBrace(t *testing.T) {
	src := `entry "x" {
	set a 1
`
	_, err := config.Parse("test.cfg", src)
	require.Error(t, err)
}

func TestParseIsDeterministic(t *testing.T) {
	src := `set a 1
set b "hello"
entry "Boot" {
	set c true
	set d [1 2 3]
}
`
	first, err := config.Parse("test.cfg", src)
	require.NoError(t, err)

	// Re-parsing the identical source must yield a structurally equal
	// AST, since Parse has no hidden state between invocations.
	second, err := config.Parse("test.cfg", src)
	require.NoError(t, err)
	require.True(t, first.Equal(second))
}

func TestExecutorSetAndResolve(t *testing.T) {
	src := `set greeting "hi"
set alias greeting
`
	list, err := config.Parse("test.cfg", src)
	require.NoError(t, err)

	tree := device.NewTree()
	ex := config.NewExecutor(tree)
	env := config.NewRootEnvironment()
	require.NoError(t, ex.Run(list, env))

	v, ok := env.Lookup("greeting")
	require.True(t, ok)
	require.Equal(t, "hi", v.Str)

	// "alias greeting" resolves the reference at set-time, so alias
	// holds a copy of greeting's value, not a link to it.
	v, ok = env.Lookup("alias")
	require.True(t, ok)
	require.Equal(t, "hi", v.Str)
}

func TestExecutorUnknownCommandErrors(t *testing.T) {
	list, err := config.Parse("test.cfg", "frobnicate 1 2 3\n")
	require.NoError(t, err)

	ex := config.NewExecutor(device.NewTree())
	err = ex.Run(list, config.NewRootEnvironment())
	require.Error(t, err)
}

func TestExecutorRegisteredHandlerIsDispatched(t *testing.T) {
	list, err := config.Parse("test.cfg", "greet world\n")
	require.NoError(t, err)

	var seen string
	ex := config.NewExecutor(device.NewTree())
	ex.Register("greet", func(ex *config.Executor, env *config.Environment, cmd config.Command) error {
		seen = cmd.Args[0].Ref
		return nil
	})
	require.NoError(t, ex.Run(list, config.NewRootEnvironment()))
	require.Equal(t, "world", seen)
}

func TestChildEnvironmentDoesNotLeakToParent(t *testing.T) {
	root := config.NewRootEnvironment()
	root.Set("outer", config.IntValue(1))
	child := root.Child()
	child.Set("inner", config.IntValue(2))

	_, ok := root.Lookup("inner")
	require.False(t, ok)

	v, ok := child.Lookup("outer")
	require.True(t, ok)
	require.EqualValues(t, 1, v.Int)
}
