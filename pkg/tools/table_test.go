package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoforge/go-chat/pkg/provider/types"
)

func addFunction() Function {
	return NewFunction("add").
		SetDescription("Add two numbers").
		AddRequiredParam("a", "First operand", ParamNumber).
		AddRequiredParam("b", "Second operand", ParamNumber).
		SetHandler(func(ctx context.Context, args map[string]interface{}) (string, error) {
			a, okA := GetArg[float64](args, "a")
			b, okB := GetArg[float64](args, "b")
			if !okA || !okB {
				return "", errors.New("missing mandatory argument")
			}
			return fmt.Sprintf("%g", a+b), nil
		}).
		Build()
}

func TestCallRegisteredFunction(t *testing.T) {
	table := NewTable(nil)
	table.Add(addFunction())

	result := table.Call(context.Background(), types.ToolCall{
		Name: "add",
		Args: map[string]interface{}{"a": float64(1), "b": float64(2)},
	})
	assert.False(t, result.IsError)
	assert.Equal(t, "3", result.Text)
}

func TestCallUnknownTool(t *testing.T) {
	table := NewTable(nil)
	result := table.Call(context.Background(), types.ToolCall{Name: "nope"})
	assert.True(t, result.IsError)
	assert.Equal(t, "could not find tool: 'nope'", result.Text)
}

func TestCallErrorIsWrapped(t *testing.T) {
	table := NewTable(nil)
	table.Add(addFunction())

	result := table.Call(context.Background(), types.ToolCall{Name: "add", Args: map[string]interface{}{}})
	assert.True(t, result.IsError)
	assert.Equal(t, "missing mandatory argument", result.Text)
}

func TestCallPanicIsWrapped(t *testing.T) {
	table := NewTable(nil)
	table.Add(NewFunction("boom").
		SetHandler(func(ctx context.Context, args map[string]interface{}) (string, error) {
			panic("kaboom")
		}).
		Build())

	result := table.Call(context.Background(), types.ToolCall{Name: "boom"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Text, "kaboom")
}

func TestDuplicateAddIsIgnored(t *testing.T) {
	table := NewTable(nil)
	table.Add(addFunction())

	dup := NewFunction("add").
		SetHandler(func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "other", nil
		}).
		Build()
	table.Add(dup)

	assert.Equal(t, 1, table.Len())
	result := table.Call(context.Background(), types.ToolCall{
		Name: "add",
		Args: map[string]interface{}{"a": float64(1), "b": float64(1)},
	})
	assert.Equal(t, "2", result.Text)
}

func TestClearEmptiesTable(t *testing.T) {
	table := NewTable(nil)
	table.Add(addFunction())
	require.False(t, table.IsEmpty())

	table.Clear()
	assert.True(t, table.IsEmpty())
}

func TestMissingHandler(t *testing.T) {
	table := NewTable(nil)
	table.Add(NewFunction("empty").Build())

	result := table.Call(context.Background(), types.ToolCall{Name: "empty"})
	assert.True(t, result.IsError)
}
