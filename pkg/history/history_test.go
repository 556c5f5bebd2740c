package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoforge/go-chat/pkg/provider/types"
)

func userMsg(text string) types.Message {
	return types.NewTextMessage(types.RoleUser, text)
}

func texts(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestSwapDepthTracksInTemp(t *testing.T) {
	h := New()

	assert.False(t, h.InTemp())
	assert.Equal(t, 0, h.SwapDepth())

	// Every transition keeps in_temp == (swap_depth > 0).
	ops := []struct {
		op func()
	}{
		{h.EnterTemp}, {h.EnterTemp}, {h.ExitTemp}, {h.EnterTemp},
		{h.ExitTemp}, {h.ExitTemp}, {h.ExitTemp}, {h.EnterTemp},
	}
	for _, step := range ops {
		step.op()
		assert.Equal(t, h.SwapDepth() > 0, h.InTemp())
		assert.GreaterOrEqual(t, h.SwapDepth(), 0)
	}
}

func TestExitAtDepthZeroIsNoOp(t *testing.T) {
	h := New()
	h.ExitTemp()
	h.ExitTemp()
	assert.Equal(t, 0, h.SwapDepth())
	assert.False(t, h.InTemp())
}

func TestTempIsolation(t *testing.T) {
	h := New()
	h.Add(userMsg("u1"))

	h.EnterTemp()
	h.Add(userMsg("u2"))
	h.ExitTemp()

	assert.Equal(t, []string{"u1"}, texts(h.Get()))

	// The temporary slot retains its contents between swaps.
	h.EnterTemp()
	assert.Equal(t, []string{"u2"}, texts(h.Get()))
	h.ExitTemp()

	// Nested swaps: only the outermost exit returns to main.
	h.EnterTemp()
	h.EnterTemp()
	h.ExitTemp()
	assert.True(t, h.InTemp())
	h.ExitTemp()
	assert.False(t, h.InTemp())
	assert.Equal(t, []string{"u1"}, texts(h.Get()))
}

func TestShrinkToFitKeepsMostRecent(t *testing.T) {
	h := New()
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		h.Add(userMsg(text))
	}

	h.ShrinkToFit(3)
	assert.Equal(t, []string{"c", "d", "e"}, texts(h.Get()))

	// Shrinking below zero clamps to empty.
	h.ShrinkToFit(-1)
	assert.Empty(t, h.Get())
}

func TestShrinkToFitNoOpWhenWithinLimit(t *testing.T) {
	h := New()
	h.Add(userMsg("a"))
	h.ShrinkToFit(5)
	assert.Equal(t, []string{"a"}, texts(h.Get()))
}

func TestShrinkAffectsActiveSlotOnly(t *testing.T) {
	h := New()
	h.Add(userMsg("m1"))
	h.Add(userMsg("m2"))

	h.EnterTemp()
	h.Add(userMsg("t1"))
	h.ShrinkToFit(0)
	assert.Empty(t, h.Get())
	h.ExitTemp()

	assert.Equal(t, []string{"m1", "m2"}, texts(h.Get()))
}

func TestClearAffectsActiveSlotOnly(t *testing.T) {
	h := New()
	h.Add(userMsg("m1"))
	h.EnterTemp()
	h.Add(userMsg("t1"))
	h.Clear()
	assert.True(t, h.IsEmpty())
	h.ExitTemp()
	assert.Equal(t, []string{"m1"}, texts(h.Get()))
}

func TestClearAllAffectsBothSlots(t *testing.T) {
	h := New()
	h.Add(userMsg("m1"))
	h.EnterTemp()
	h.Add(userMsg("t1"))
	h.ExitTemp()

	h.ClearAll()
	assert.True(t, h.IsEmpty())
	h.EnterTemp()
	assert.True(t, h.IsEmpty())
}

func TestSetReplacesActiveSlot(t *testing.T) {
	h := New()
	h.Add(userMsg("old"))
	h.Set([]types.Message{userMsg("new1"), userMsg("new2")})
	assert.Equal(t, []string{"new1", "new2"}, texts(h.Get()))
}

func TestAddWithLimitTruncatesOldest(t *testing.T) {
	h := New()
	for _, text := range []string{"a", "b", "c", "d"} {
		h.AddWithLimit(userMsg(text), 2)
	}
	assert.Equal(t, []string{"c", "d"}, texts(h.Get()))
}

func TestGetReturnsSnapshotCopy(t *testing.T) {
	h := New()
	h.Add(userMsg("a"))

	snapshot := h.Get()
	require.Len(t, snapshot, 1)
	snapshot[0].Content = "mutated"

	assert.Equal(t, []string{"a"}, texts(h.Get()))
}
