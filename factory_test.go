package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":                 ModeDefault,
		"default":          ModeDefault,
		"deferred":         ModeDeferred,
		"tick":             ModeDeferred,
		"immediate":        ModeImmediate,
		"NOW":              ModeImmediate,
		"paused":           ModePaused,
		"deferred_paused":  ModeDeferredPaused,
		"immediate-paused": ModeImmediatePaused,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("warp")
	require.Error(t, err)
	var ge *goerrors.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, ErrCodeUnknownMode, ge.TextCode)
}

func TestModeAxes(t *testing.T) {
	assert.False(t, ModeDeferred.paused())
	assert.True(t, ModePaused.paused())
	assert.True(t, ModeImmediatePaused.paused())

	assert.True(t, ModeImmediate.immediateIn(ModeDeferred))
	assert.False(t, ModeDeferred.immediateIn(ModeImmediate))
	assert.True(t, ModeDefault.immediateIn(ModeImmediate))
	assert.False(t, ModeDefault.immediateIn(ModeDeferred))
	assert.True(t, ModePaused.immediateIn(ModeImmediate), "pause-only modes inherit the scheduling default")
}

func TestFactoryDebugAssignsIDs(t *testing.T) {
	var buf bytes.Buffer
	n := 0
	f := NewFactory(
		WithMode(ModeImmediate),
		WithDebug(true),
		WithLogger(NewFmtLogger(&buf)),
		WithUID(UIDFunc(func() string {
			n++
			return fmt.Sprintf("c-%d", n)
		})),
	)

	c1 := f.New()
	c2 := f.New()
	require.Equal(t, "c-1", c1.ID())
	require.Equal(t, "c-2", c2.ID())

	c1.Chain(func(_ *StepContext, _ ...any) (any, error) {
		return nil, nil
	}, nil)

	out := buf.String()
	assert.Contains(t, out, "chain created")
	assert.Contains(t, out, "chain_id=c-1")
	assert.Contains(t, out, "state changed")
}

func TestFactoryWithoutDebugStaysQuiet(t *testing.T) {
	var buf bytes.Buffer
	f := NewFactory(WithMode(ModeImmediate), WithLogger(NewFmtLogger(&buf)))

	c := f.New()
	c.Chain(func(_ *StepContext, _ ...any) (any, error) {
		return nil, nil
	}, nil)

	assert.Empty(t, c.ID())
	assert.Zero(t, buf.Len())
}

func TestFactoriesAreIndependent(t *testing.T) {
	imm := NewFactory(WithMode(ModeImmediate))
	def := NewFactory(WithMode(ModeDeferred))

	assert.True(t, imm.immediateDefault())
	assert.False(t, def.immediateDefault())
	assert.False(t, Default.immediateDefault(), "the package default defers")
}

func TestFactoryWithDerivesWithoutMutating(t *testing.T) {
	base := NewFactory(WithMode(ModeDeferred))
	derived := base.With(WithMode(ModeImmediate))

	assert.True(t, derived.immediateDefault())
	assert.False(t, base.immediateDefault(), "deriving must not touch the parent")

	gid := goroutineID()
	ran := make(chan uint64, 1)
	derived.New().Chain(func(_ *StepContext, _ ...any) (any, error) {
		ran <- goroutineID()
		return nil, nil
	}, nil)
	assert.Equal(t, gid, <-ran, "derived immediate factory drains inline")
}

func TestPackageLevelConstructors(t *testing.T) {
	attacher := goroutineID()
	ran := make(chan uint64, 1)
	Now().Chain(func(_ *StepContext, _ ...any) (any, error) {
		ran <- goroutineID()
		return nil, nil
	}, nil)
	require.Equal(t, attacher, <-ran)

	vals, err := Tick("v").Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []any{"v"}, vals)

	boom := errors.New("boom")
	_, err = Failed(boom).Wait(context.Background())
	require.Equal(t, boom, err)
}

func TestPackageLevelCombinators(t *testing.T) {
	vals, err := All(1, 2).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []any{[]any{1, 2}}, vals)

	vals, err = Each([]any{2, 3}, func(v any, _ int) any {
		return v.(int) * 10
	}).Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []any{[]any{20, 30}}, vals)
}
