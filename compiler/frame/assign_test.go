package frame

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veloarch/velo/compiler/velo"
)

func TestAssignGreedy(t *testing.T) {
	f := velo.NewFunc("spill_heavy")
	f.NewBlock("bb0")

	for i := 0; i < 40; i++ {
		f.Frame.CreateStackObject(4, 4, true)
	}

	err := Assign(context.Background(), f, 128, 8)
	require.NoError(t, err)

	fr := &f.Frame

	require.Equal(t, 32, fr.SCFIs.Size())
	require.Equal(t, 128, fr.StackCacheBytes)

	// first objects in index order are cached, contiguous from zero
	for fi := 0; fi < 32; fi++ {
		require.True(t, fr.IsStackCache(fi), "fi%d", fi)
		require.Equal(t, fi*4, fr.Objects[fi].Offset, "fi%d", fi)
	}

	// the rest spills over to the shadow stack
	for fi := 32; fi < 40; fi++ {
		require.False(t, fr.IsStackCache(fi), "fi%d", fi)
		require.Equal(t, (fi-32)*4, fr.Objects[fi].Offset, "fi%d", fi)
	}

	require.Equal(t, 32, fr.StackSize)
}

func TestAssignBlockRounding(t *testing.T) {
	f := velo.NewFunc("rounding")
	f.NewBlock("bb0")

	f.Frame.CreateStackObject(4, 4, true)

	err := Assign(context.Background(), f, 128, 8)
	require.NoError(t, err)

	// footprint rounds up to whole blocks
	require.Equal(t, 8, f.Frame.StackCacheBytes)
}

func TestAssignCacheDisabled(t *testing.T) {
	f := velo.NewFunc("no_cache")
	f.NewBlock("bb0")

	f.Frame.CreateStackObject(4, 4, true)
	f.Frame.CreateStackObject(8, 8, false)

	err := Assign(context.Background(), f, 0, 8)
	require.NoError(t, err)

	fr := &f.Frame

	require.True(t, fr.SCFIs.None())
	require.Equal(t, 0, fr.StackCacheBytes)
	require.Equal(t, 0, fr.Objects[0].Offset)
	require.Equal(t, 8, fr.Objects[1].Offset)
	require.Equal(t, 16, fr.StackSize)
}

func TestAssignGuardSlotOverflow(t *testing.T) {
	f := velo.NewFunc("deep_nest")
	f.NewBlock("bb0")

	for i := 0; i < 32; i++ {
		f.Frame.CreateStackObject(4, 4, true)
	}

	fi := f.Frame.CreateStackObject(4, 4, false)
	f.Frame.SinglePathFIs.Set(fi)

	err := Assign(context.Background(), f, 128, 8)
	require.ErrorIs(t, err, ErrCacheCapacity)
}

func TestAssignFixedRebias(t *testing.T) {
	f := velo.NewFunc("args")
	f.NewBlock("bb0")

	arg := f.Frame.CreateFixedObject(4, 0)
	f.Frame.CreateStackObject(8, 8, false)
	f.Frame.CreateStackObject(4, 4, false)

	err := Assign(context.Background(), f, 128, 8)
	require.NoError(t, err)

	require.Equal(t, 16, f.Frame.StackSize)
	require.Equal(t, 16, f.Frame.Objects[arg].Offset)
}

func TestAssignCallFrameBase(t *testing.T) {
	f := velo.NewFunc("caller")
	f.NewBlock("bb0")

	f.Frame.MaxCallFrameSize = 16
	fi := f.Frame.CreateStackObject(4, 4, false)

	err := Assign(context.Background(), f, 0, 8)
	require.NoError(t, err)

	// locals sit above the outgoing call frame area
	require.Equal(t, 16, f.Frame.Objects[fi].Offset)
	require.Equal(t, 24, f.Frame.StackSize)
}
