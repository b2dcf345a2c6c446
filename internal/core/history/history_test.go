package history

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/prediction/internal/core/timeline"
)

func TestBuffer_Record(t *testing.T) {
	t.Run("Monotonic Append", func(t *testing.T) {
		b := NewBuffer[int](0)
		b.RecordUpdated(1, 10)
		b.RecordUpdated(3, 30)
		b.RecordRemoved(5)
		require.Equal(t, 3, b.Len())

		tick, st, ok := b.Latest()
		require.True(t, ok)
		require.Equal(t, timeline.Tick(5), tick)
		require.Equal(t, KindRemoved, st.Kind)
	})

	t.Run("Same Tick Overwrites", func(t *testing.T) {
		b := NewBuffer[int](0)
		b.RecordUpdated(4, 1)
		b.RecordUpdated(4, 2)
		require.Equal(t, 1, b.Len())

		st, ok := b.At(4)
		require.True(t, ok)
		require.Equal(t, 2, st.Value)
	})

	t.Run("Out Of Order Dropped", func(t *testing.T) {
		b := NewBuffer[int](0)
		b.RecordUpdated(7, 70)
		b.RecordUpdated(3, 30)
		require.Equal(t, 1, b.Len())

		_, ok := b.At(3)
		require.False(t, ok)
	})

	t.Run("Bounded Retention", func(t *testing.T) {
		b := NewBuffer[int](3)
		for i := 0; i < 10; i++ {
			b.RecordUpdated(timeline.Tick(i), i)
		}
		require.Equal(t, 3, b.Len())

		// Oldest retained record is tick 7.
		_, ok := b.At(6)
		require.False(t, ok)
		st, ok := b.At(7)
		require.True(t, ok)
		require.Equal(t, 7, st.Value)
	})
}

func TestBuffer_At(t *testing.T) {
	b := NewBuffer[string](0)
	b.RecordUpdated(10, "a")
	b.RecordUpdated(20, "b")

	t.Run("Exact", func(t *testing.T) {
		st, ok := b.At(10)
		require.True(t, ok)
		require.Equal(t, "a", st.Value)
	})

	t.Run("Most Recent Before", func(t *testing.T) {
		st, ok := b.At(15)
		require.True(t, ok)
		require.Equal(t, "a", st.Value)

		st, ok = b.At(99)
		require.True(t, ok)
		require.Equal(t, "b", st.Value)
	})

	t.Run("Before First Record", func(t *testing.T) {
		_, ok := b.At(9)
		require.False(t, ok)
	})
}

func TestBuffer_SeekAndClearAfter(t *testing.T) {
	t.Run("Prunes To Single Record", func(t *testing.T) {
		b := NewBuffer[int](0)
		b.RecordUpdated(1, 1)
		b.RecordUpdated(2, 2)
		b.RecordUpdated(3, 3)
		b.RecordUpdated(4, 4)

		st, ok := b.SeekAndClearAfter(2)
		require.True(t, ok)
		require.Equal(t, 2, st.Value)
		require.Equal(t, 1, b.Len())

		// Later records are gone; the found record remains reachable.
		st, ok = b.At(9)
		require.True(t, ok)
		require.Equal(t, 2, st.Value)
	})

	t.Run("Between Records", func(t *testing.T) {
		b := NewBuffer[int](0)
		b.RecordUpdated(5, 50)
		b.RecordUpdated(9, 90)

		st, ok := b.SeekAndClearAfter(7)
		require.True(t, ok)
		require.Equal(t, 50, st.Value)
		require.Equal(t, 1, b.Len())
	})

	t.Run("Nothing At Or Before", func(t *testing.T) {
		b := NewBuffer[int](0)
		b.RecordUpdated(5, 50)

		_, ok := b.SeekAndClearAfter(4)
		require.False(t, ok)
		require.Zero(t, b.Len())
	})

	t.Run("Removed Marker Survives Seek", func(t *testing.T) {
		b := NewBuffer[int](0)
		b.RecordUpdated(1, 1)
		b.RecordRemoved(2)

		st, ok := b.SeekAndClearAfter(3)
		require.True(t, ok)
		require.Equal(t, KindRemoved, st.Kind)
	})
}

func TestBuffer_Clear(t *testing.T) {
	b := NewBuffer[int](0)
	b.RecordUpdated(1, 1)
	b.Clear()
	require.Zero(t, b.Len())
	_, _, ok := b.Latest()
	require.False(t, ok)
}
