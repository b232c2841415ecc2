package timers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOneShotFiresOnce(t *testing.T) {
	t.Parallel()

	tbl := New()
	var fired []int64
	h := tbl.Add(Entry{Kind: OneShot, Due: 100, Fire: func(now int64) { fired = append(fired, now) }})

	require.Equal(t, 0, tbl.Advance(99))
	require.True(t, tbl.Active(h))

	require.Equal(t, 1, tbl.Advance(105))
	require.False(t, tbl.Active(h))
	require.Equal(t, 0, tbl.Advance(200))
	require.Equal(t, []int64{105}, fired)
}

func TestPeriodicRearms(t *testing.T) {
	t.Parallel()

	tbl := New()
	count := 0
	h := tbl.Add(Entry{Kind: Periodic, Due: 10, Interval: 5, Fire: func(int64) { count++ }})

	tbl.Advance(10)
	due, ok := tbl.Due(h)
	require.True(t, ok)
	require.Equal(t, int64(15), due)

	// fell far behind: no burst of catch-up ticks
	require.Equal(t, 1, tbl.Advance(42))
	due, _ = tbl.Due(h)
	require.Equal(t, int64(47), due)
	require.Equal(t, 2, count)
}

func TestPeriodicCanCancelItself(t *testing.T) {
	t.Parallel()

	tbl := New()
	var h Handle
	ticks := 0
	h = tbl.Add(Entry{Kind: Periodic, Due: 1, Interval: 1, Fire: func(int64) {
		ticks++
		if ticks == 3 {
			tbl.Cancel(h)
		}
	}})

	for now := int64(1); now <= 10; now++ {
		tbl.Advance(now)
	}
	require.Equal(t, 3, ticks)
	require.Equal(t, 0, tbl.Len())
}

func TestReplaceKeepsSingleEntry(t *testing.T) {
	t.Parallel()

	tbl := New()
	first := tbl.Add(Entry{Kind: OneShot, Due: 50})
	second := tbl.Replace(first, Entry{Kind: OneShot, Due: 60})
	third := tbl.Replace(second, Entry{Kind: OneShot, Due: 60})

	require.Equal(t, 1, tbl.Len())
	require.False(t, tbl.Active(first))
	require.False(t, tbl.Active(second))
	require.True(t, tbl.Active(third))

	next, ok := tbl.Next()
	require.True(t, ok)
	require.Equal(t, int64(60), next)
}

func TestAdvanceOrdersByDue(t *testing.T) {
	t.Parallel()

	tbl := New()
	var order []string
	tbl.Add(Entry{Name: "late", Kind: OneShot, Due: 30, Fire: func(int64) { order = append(order, "late") }})
	tbl.Add(Entry{Name: "early", Kind: OneShot, Due: 10, Fire: func(int64) { order = append(order, "early") }})
	tbl.Add(Entry{Name: "middle", Kind: OneShot, Due: 20, Fire: func(int64) { order = append(order, "middle") }})

	require.Equal(t, 3, tbl.Advance(30))
	require.Equal(t, []string{"early", "middle", "late"}, order)
}

func TestCancelUnknown(t *testing.T) {
	t.Parallel()

	tbl := New()
	require.False(t, tbl.Cancel(0))
	require.False(t, tbl.Cancel(42))

	_, ok := tbl.Next()
	require.False(t, ok)
}
