package retrycall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallBufferPerCallCeiling(t *testing.T) {
	budget := newByteBudget(1024)
	buf := newCallBuffer(10, budget)

	require.NoError(t, buf.append([]byte("123456")))
	require.NoError(t, buf.append([]byte("1234")))
	require.ErrorIs(t, buf.append([]byte("x")), ErrBufferOverflow)

	// the rejected message left no trace
	require.Equal(t, int64(10), buf.bytes())
	require.Equal(t, int64(10), budget.usedBytes())
}

func TestCallBufferChannelCeilingSharedAcrossCalls(t *testing.T) {
	budget := newByteBudget(10)
	first := newCallBuffer(100, budget)
	second := newCallBuffer(100, budget)

	require.NoError(t, first.append([]byte("123456")))
	require.NoError(t, second.append([]byte("1234")))

	// the channel budget is exhausted even though both calls are under their
	// own ceiling
	require.ErrorIs(t, first.append([]byte("x")), ErrBufferOverflow)
	require.ErrorIs(t, second.append([]byte("x")), ErrBufferOverflow)

	first.clear()
	require.Equal(t, int64(4), budget.usedBytes())
	require.NoError(t, second.append([]byte("123456")))
}

func TestCallBufferSnapshotPreservesOrder(t *testing.T) {
	buf := newCallBuffer(100, newByteBudget(100))
	require.NoError(t, buf.append([]byte("a")))
	require.NoError(t, buf.append([]byte("b")))
	require.NoError(t, buf.append([]byte("c")))

	msgs, sendClosed := buf.snapshot()
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, msgs)
	require.False(t, sendClosed)

	buf.markSendClosed()
	_, sendClosed = buf.snapshot()
	require.True(t, sendClosed)
}

func TestCallBufferClearIsIdempotent(t *testing.T) {
	budget := newByteBudget(100)
	buf := newCallBuffer(100, budget)
	require.NoError(t, buf.append([]byte("12345")))
	require.Equal(t, int64(5), budget.usedBytes())

	buf.clear()
	require.Zero(t, budget.usedBytes())
	buf.clear()
	require.Zero(t, budget.usedBytes())

	// a cleared buffer accepts nothing further
	require.ErrorIs(t, buf.append([]byte("x")), ErrBufferOverflow)
	require.Zero(t, budget.usedBytes())
}
