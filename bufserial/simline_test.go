package bufserial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimLine_HoldingRegister(t *testing.T) {
	line := NewSimLine()

	require.True(t, line.TxReady())
	line.WriteByte('a')
	require.False(t, line.TxReady())

	line.ClockTx()
	require.True(t, line.TxReady())
	require.Equal(t, "a", string(line.Sink()))
}

func TestSimLine_CountsOverruns(t *testing.T) {
	line := NewSimLine()

	line.WriteByte('a')
	line.WriteByte('b') // contract violation: register still occupied

	require.Equal(t, 1, line.Overruns())

	line.ClockTx()
	require.Equal(t, "b", string(line.Sink())) // the overrun clobbered 'a'
}

func TestSimLine_RxWithoutHandler(t *testing.T) {
	line := NewSimLine()

	line.InjectRx('x') // no handler attached; byte just waits in the FIFO
	require.True(t, line.RxReady())
	require.Equal(t, byte('x'), line.ReadByte())
	require.False(t, line.RxReady())
	require.Equal(t, byte(0), line.ReadByte())
}
