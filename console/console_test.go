package console_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exomips/console"
)

type fakeRegs struct {
	data   byte
	lsr    byte
	writes []byte
}

func (f *fakeRegs) ReadReg(offset uint32) byte {
	switch offset {
	case 0x5:
		return f.lsr
	case 0x0:
		return f.data
	}
	return 0
}

func (f *fakeRegs) WriteReg(offset uint32, v byte) {
	if offset == 0x0 {
		f.writes = append(f.writes, v)
	}
}

func TestUARTPutByteWaitsForTHRE(t *testing.T) {
	regs := &fakeRegs{lsr: 1 << 5}
	u := console.NewUART16550(regs)
	u.PutByte('x')
	require.Equal(t, []byte{'x'}, regs.writes)
}

func TestUARTGetByteNonBlocking(t *testing.T) {
	regs := &fakeRegs{lsr: 0}
	u := console.NewUART16550(regs)
	_, ok := u.GetByte()
	require.False(t, ok)

	regs.lsr = 1 << 0
	regs.data = 'z'
	b, ok := u.GetByte()
	require.True(t, ok)
	require.Equal(t, byte('z'), b)
}

func TestMockRoundTrip(t *testing.T) {
	m := console.NewMock()
	m.PutByte('a')
	m.PutByte('b')
	require.Equal(t, []byte("ab"), m.Output)

	m.Feed('c', 'd')
	b, ok := m.GetByte()
	require.True(t, ok)
	require.Equal(t, byte('c'), b)
}
