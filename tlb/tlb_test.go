package tlb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exomips/addr"
	"exomips/tlb"
	"exomips/trapframe"
)

func TestShadowInstallResidentInvalidate(t *testing.T) {
	s := tlb.NewShadow()
	va := addr.VirtAddr(0x0040_1000)

	require.False(t, s.Resident(1, va))
	s.Install(1, va)
	require.True(t, s.Resident(1, va))
	require.False(t, s.Resident(2, va), "distinct ASIDs must not alias")

	s.Invalidate(1, va)
	require.False(t, s.Resident(1, va))
}

func TestInstallIgnoresPageOffset(t *testing.T) {
	s := tlb.NewShadow()
	s.Install(1, addr.VirtAddr(0x0040_1004))
	require.True(t, s.Resident(1, addr.VirtAddr(0x0040_1FFF)))
}

func TestDoTLBModPanicsWithoutHandler(t *testing.T) {
	tf := &trapframe.Trapframe{}
	noHandler := func() (addr.VirtAddr, bool) { return 0, false }
	require.Panics(t, func() {
		tlb.DoTLBMod(tf, noHandler, func(sp addr.VirtAddr, _ *trapframe.Trapframe) addr.VirtAddr { return sp })
	})
}

func TestDoTLBModSwitchesToExceptionStack(t *testing.T) {
	tf := &trapframe.Trapframe{}
	tf.GPR[trapframe.RegSP] = uint32(addr.UXSTACKTOP) // at/above the range, must be redirected
	handler := func() (addr.VirtAddr, bool) { return addr.VirtAddr(0x0080_1000), true }

	var sawSP addr.VirtAddr
	pushFrame := func(sp addr.VirtAddr, _ *trapframe.Trapframe) addr.VirtAddr {
		sawSP = sp
		return sp - 4
	}
	tlb.DoTLBMod(tf, handler, pushFrame)

	require.Equal(t, addr.UXSTACKTOP, sawSP)
	require.Equal(t, uint32(addr.UXSTACKTOP)-4, tf.GPR[trapframe.RegA0])
	require.Equal(t, uint32(0x0080_1000), tf.EPC)
}

func TestDoTLBModKeepsExistingExceptionStack(t *testing.T) {
	tf := &trapframe.Trapframe{}
	existingSP := uint32(addr.USTACKTOP) + 100
	tf.GPR[trapframe.RegSP] = existingSP
	handler := func() (addr.VirtAddr, bool) { return 1, true }

	var sawSP addr.VirtAddr
	pushFrame := func(sp addr.VirtAddr, _ *trapframe.Trapframe) addr.VirtAddr {
		sawSP = sp
		return sp
	}
	tlb.DoTLBMod(tf, handler, pushFrame)
	require.Equal(t, addr.VirtAddr(existingSP), sawSP)
}
