//go:build !windows

package mdns

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl sets SO_REUSEADDR and (where available) SO_REUSEPORT
// before bind, so a second FlowDrop process on the same host can still
// join the mDNS group instead of failing to bind. Best effort: failures
// here are non-fatal, mirroring the teacher transport's treatment of
// SetControlMessage as graceful degradation rather than a hard error.
func reusePortControl(_, _ string, c syscall.RawConn) error {
	return c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
}
