//go:build windows

package mdns

import "syscall"

// reusePortControl is a no-op on Windows: there is no portable SO_REUSEPORT
// equivalent exposed the same way, and a single FlowDrop process per host
// is the common case there. Binding still works; only the multi-process
// case degrades gracefully (second process fails to bind and the adapter
// reports a NetworkError, per the failure model in §4.A).
func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
