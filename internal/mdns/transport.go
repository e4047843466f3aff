package mdns

import (
	"context"
	"net"
)

// transport abstracts sending and receiving raw mDNS packets over a
// multicast group, so register/browse/resolve can be tested against an
// in-memory double instead of a real socket.
type transport interface {
	// send transmits packet to dest (normally the mDNS multicast group).
	send(ctx context.Context, packet []byte, dest net.Addr) error

	// receive waits for one incoming packet, honouring ctx cancellation
	// and deadline. interfaceIndex is 0 when the OS doesn't report which
	// interface the packet arrived on.
	receive(ctx context.Context) (packet []byte, src net.Addr, interfaceIndex int, err error)

	// groupAddr is the destination used for multicast sends on this
	// transport (224.0.0.251:5353 or [ff02::fb]:5353).
	groupAddr() net.Addr

	close() error
}
