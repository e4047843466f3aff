package mdns

import (
	"context"
	"net"
)

// fakeTransport is an in-memory stand-in for udp4Transport/udp6Transport,
// letting responder/querier logic be exercised without real multicast
// sockets (which may be unavailable in sandboxed test environments).
type fakeTransport struct {
	group    net.Addr
	incoming chan []byte
	sent     chan []byte
	closed   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		group:    &net.UDPAddr{IP: net.ParseIP("224.0.0.251"), Port: Port},
		incoming: make(chan []byte, 8),
		sent:     make(chan []byte, 8),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) send(_ context.Context, packet []byte, _ net.Addr) error {
	select {
	case f.sent <- packet:
	default:
	}
	return nil
}

func (f *fakeTransport) receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case p := <-f.incoming:
		return p, f.group, 0, nil
	case <-f.closed:
		return nil, nil, 0, context.Canceled
	case <-ctx.Done():
		return nil, nil, 0, ctx.Err()
	}
}

func (f *fakeTransport) groupAddr() net.Addr { return f.group }

func (f *fakeTransport) close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}
