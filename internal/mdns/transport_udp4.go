package mdns

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// udp4Transport is the production IPv4 multicast transport, modelled on the
// teacher library's UDPv4Transport: a net.ListenConfig with a reuse-address
// Control hook (so multiple FlowDrop processes can share the mDNS port on
// one host), wrapped in an ipv4.PacketConn for per-interface group
// membership and best-effort interface-index reporting.
type udp4Transport struct {
	conn     net.PacketConn
	ipv4Conn *ipv4.PacketConn
	group    *net.UDPAddr
}

func newUDP4Transport() (*udp4Transport, error) {
	group := &net.UDPAddr{IP: net.ParseIP(MulticastAddrIPv4), Port: Port}

	lc := net.ListenConfig{Control: reusePortControl}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, &NetworkError{Operation: "listen", Err: err, Details: "bind ipv4 mdns socket"}
	}

	p := ipv4.NewPacketConn(pc)

	ifaces, err := net.Interfaces()
	if err != nil {
		_ = pc.Close()
		return nil, &NetworkError{Operation: "list interfaces", Err: err}
	}
	joined := 0
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := p.JoinGroup(&iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		if err := p.JoinGroup(nil, group); err != nil {
			_ = pc.Close()
			return nil, &NetworkError{Operation: "join multicast group", Err: err, Details: MulticastAddrIPv4}
		}
	}

	_ = p.SetControlMessage(ipv4.FlagInterface, true)
	_ = p.SetMulticastLoopback(true)

	return &udp4Transport{conn: pc, ipv4Conn: p, group: group}, nil
}

func (t *udp4Transport) groupAddr() net.Addr { return t.group }

func (t *udp4Transport) send(ctx context.Context, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &NetworkError{Operation: "send", Err: ctx.Err()}
	default:
	}
	n, err := t.conn.WriteTo(packet, dest)
	if err != nil {
		return &NetworkError{Operation: "send", Err: err, Details: fmt.Sprintf("%d bytes to %s", len(packet), dest)}
	}
	if n != len(packet) {
		return &NetworkError{Operation: "send", Err: fmt.Errorf("partial write %d/%d", n, len(packet))}
	}
	return nil
}

func (t *udp4Transport) receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &NetworkError{Operation: "receive", Err: ctx.Err()}
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, 0, &NetworkError{Operation: "set read deadline", Err: err}
		}
	}

	buf := make([]byte, readBufferSize)
	n, cm, src, err := t.ipv4Conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, 0, &NetworkError{Operation: "receive", Err: err}
	}
	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}
	return buf[:n], src, ifIndex, nil
}

func (t *udp4Transport) close() error {
	if err := t.conn.Close(); err != nil {
		return &NetworkError{Operation: "close", Err: err}
	}
	return nil
}
