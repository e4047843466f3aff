package mdns

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv6"
)

// udp6Transport mirrors udp4Transport for the ff02::fb link-local
// multicast group, completing the dual-stack side of register/resolve that
// the teacher library's own 007-interface-specific-addressing work was
// heading toward but had not yet merged.
type udp6Transport struct {
	conn     net.PacketConn
	ipv6Conn *ipv6.PacketConn
	group    *net.UDPAddr
}

func newUDP6Transport() (*udp6Transport, error) {
	group := &net.UDPAddr{IP: net.ParseIP(MulticastAddrIPv6), Port: Port}

	lc := net.ListenConfig{Control: reusePortControl}
	pc, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, &NetworkError{Operation: "listen", Err: err, Details: "bind ipv6 mdns socket"}
	}

	p := ipv6.NewPacketConn(pc)

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
			return nil, &NetworkError{Operation: "join multicast group", Err: err, Details: MulticastAddrIPv6}
		}
	}

	_ = p.SetControlMessage(ipv6.FlagInterface, true)

	return &udp6Transport{conn: pc, ipv6Conn: p, group: group}, nil
}

func (t *udp6Transport) groupAddr() net.Addr { return t.group }

func (t *udp6Transport) send(ctx context.Context, packet []byte, dest net.Addr) error {
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

func (t *udp6Transport) receive(ctx context.Context) ([]byte, net.Addr, int, error) {
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
	n, cm, src, err := t.ipv6Conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, 0, &NetworkError{Operation: "receive", Err: err}
	}
	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}
	return buf[:n], src, ifIndex, nil
}

func (t *udp6Transport) close() error {
	if err := t.conn.Close(); err != nil {
		return &NetworkError{Operation: "close", Err: err}
	}
	return nil
}
