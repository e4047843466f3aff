package mdns

import (
	"context"
	"net"
	"sync"
	"time"
)

// service is the in-memory description of one advertised FlowDrop instance,
// enough to build every record type register/browse/resolve needs.
type service struct {
	name    string // instance name, e.g. the 12-hex device id
	regType string // "_flowdrop._tcp"
	domain  string // "local."
	port    uint16
	txt     map[string]string
}

func (s *service) instanceName() string { return s.name + "." + s.regType + "." + s.domain }
func (s *service) ptrName() string      { return s.regType + "." + s.domain }
func (s *service) target() string       { return s.name + "." + s.domain }

// buildRecords constructs the full record set for this service: PTR (so
// browsers find the instance), SRV+TXT (instance details), and A/AAAA for
// whichever addresses are available, all under the given ttl. ttl of 0
// marks a goodbye announcement (RFC 6762 §10.1).
func (s *service) buildRecords(ttl uint32, v4 net.IP, v6 net.IP) []resourceRecord {
	var out []resourceRecord

	ptrData, _ := encodeName(s.instanceName())
	out = append(out, resourceRecord{name: s.ptrName(), rtype: TypePTR, class: ClassIN, ttl: ttl, data: ptrData})

	srvData, _ := encodeSRV(0, 0, s.port, s.target())
	out = append(out, resourceRecord{name: s.instanceName(), rtype: TypeSRV, class: ClassIN, ttl: ttl, data: srvData})

	out = append(out, resourceRecord{name: s.instanceName(), rtype: TypeTXT, class: ClassIN, ttl: ttl, data: encodeTXT(s.txt)})

	if v4 != nil {
		out = append(out, resourceRecord{name: s.target(), rtype: TypeA, class: ClassIN, ttl: ttl, data: encodeA(v4)})
	}
	if v6 != nil {
		out = append(out, resourceRecord{name: s.target(), rtype: TypeAAAA, class: ClassIN, ttl: ttl, data: encodeAAAA(v6)})
	}
	return out
}

// Register advertises service_name under reg_type/domain on port until
// isStopped reports true or ctx is cancelled, answering PTR/SRV/TXT/A/AAAA
// queries for it on both multicast groups available on this host. It is a
// blocking call, meant to run on its own goroutine (RFC 6762 §6, §8.3).
//
// Failure to acquire either multicast transport is reported as an error;
// failure of just one (e.g. no IPv6 route) degrades to single-stack
// operation rather than aborting, matching the adapter's never-abort
// failure model.
func Register(ctx context.Context, serviceName, regType, domain string, port uint16, txt map[string]string, isStopped func() bool) error {
	regCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	v4, v4Err := newUDP4Transport()
	v6, v6Err := newUDP6Transport()
	if v4Err != nil && v6Err != nil {
		return &NetworkError{Operation: "register", Err: v4Err, Details: "no usable ipv4 or ipv6 multicast transport"}
	}

	svc := &service{name: serviceName, regType: regType, domain: domain, port: port, txt: txt}
	v4Addr, v6Addr := localAddrs()

	var wg sync.WaitGroup
	if v4Err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			respondLoop(regCtx, v4, svc, v4Addr, v6Addr)
		}()
	}
	if v6Err == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			respondLoop(regCtx, v6, svc, v4Addr, v6Addr)
		}()
	}

	var t4, t6 transport
	if v4Err == nil {
		t4 = v4
	}
	if v6Err == nil {
		t6 = v6
	}
	announce(svc, t4, t6, v4Addr, v6Addr, DefaultTTL)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !isStopped() {
		select {
		case <-ctx.Done():
			goto done
		case <-ticker.C:
		}
	}
done:
	announce(svc, t4, t6, v4Addr, v6Addr, 0) // goodbye, RFC 6762 §10.1
	cancel()
	wg.Wait()
	if v4 != nil {
		_ = v4.close()
	}
	if v6 != nil {
		_ = v6.close()
	}
	return nil
}

// respondLoop answers incoming queries for svc until ctx is cancelled.
// Receive errors, including each poll deadline, are skipped and the loop
// keeps listening; only cancellation of ctx ends it. Per the adapter's
// failure model nothing here aborts the process.
func respondLoop(ctx context.Context, t transport, svc *service, v4Addr, v6Addr net.IP) {
	for {
		rctx, cancel := context.WithTimeout(ctx, pollInterval)
		packet, _, _, err := t.receive(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		msg, err := unmarshalMessage(packet)
		if err != nil || msg.response {
			continue
		}
		wantsAnswer := false
		for _, q := range msg.questions {
			if matchesService(q, svc) {
				wantsAnswer = true
				break
			}
		}
		if !wantsAnswer {
			continue
		}
		reply := &message{id: msg.id, response: true, answers: svc.buildRecords(DefaultTTL, v4Addr, v6Addr)}
		out, err := reply.marshal()
		if err != nil {
			continue
		}
		_ = t.send(ctx, out, t.groupAddr())
	}
}

func matchesService(q question, svc *service) bool {
	switch q.qtype {
	case TypePTR:
		return q.name == svc.ptrName()
	case TypeSRV, TypeTXT:
		return q.name == svc.instanceName()
	case TypeA, TypeAAAA:
		return q.name == svc.target()
	default:
		return false
	}
}

func announce(svc *service, v4, v6 transport, v4Addr, v6Addr net.IP, ttl uint32) {
	reply := &message{response: true, answers: svc.buildRecords(ttl, v4Addr, v6Addr)}
	out, err := reply.marshal()
	if err != nil {
		return
	}
	if v4 != nil {
		_ = v4.send(context.Background(), out, v4.groupAddr())
	}
	if v6 != nil {
		_ = v6.send(context.Background(), out, v6.groupAddr())
	}
}

// localAddrs returns the first IPv4 and IPv6 addresses found on the host
// that are neither loopback nor link-local unicast, used to populate A/AAAA records. Either may be nil; callers
// must tolerate that (e.g. an IPv6-only host has no IPv4 address to offer).
func localAddrs() (v4 net.IP, v6 net.IP) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, nil
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if v4 == nil {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				v4 = ip4
			}
		}
		if v6 == nil {
			if ipnet.IP.To4() == nil && ipnet.IP.To16() != nil {
				v6 = ipnet.IP.To16()
			}
		}
	}
	return v4, v6
}
