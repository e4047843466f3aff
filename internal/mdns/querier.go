package mdns

import (
	"context"
	"net"
	"strings"
	"time"
)

// queryInterval is how often an unanswered query is re-sent while waiting
// for a reply, so a packet lost to multicast flakiness doesn't stall a
// Browse/Resolve/QueryA/QueryAAAA call for its whole timeout.
const queryInterval = 500 * time.Millisecond

// withDefaultTimeout applies queryTimeout when ctx carries no deadline of
// its own, so Resolve/QueryA/QueryAAAA never block forever on a caller that
// forgot to bound its context.
func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// Browse invokes onFound once per PTR answer seen for reg_type/domain,
// until isStopped reports true or ctx is cancelled. It does not
// de-duplicate repeated sightings of the same instance — that is left to
// the discovery service built on top (§4.A).
func Browse(ctx context.Context, regType, domain string, onFound func(Found), isStopped func() bool) error {
	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	v4, v4Err := newUDP4Transport()
	v6, v6Err := newUDP6Transport()
	if v4Err != nil && v6Err != nil {
		return &NetworkError{Operation: "browse", Err: v4Err, Details: "no usable ipv4 or ipv6 multicast transport"}
	}
	defer func() {
		if v4 != nil {
			_ = v4.close()
		}
		if v6 != nil {
			_ = v6.close()
		}
	}()

	ptrName := regType + "." + domain
	query := &message{questions: []question{{name: ptrName, qtype: TypePTR, class: ClassIN}}}
	packet, err := query.marshal()
	if err != nil {
		return &WireFormatError{Operation: "build ptr query", Err: err}
	}

	done := make(chan []byte, 8)
	if v4Err == nil {
		go browseListen(browseCtx, v4, done)
	}
	if v6Err == nil {
		go browseListen(browseCtx, v6, done)
	}

	ticker := time.NewTicker(queryInterval)
	defer ticker.Stop()
	if v4 != nil {
		_ = v4.send(browseCtx, packet, v4.groupAddr())
	}
	if v6 != nil {
		_ = v6.send(browseCtx, packet, v6.groupAddr())
	}

	for !isStopped() {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if v4 != nil {
				_ = v4.send(browseCtx, packet, v4.groupAddr())
			}
			if v6 != nil {
				_ = v6.send(browseCtx, packet, v6.groupAddr())
			}
		case raw := <-done:
			msg, err := unmarshalMessage(raw)
			if err != nil || !msg.response {
				continue
			}
			for _, a := range msg.answers {
				if a.rtype != TypePTR || a.name != ptrName {
					continue
				}
				instance := string(a.data)
				name := strings.TrimSuffix(instance, "."+ptrName)
				onFound(Found{ServiceName: name, RegType: regType, ReplyDomain: domain})
			}
		}
	}
	return nil
}

func browseListen(ctx context.Context, t transport, out chan<- []byte) {
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
		select {
		case out <- packet:
		case <-ctx.Done():
			return
		}
	}
}

// Resolve sends an SRV+TXT query for serviceName.reg_type.domain and
// returns the first reply, or nil if ctx is done before one arrives. When
// the responder included A/AAAA records in the same packet (as FlowDrop's
// own Register does), Resolved.IP is already populated and the caller
// needn't follow up with QueryA/QueryAAAA.
func Resolve(ctx context.Context, serviceName, regType, domain string) (*Resolved, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	v4, v4Err := newUDP4Transport()
	v6, v6Err := newUDP6Transport()
	if v4Err != nil && v6Err != nil {
		return nil, &NetworkError{Operation: "resolve", Err: v4Err, Details: "no usable ipv4 or ipv6 multicast transport"}
	}
	defer func() {
		if v4 != nil {
			_ = v4.close()
		}
		if v6 != nil {
			_ = v6.close()
		}
	}()

	instance := serviceName + "." + regType + "." + domain
	query := &message{questions: []question{
		{name: instance, qtype: TypeSRV, class: ClassIN},
		{name: instance, qtype: TypeTXT, class: ClassIN},
	}}
	packet, err := query.marshal()
	if err != nil {
		return nil, &WireFormatError{Operation: "build resolve query", Err: err}
	}

	resCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan []byte, 8)
	if v4Err == nil {
		go browseListen(resCtx, v4, done)
	}
	if v6Err == nil {
		go browseListen(resCtx, v6, done)
	}

	ticker := time.NewTicker(queryInterval)
	defer ticker.Stop()
	if v4 != nil {
		_ = v4.send(resCtx, packet, v4.groupAddr())
	}
	if v6 != nil {
		_ = v6.send(resCtx, packet, v6.groupAddr())
	}

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
			if v4 != nil {
				_ = v4.send(resCtx, packet, v4.groupAddr())
			}
			if v6 != nil {
				_ = v6.send(resCtx, packet, v6.groupAddr())
			}
		case raw := <-done:
			msg, err := unmarshalMessage(raw)
			if err != nil || !msg.response {
				continue
			}
			if r := resolvedFrom(msg, instance); r != nil {
				return r, nil
			}
		}
	}
}

func resolvedFrom(msg *message, instance string) *Resolved {
	var port uint16
	var target string
	txt := map[string]string{}
	haveSRV := false

	for _, a := range msg.answers {
		switch {
		case a.rtype == TypeSRV && a.name == instance:
			_, _, p, t, err := decodeSRV(a.data)
			if err != nil {
				continue
			}
			port, target, haveSRV = p, t, true
		case a.rtype == TypeTXT && a.name == instance:
			for k, v := range decodeTXT(a.data) {
				txt[k] = v
			}
		}
	}
	if !haveSRV {
		return nil
	}

	r := &Resolved{HostName: target, Port: port, TXT: txt}
	for _, a := range msg.answers {
		if a.name != target {
			continue
		}
		switch a.rtype {
		case TypeA:
			if len(a.data) == 4 {
				r.IP = net.IP(a.data)
			}
		case TypeAAAA:
			if len(a.data) == 16 && r.IP == nil {
				r.IP = net.IP(a.data)
			}
		}
	}
	return r
}

// QueryA resolves host's A record, returning the first IPv4 address found
// before ctx is done, or nil if none arrives.
func QueryA(ctx context.Context, host string) (net.IP, error) {
	return queryAddr(ctx, host, TypeA)
}

// QueryAAAA resolves host's AAAA record, returning the first IPv6 address
// found before ctx is done, or nil if none arrives.
func QueryAAAA(ctx context.Context, host string) (net.IP, error) {
	return queryAddr(ctx, host, TypeAAAA)
}

func queryAddr(ctx context.Context, host string, qtype RecordType) (net.IP, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var t transport
	var err error
	if qtype == TypeAAAA {
		t, err = newUDP6Transport()
	} else {
		t, err = newUDP4Transport()
	}
	if err != nil {
		return nil, &NetworkError{Operation: "query", Err: err, Details: host}
	}
	defer func() { _ = t.close() }()

	query := &message{questions: []question{{name: host, qtype: qtype, class: ClassIN}}}
	packet, err := query.marshal()
	if err != nil {
		return nil, &WireFormatError{Operation: "build query", Err: err}
	}

	qCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan []byte, 8)
	go browseListen(qCtx, t, done)

	ticker := time.NewTicker(queryInterval)
	defer ticker.Stop()
	_ = t.send(qCtx, packet, t.groupAddr())

	wantLen := 4
	if qtype == TypeAAAA {
		wantLen = 16
	}
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
			_ = t.send(qCtx, packet, t.groupAddr())
		case raw := <-done:
			msg, err := unmarshalMessage(raw)
			if err != nil || !msg.response {
				continue
			}
			for _, a := range msg.answers {
				if a.rtype == qtype && a.name == host && len(a.data) == wantLen {
					return net.IP(a.data), nil
				}
			}
		}
	}
}
