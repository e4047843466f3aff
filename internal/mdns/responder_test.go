package mdns

import (
	"context"
	"net"
	"testing"
	"time"
)

func testService() *service {
	return &service{
		name:    "abc123def456",
		regType: "_flowdrop._tcp",
		domain:  "local.",
		port:    9191,
		txt:     map[string]string{"name": "Office Desk", "ipf": "4"},
	}
}

func TestServiceNames(t *testing.T) {
	svc := testService()
	if got := svc.ptrName(); got != "_flowdrop._tcp.local." {
		t.Errorf("ptrName = %q", got)
	}
	if got := svc.instanceName(); got != "abc123def456._flowdrop._tcp.local." {
		t.Errorf("instanceName = %q", got)
	}
	if got := svc.target(); got != "abc123def456.local." {
		t.Errorf("target = %q", got)
	}
}

func TestMatchesService(t *testing.T) {
	svc := testService()
	cases := []struct {
		q    question
		want bool
	}{
		{question{name: svc.ptrName(), qtype: TypePTR}, true},
		{question{name: svc.instanceName(), qtype: TypeSRV}, true},
		{question{name: svc.instanceName(), qtype: TypeTXT}, true},
		{question{name: svc.target(), qtype: TypeA}, true},
		{question{name: svc.target(), qtype: TypeAAAA}, true},
		{question{name: "other._flowdrop._tcp.local.", qtype: TypePTR}, false},
		{question{name: svc.ptrName(), qtype: TypeSRV}, false},
	}
	for _, c := range cases {
		if got := matchesService(c.q, svc); got != c.want {
			t.Errorf("matchesService(%+v) = %v, want %v", c.q, got, c.want)
		}
	}
}

func TestBuildRecordsGoodbyeHasZeroTTL(t *testing.T) {
	svc := testService()
	records := svc.buildRecords(0, net.ParseIP("192.168.1.5"), nil)
	for _, r := range records {
		if r.ttl != 0 {
			t.Errorf("record %v has non-zero ttl in goodbye announcement", r.rtype)
		}
	}
}

func TestBuildRecordsOmitsMissingAddressFamily(t *testing.T) {
	svc := testService()
	records := svc.buildRecords(DefaultTTL, net.ParseIP("192.168.1.5"), nil)
	for _, r := range records {
		if r.rtype == TypeAAAA {
			t.Fatal("AAAA record present despite nil ipv6 address")
		}
	}
}

func TestRespondLoopAnswersMatchingQuery(t *testing.T) {
	svc := testService()
	ft := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go respondLoop(ctx, ft, svc, net.ParseIP("192.168.1.5"), nil)

	query := &message{id: 42, questions: []question{{name: svc.ptrName(), qtype: TypePTR, class: ClassIN}}}
	raw, err := query.marshal()
	if err != nil {
		t.Fatalf("marshal query: %v", err)
	}
	ft.incoming <- raw

	select {
	case reply := <-ft.sent:
		msg, err := unmarshalMessage(reply)
		if err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		if !msg.response {
			t.Error("reply missing response flag")
		}
		if len(msg.answers) == 0 {
			t.Error("reply has no answers")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestRespondLoopIgnoresUnrelatedQuery(t *testing.T) {
	svc := testService()
	ft := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go respondLoop(ctx, ft, svc, net.ParseIP("192.168.1.5"), nil)

	query := &message{questions: []question{{name: "someone-else._flowdrop._tcp.local.", qtype: TypeSRV, class: ClassIN}}}
	raw, _ := query.marshal()
	ft.incoming <- raw

	select {
	case reply := <-ft.sent:
		t.Fatalf("unexpected reply to unrelated query: %v", reply)
	case <-time.After(200 * time.Millisecond):
	}
}
