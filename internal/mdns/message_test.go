package mdns

import (
	"net"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &message{
		id:       0,
		response: true,
		answers: []resourceRecord{
			{name: "_flowdrop._tcp.local.", rtype: TypePTR, class: ClassIN, ttl: DefaultTTL, data: mustEncodeName(t, "abc123._flowdrop._tcp.local.")},
			{name: "abc123._flowdrop._tcp.local.", rtype: TypeSRV, class: ClassIN, ttl: DefaultTTL, data: mustEncodeSRV(t, 0, 0, 9191, "abc123.local.")},
			{name: "abc123._flowdrop._tcp.local.", rtype: TypeTXT, class: ClassIN, ttl: DefaultTTL, data: encodeTXT(map[string]string{"name": "Desk", "ipf": "4"})},
			{name: "abc123.local.", rtype: TypeA, class: ClassIN, ttl: DefaultTTL, data: encodeA(net.ParseIP("192.168.1.42"))},
		},
	}

	raw, err := msg.marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := unmarshalMessage(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.response {
		t.Error("expected response flag set")
	}
	if len(got.answers) != len(msg.answers) {
		t.Fatalf("got %d answers, want %d", len(got.answers), len(msg.answers))
	}

	ptr := got.answers[0]
	if ptr.rtype != TypePTR || string(ptr.data) != "abc123._flowdrop._tcp.local." {
		t.Errorf("PTR decoded wrong: %+v", ptr)
	}

	srv := got.answers[1]
	_, _, port, target, err := decodeSRV(srv.data)
	if err != nil {
		t.Fatalf("decodeSRV: %v", err)
	}
	if port != 9191 || target != "abc123.local." {
		t.Errorf("SRV decoded wrong: port=%d target=%q", port, target)
	}

	txt := decodeTXT(got.answers[2].data)
	if txt["name"] != "Desk" || txt["ipf"] != "4" {
		t.Errorf("TXT decoded wrong: %+v", txt)
	}

	a := got.answers[3]
	if len(a.data) != 4 || net.IP(a.data).String() != "192.168.1.42" {
		t.Errorf("A decoded wrong: %v", a.data)
	}
}

func TestDecodeNameCompressionPointer(t *testing.T) {
	// Hand-build: question "local." at offset 12, then a PTR record whose
	// name is a bare pointer back to offset 12.
	raw := []byte{
		0, 0, // id
		0, 0, // flags
		0, 1, // qdcount
		0, 1, // ancount
		0, 0, // nscount
		0, 0, // arcount
		5, 'l', 'o', 'c', 'a', 'l', 0, // "local." at offset 12
		0, byte(TypePTR), 0, byte(ClassIN), // qtype/qclass
	}
	ptrNameOffset := 12
	rest := []byte{
		0xC0, byte(ptrNameOffset), // compression pointer to offset 12
		0, byte(TypePTR),
		0, byte(ClassIN),
		0, 0, 0, 60, // ttl
		0, 0, // rdlength (filled below)
	}
	rdata := mustEncodeName(t, "local.")
	rest[len(rest)-2] = byte(len(rdata) >> 8)
	rest[len(rest)-1] = byte(len(rdata))
	raw = append(raw, rest...)
	raw = append(raw, rdata...)

	msg, err := unmarshalMessage(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.questions[0].name != "local." {
		t.Errorf("question name = %q, want local.", msg.questions[0].name)
	}
	if msg.answers[0].name != "local." {
		t.Errorf("answer name = %q, want local.", msg.answers[0].name)
	}
}

func TestDecodeNameRejectsPointerLoop(t *testing.T) {
	raw := []byte{
		0, 0, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
		0xC0, 12, // a name at offset 12 pointing to itself
	}
	_, _, err := decodeName(raw, 12)
	if err == nil {
		t.Fatal("expected error for self-referential compression pointer")
	}
}

func mustEncodeName(t *testing.T, name string) []byte {
	t.Helper()
	b, err := encodeName(name)
	if err != nil {
		t.Fatalf("encodeName(%q): %v", name, err)
	}
	return b
}

func mustEncodeSRV(t *testing.T, priority, weight, port uint16, target string) []byte {
	t.Helper()
	b, err := encodeSRV(priority, weight, port, target)
	if err != nil {
		t.Fatalf("encodeSRV: %v", err)
	}
	return b
}
