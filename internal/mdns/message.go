package mdns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

// message is a minimal RFC 1035 DNS message: enough header fields to tell
// a query from a response, plus the question/answer sections mDNS needs.
// Authority and additional records are not modelled; FlowDrop's adapter
// never needs them.
type message struct {
	id        uint16
	response  bool
	questions []question
	answers   []resourceRecord
}

type question struct {
	name  string
	qtype RecordType
	class uint16
}

type resourceRecord struct {
	name  string
	rtype RecordType
	class uint16
	ttl   uint32
	data  []byte
}

const (
	flagResponse = 1 << 15
	flagAA       = 1 << 10
)

// marshal encodes the message with no name compression. Every record the
// responder emits is small (a handful of names), so compression would only
// save a few bytes; decoding still follows compression pointers, since
// replies from other implementations may use it.
func (m *message) marshal() ([]byte, error) {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], m.id)
	flags := uint16(0)
	if m.response {
		flags |= flagResponse | flagAA
	}
	binary.BigEndian.PutUint16(buf[2:4], flags)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(m.questions)))
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(m.answers)))
	binary.BigEndian.PutUint16(buf[8:10], 0)
	binary.BigEndian.PutUint16(buf[10:12], 0)

	for _, q := range m.questions {
		name, err := encodeName(q.name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, name...)
		var tb [4]byte
		binary.BigEndian.PutUint16(tb[0:2], uint16(q.qtype))
		binary.BigEndian.PutUint16(tb[2:4], q.class)
		buf = append(buf, tb[:]...)
	}

	for _, a := range m.answers {
		name, err := encodeName(a.name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, name...)
		var hb [10]byte
		binary.BigEndian.PutUint16(hb[0:2], uint16(a.rtype))
		binary.BigEndian.PutUint16(hb[2:4], a.class)
		binary.BigEndian.PutUint32(hb[4:8], a.ttl)
		binary.BigEndian.PutUint16(hb[8:10], uint16(len(a.data)))
		buf = append(buf, hb[:]...)
		buf = append(buf, a.data...)
	}

	return buf, nil
}

func unmarshalMessage(raw []byte) (*message, error) {
	if len(raw) < 12 {
		return nil, &WireFormatError{Operation: "parse header", Err: errors.New("message shorter than header")}
	}
	m := &message{
		id:       binary.BigEndian.Uint16(raw[0:2]),
		response: binary.BigEndian.Uint16(raw[2:4])&flagResponse != 0,
	}
	qdcount := binary.BigEndian.Uint16(raw[4:6])
	ancount := binary.BigEndian.Uint16(raw[6:8])

	off := 12
	for i := 0; i < int(qdcount); i++ {
		name, next, err := decodeName(raw, off)
		if err != nil {
			return nil, &WireFormatError{Operation: "parse question name", Err: err}
		}
		if next+4 > len(raw) {
			return nil, &WireFormatError{Operation: "parse question", Err: errors.New("truncated question")}
		}
		q := question{
			name:  name,
			qtype: RecordType(binary.BigEndian.Uint16(raw[next : next+2])),
			class: binary.BigEndian.Uint16(raw[next+2 : next+4]),
		}
		m.questions = append(m.questions, q)
		off = next + 4
	}

	for i := 0; i < int(ancount); i++ {
		name, next, err := decodeName(raw, off)
		if err != nil {
			return nil, &WireFormatError{Operation: "parse answer name", Err: err}
		}
		if next+10 > len(raw) {
			return nil, &WireFormatError{Operation: "parse answer", Err: errors.New("truncated answer header")}
		}
		rtype := RecordType(binary.BigEndian.Uint16(raw[next : next+2]))
		class := binary.BigEndian.Uint16(raw[next+2 : next+4])
		ttl := binary.BigEndian.Uint32(raw[next+4 : next+8])
		rdlen := int(binary.BigEndian.Uint16(raw[next+8 : next+10]))
		dataStart := next + 10
		if dataStart+rdlen > len(raw) {
			return nil, &WireFormatError{Operation: "parse answer", Err: errors.New("truncated rdata")}
		}
		rdata := raw[dataStart : dataStart+rdlen]
		decoded, err := decodeRData(raw, dataStart, rtype, rdata)
		if err != nil {
			return nil, &WireFormatError{Operation: "parse rdata", Err: err}
		}
		m.answers = append(m.answers, resourceRecord{
			name:  name,
			rtype: rtype,
			class: class & 0x7fff,
			ttl:   ttl,
			data:  decoded,
		})
		off = dataStart + rdlen
	}

	return m, nil
}

// decodeRData normalises a record's RDATA for downstream use. PTR and SRV
// RDATA may themselves contain compression pointers relative to the whole
// message, so names inside RDATA are decoded against the full buffer.
func decodeRData(raw []byte, dataStart int, rtype RecordType, rdata []byte) ([]byte, error) {
	switch rtype {
	case TypePTR:
		name, _, err := decodeName(raw, dataStart)
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	case TypeSRV:
		if len(rdata) < 6 {
			return nil, errors.New("short SRV rdata")
		}
		target, _, err := decodeName(raw, dataStart+6)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 6+len(target))
		copy(out, rdata[:6])
		copy(out[6:], target)
		return out, nil
	default:
		cp := make([]byte, len(rdata))
		copy(cp, rdata)
		return cp, nil
	}
}

func encodeName(name string) ([]byte, error) {
	var buf []byte
	name = strings.TrimSuffix(name, ".")
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			if len(label) > 63 {
				return nil, fmt.Errorf("label %q exceeds 63 bytes", label)
			}
			buf = append(buf, byte(len(label)))
			buf = append(buf, label...)
		}
	}
	return append(buf, 0x00), nil
}

// decodeName decodes a (possibly compressed) domain name starting at
// offset, returning the name and the offset immediately after it in the
// *original* message (i.e. after following any pointer, the returned
// offset is where the enclosing record continues, not inside the pointer
// target).
func decodeName(raw []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	endPos := -1
	visited := make(map[int]bool)

	for {
		if pos >= len(raw) {
			return "", 0, errors.New("name runs past end of message")
		}
		length := int(raw[pos])
		if length == 0 {
			pos++
			break
		}
		if length&0xC0 == 0xC0 {
			if pos+1 >= len(raw) {
				return "", 0, errors.New("truncated compression pointer")
			}
			ptr := (length&0x3F)<<8 | int(raw[pos+1])
			if visited[pos] || ptr >= pos {
				return "", 0, errors.New("invalid compression pointer")
			}
			visited[pos] = true
			if endPos == -1 {
				endPos = pos + 2
			}
			pos = ptr
			continue
		}
		if pos+1+length > len(raw) {
			return "", 0, errors.New("label runs past end of message")
		}
		labels = append(labels, string(raw[pos+1:pos+1+length]))
		pos += 1 + length
	}

	if endPos == -1 {
		endPos = pos
	}
	name := strings.Join(labels, ".")
	if len(labels) > 0 {
		name += "."
	}
	return name, endPos, nil
}

func encodeA(ip net.IP) []byte {
	v4 := ip.To4()
	out := make([]byte, 4)
	copy(out, v4)
	return out
}

func encodeAAAA(ip net.IP) []byte {
	v6 := ip.To16()
	out := make([]byte, 16)
	copy(out, v6)
	return out
}

func encodeTXT(kv map[string]string) []byte {
	var buf []byte
	for k, v := range kv {
		s := k + "=" + v
		if len(s) > 255 {
			s = s[:255]
		}
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}
	if buf == nil {
		buf = []byte{0}
	}
	return buf
}

func decodeTXT(data []byte) map[string]string {
	out := make(map[string]string)
	i := 0
	for i < len(data) {
		n := int(data[i])
		i++
		if i+n > len(data) {
			break
		}
		s := string(data[i : i+n])
		i += n
		if s == "" {
			continue
		}
		if idx := strings.IndexByte(s, '='); idx >= 0 {
			out[s[:idx]] = s[idx+1:]
		} else {
			out[s] = ""
		}
	}
	return out
}

func encodeSRV(priority, weight, port uint16, target string) ([]byte, error) {
	name, err := encodeName(target)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 6, 6+len(name))
	binary.BigEndian.PutUint16(buf[0:2], priority)
	binary.BigEndian.PutUint16(buf[2:4], weight)
	binary.BigEndian.PutUint16(buf[4:6], port)
	return append(buf, name...), nil
}

// decodeSRV reads the normalised SRV rdata produced by decodeRData (first
// six bytes priority/weight/port, remainder the already-decoded plain-text
// target name).
func decodeSRV(data []byte) (priority, weight, port uint16, target string, err error) {
	if len(data) < 6 {
		return 0, 0, 0, "", errors.New("short SRV data")
	}
	priority = binary.BigEndian.Uint16(data[0:2])
	weight = binary.BigEndian.Uint16(data[2:4])
	port = binary.BigEndian.Uint16(data[4:6])
	target = string(data[6:])
	return
}
