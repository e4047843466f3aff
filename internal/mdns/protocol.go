// Package mdns implements the link-local multicast DNS / DNS-SD adapter
// (RFC 6762 / RFC 6763) that FlowDrop's discovery service is built on:
// service registration (register), service browsing (browse), instance
// resolution (resolve), and plain A/AAAA host queries.
//
// The wire format is hand-encoded rather than built on a DNS library, the
// same way a sibling responder/querier pair would build it from scratch:
// only the subset of RFC 1035/6762/6763 that register/browse/resolve needs
// is implemented (PTR, SRV, TXT, A, AAAA records; name compression on
// decode only).
package mdns

import "time"

const (
	// Port is the mDNS UDP port (RFC 6762 §5).
	Port = 5353

	// MulticastAddrIPv4 is the mDNS IPv4 multicast group (RFC 6762 §5).
	MulticastAddrIPv4 = "224.0.0.251"

	// MulticastAddrIPv6 is the mDNS IPv6 multicast group (RFC 6762 §5).
	MulticastAddrIPv6 = "ff02::fb"

	// DefaultTTL is the record TTL advertised by Register, in seconds
	// (RFC 6762 §10 suggests 75 minutes for most records).
	DefaultTTL uint32 = 4500

	// pollInterval bounds how often Register/Browse re-check their
	// isStopped callback between network operations.
	pollInterval = 750 * time.Millisecond

	// queryTimeout is the fallback bound Resolve/QueryA/QueryAAAA apply when
	// the caller's context carries no deadline of its own, so a forgotten
	// timeout on the caller's side can't wait forever for a reply.
	queryTimeout = 3 * time.Second

	readBufferSize = 65536
)

// RecordType is a DNS resource record type (RFC 1035 §3.2.2).
type RecordType uint16

const (
	TypeA    RecordType = 1
	TypePTR  RecordType = 12
	TypeTXT  RecordType = 16
	TypeAAAA RecordType = 28
	TypeSRV  RecordType = 33
)

func (t RecordType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypePTR:
		return "PTR"
	case TypeTXT:
		return "TXT"
	case TypeAAAA:
		return "AAAA"
	case TypeSRV:
		return "SRV"
	default:
		return "UNKNOWN"
	}
}

// ClassIN is the Internet record class (RFC 1035 §3.2.4).
const ClassIN uint16 = 1

// classCacheFlush is RFC 6762 §10.2's cache-flush bit in a record's class
// field. The responder does not set it; unmarshalMessage masks it off the
// class of decoded answers.
const classCacheFlush uint16 = 1 << 15
