package mdns

import "net"

// Found is delivered to a Browse callback for every PTR answer naming a
// service instance (RFC 6763 §4); an instance seen again is delivered again.
type Found struct {
	ServiceName string
	RegType     string
	ReplyDomain string
}

// Resolved is the first usable reply to a Resolve call: either an IP
// address directly (when the responder included A/AAAA records in the
// same reply as the SRV/TXT records) or a host name the caller must follow
// up on with QueryA/QueryAAAA.
type Resolved struct {
	HostName string
	IP       net.IP
	Port     uint16
	TXT      map[string]string
}
