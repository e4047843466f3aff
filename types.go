// Package flowdrop implements peer-to-peer LAN file transfer: advertising a
// device over mDNS/DNS-SD, discovering peers, and streaming files between
// them over HTTP using the TFA archive format.
package flowdrop

import "io/fs"

// ProtocolVersion is advertised in the TXT record under key "v" and
// compared on resolve; a mismatch is treated as an unreachable peer.
const ProtocolVersion = "0"

const (
	serviceRegType = "_flowdrop._tcp"
	serviceDomain  = "local."
	// DefaultPort is tried first when a Server acquires a listening port.
	DefaultPort = 39979
)

// DeviceInfo identifies a FlowDrop peer. ID is the only field discovery
// relies on; the rest are descriptive and may be empty.
type DeviceInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Model         string `json:"model,omitempty"`
	Platform      string `json:"platform,omitempty"`
	SystemVersion string `json:"system_version,omitempty"`
}

// FileInfo is a manifest entry: a name and size, not a handle.
type FileInfo struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// File is a readable input to a send request. Ownership stays with the
// caller: the core borrows it read-only and never closes it (see
// SendRequest.Execute).
type File interface {
	RelativePath() string
	Size() uint64
	CreatedTime() int64
	ModifiedTime() int64
	Permissions() fs.FileMode
	Seek(pos uint64) error
	Read(buf []byte) (int, error)
}

// SendAsk is the body of a POST /ask request: who's asking, and what they
// want to send.
type SendAsk struct {
	Sender DeviceInfo `json:"sender"`
	Files  []FileInfo `json:"files"`
}

// IPType distinguishes the address family of a Remote.
type IPType int

const (
	IPv4 IPType = iota
	IPv6
)

func (t IPType) String() string {
	if t == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// Remote is an ephemeral peer address, holding no resources of its own.
type Remote struct {
	IP     string
	Port   uint16
	IPType IPType
}
