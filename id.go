package flowdrop

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// idHexLen is the 12-lowercase-hex-character width spec.md §6 requires
// (48 bits of entropy).
const idHexLen = 12

// NewDeviceID generates a 12-lowercase-hex-character device id. The
// source implementation derives this from a hash of a millisecond
// timestamp, which is deterministic across near-simultaneous starts and
// risks collisions; this generator instead sources its entropy from
// uuid.New() truncated to 6 bytes, satisfying the spec's "negligible
// collision probability" requirement without reproducing that weakness.
func NewDeviceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:idHexLen/2])
}
