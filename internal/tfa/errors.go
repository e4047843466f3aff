package tfa

import "fmt"

// EntryTooLongError reports an archive entry whose relative path cannot be
// split into a 155-byte prefix and 100-byte name, per the USTAR-like header
// layout.
type EntryTooLongError struct {
	Name string
}

func (e *EntryTooLongError) Error() string {
	return fmt.Sprintf("tfa: entry name %q too long for archive header", e.Name)
}

// UnsafePathError reports an archive entry whose relative path would
// resolve outside the consumer's destination directory.
type UnsafePathError struct {
	Path string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("tfa: entry path %q escapes destination directory", e.Path)
}

// ChecksumError reports a header block whose stored checksum does not
// match its computed value.
type ChecksumError struct {
	Name string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("tfa: checksum mismatch in header for %q", e.Name)
}

// ProtocolError reports a structural violation of the archive stream: an
// entry with an empty name, or data after the trailer. The reader does not
// check the header's magic or version fields.
type ProtocolError struct {
	Details string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tfa: protocol error: %s", e.Details)
}
