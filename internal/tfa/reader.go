package tfa

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

type readerState int

const (
	stateHeaderAcc readerState = iota
	stateBodyAcc
	statePadAcc
	stateDoneAcc
)

// Reader consumes a TFA archive stream and materialises it under a
// destination directory. It implements io.Writer, so a transfer server can
// io.Copy an HTTP request body directly into it.
type Reader struct {
	destDir  string
	listener Listener

	state     readerState
	headerBuf [blockSize]byte
	headerOff int

	current     *os.File
	currentPath string
	currentInfo FileInfo
	currentRead uint64
	currentSkip bool // typeflag != '0': skip payload, write nothing
	currentMtime int64

	bodyRemaining uint64
	padRemaining  uint64

	totalWritten uint64
	done         bool
}

// NewReader prepares a consumer that writes entries under destDir, which
// must already exist.
func NewReader(destDir string, listener Listener) *Reader {
	if listener == nil {
		listener = NoopListener{}
	}
	return &Reader{destDir: filepath.Clean(destDir), listener: listener}
}

// Write implements io.Writer. It is re-entrant across arbitrary chunk
// boundaries: a header or body split across two Write calls resumes
// correctly on the next call.
func (r *Reader) Write(chunk []byte) (int, error) {
	total := 0
	for total < len(chunk) {
		if r.done {
			return total, &ProtocolError{Details: "data received after trailer"}
		}
		switch r.state {
		case stateHeaderAcc:
			n := copy(r.headerBuf[r.headerOff:], chunk[total:])
			r.headerOff += n
			total += n
			if r.headerOff < blockSize {
				continue
			}
			if err := r.consumeHeader(); err != nil {
				return total, err
			}
		case stateBodyAcc:
			want := len(chunk) - total
			if uint64(want) > r.bodyRemaining {
				want = int(r.bodyRemaining)
			}
			if !r.currentSkip && want > 0 {
				if _, err := r.current.Write(chunk[total : total+want]); err != nil {
					return total, err
				}
			}
			total += want
			r.bodyRemaining -= uint64(want)
			r.currentRead += uint64(want)
			r.totalWritten += uint64(want)
			r.listener.FileProgress(r.currentInfo, r.currentRead)
			r.listener.TotalProgress(r.totalWritten)
			if r.bodyRemaining == 0 {
				if r.padRemaining > 0 {
					r.state = statePadAcc
				} else if err := r.finishEntry(); err != nil {
					return total, err
				}
			}
		case statePadAcc:
			want := len(chunk) - total
			if uint64(want) > r.padRemaining {
				want = int(r.padRemaining)
			}
			total += want
			r.padRemaining -= uint64(want)
			if r.padRemaining == 0 {
				if err := r.finishEntry(); err != nil {
					return total, err
				}
			}
		case stateDoneAcc:
			return total, &ProtocolError{Details: "data received after trailer"}
		}
	}
	return total, nil
}

// consumeHeader runs once headerBuf holds a full 512-byte block.
func (r *Reader) consumeHeader() error {
	defer func() { r.headerOff = 0 }()

	if isZeroBlock(r.headerBuf[:]) {
		r.state = stateDoneAcc
		r.done = true
		return nil
	}

	h, err := decodeHeader(r.headerBuf[:])
	if err != nil {
		return err
	}

	name := h.fullName()
	if strings.TrimSpace(name) == "" {
		return &ProtocolError{Details: "empty entry name"}
	}

	r.currentInfo = FileInfo{Name: name, Size: h.size}
	r.currentRead = 0
	r.bodyRemaining = h.size
	r.padRemaining = alignUp512(h.size) - h.size
	r.currentMtime = h.mtime

	if h.typeflag != typeRegular {
		r.currentSkip = true
		r.current = nil
		r.state = stateBodyAcc
		return nil
	}

	dest, err := r.resolvePath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	r.current = f
	r.currentPath = dest
	r.currentSkip = false
	r.listener.FileStart(r.currentInfo)
	r.state = stateBodyAcc
	return nil
}

// resolvePath joins name under destDir and rejects any result that would
// resolve outside it (the path-escape invariant).
func (r *Reader) resolvePath(name string) (string, error) {
	clean := filepath.Clean(filepath.Join(r.destDir, name))
	if clean != r.destDir && !strings.HasPrefix(clean, r.destDir+string(os.PathSeparator)) {
		return "", &UnsafePathError{Path: name}
	}
	return clean, nil
}

func (r *Reader) finishEntry() error {
	if r.current != nil {
		if err := r.current.Close(); err != nil {
			return err
		}
		if r.currentMtime > 0 {
			mtime := time.Unix(r.currentMtime, 0)
			_ = os.Chtimes(r.currentPath, mtime, mtime) // best-effort
		}
		r.listener.FileEnd(r.currentInfo)
		r.current = nil
	}
	r.state = stateHeaderAcc
	return nil
}

// Done reports whether the trailer has been consumed.
func (r *Reader) Done() bool { return r.done }
