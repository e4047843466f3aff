// Package tfa implements FlowDrop's streaming archive codec: a USTAR-like
// tar format with push/pull APIs designed to cross arbitrary network chunk
// boundaries, rather than the whole-file io.Reader/io.Writer shape the
// standard library's archive/tar assumes.
package tfa

import "io"

// FileInfo describes one archive entry for progress reporting: its
// archive-relative name and declared size.
type FileInfo struct {
	Name string
	Size uint64
}

// Listener receives progress callbacks from both Writer and Reader. All
// methods are optional to implement meaningfully; embed NoopListener to
// satisfy the interface without caring about every callback.
type Listener interface {
	TotalProgress(bytesSoFar uint64)
	FileStart(info FileInfo)
	FileProgress(info FileInfo, bytesInFile uint64)
	FileEnd(info FileInfo)
}

// NoopListener implements Listener with no-ops; embed it to pick only the
// callbacks that matter.
type NoopListener struct{}

func (NoopListener) TotalProgress(uint64)          {}
func (NoopListener) FileStart(FileInfo)            {}
func (NoopListener) FileProgress(FileInfo, uint64) {}
func (NoopListener) FileEnd(FileInfo)              {}

// Entry is the minimal readable input the writer streams into an archive.
// flowdrop.File satisfies this structurally; tfa never imports the root
// package, keeping the codec free of transfer-protocol concerns.
type Entry interface {
	Size() int64
	ModTime() int64
	Mode() uint32
	Seek(pos int64) error
	Read(buf []byte) (int, error)
}

// EntrySpec pairs an Entry with the archive-relative path it is stored
// under; the path is captured once at construction, independent of
// whatever the entry itself reports.
type EntrySpec struct {
	Entry Entry
	Name  string
}

type writerState int

const (
	stateHeader writerState = iota
	stateBody
	statePad
	stateTrailer
	stateDone
)

// Writer streams a manifest of entries into a TFA archive. It implements
// io.Reader, so it can be handed directly to anything that consumes a
// request body or copies into a socket.
type Writer struct {
	entries  []EntrySpec
	listener Listener

	idx   int
	state writerState

	header    [blockSize]byte
	headerOff int

	bodyRemaining uint64
	padRemaining  uint64
	trailerLeft   uint64

	currentInfo FileInfo
	currentRead uint64
	truncated   bool

	totalWritten uint64
	totalSize    uint64
}

// NewWriter validates every entry's name against the header's name/prefix
// width limits up front (so CalcSize never fails partway through a
// transfer) and prepares to stream the first entry.
func NewWriter(entries []EntrySpec, listener Listener) (*Writer, error) {
	if listener == nil {
		listener = NoopListener{}
	}
	var total uint64
	for _, e := range entries {
		if _, _, err := splitName(e.Name); err != nil {
			return nil, err
		}
		total += blockSize + alignUp512(uint64(e.Entry.Size())) // header + padded body
	}
	total += blockSize // trailer

	w := &Writer{entries: entries, listener: listener, totalSize: total}
	w.advance()
	return w, nil
}

// CalcSize returns the total byte length of the archive: the mandatory
// Content-Length for a send request.
func (w *Writer) CalcSize() uint64 {
	return w.totalSize
}

// advance moves to the next entry's header, or to the trailer once every
// entry has been emitted.
func (w *Writer) advance() {
	if w.idx >= len(w.entries) {
		w.state = stateTrailer
		w.trailerLeft = blockSize
		return
	}
	spec := w.entries[w.idx]
	hdr, err := encodeHeader(spec.Name, spec.Entry.Mode(), uint64(spec.Entry.Size()), spec.Entry.ModTime())
	if err != nil {
		// Validated in NewWriter; unreachable in practice.
		hdr, _ = encodeHeader("", 0, 0, 0)
	}
	w.header = hdr
	w.headerOff = 0
	w.bodyRemaining = uint64(spec.Entry.Size())
	w.padRemaining = alignUp512(uint64(spec.Entry.Size())) - uint64(spec.Entry.Size())
	w.currentInfo = FileInfo{Name: spec.Name, Size: uint64(spec.Entry.Size())}
	w.currentRead = 0
	w.truncated = false
	w.state = stateHeader
	w.listener.FileStart(w.currentInfo)
}

// Read implements io.Reader, advancing the header/body/pad/trailer state
// machine across as many bytes of p as are available. It returns (0,
// io.EOF) only once the trailer has been fully emitted.
func (w *Writer) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		switch w.state {
		case stateHeader:
			n := copy(p[total:], w.header[w.headerOff:])
			w.headerOff += n
			total += n
			if w.headerOff == blockSize {
				w.state = stateBody
			}
		case stateBody:
			if w.bodyRemaining == 0 {
				if w.padRemaining > 0 {
					w.state = statePad
				} else {
					w.finishEntry()
				}
				continue
			}
			want := len(p) - total
			if uint64(want) > w.bodyRemaining {
				want = int(w.bodyRemaining)
			}
			if w.truncated {
				for i := 0; i < want; i++ {
					p[total+i] = 0
				}
				total += want
				w.bodyRemaining -= uint64(want)
				continue
			}
			readN, err := w.entries[w.idx].Entry.Read(p[total : total+want])
			if readN > 0 {
				total += readN
				w.bodyRemaining -= uint64(readN)
				w.currentRead += uint64(readN)
				w.totalWritten += uint64(readN)
				w.listener.FileProgress(w.currentInfo, w.currentRead)
				w.listener.TotalProgress(w.totalWritten)
			}
			if err != nil {
				w.truncated = true
			}
		case statePad:
			want := len(p) - total
			if uint64(want) > w.padRemaining {
				want = int(w.padRemaining)
			}
			for i := 0; i < want; i++ {
				p[total+i] = 0
			}
			total += want
			w.padRemaining -= uint64(want)
			if w.padRemaining == 0 {
				w.finishEntry()
			}
		case stateTrailer:
			want := len(p) - total
			if uint64(want) > w.trailerLeft {
				want = int(w.trailerLeft)
			}
			for i := 0; i < want; i++ {
				p[total+i] = 0
			}
			total += want
			w.trailerLeft -= uint64(want)
			if w.trailerLeft == 0 {
				w.state = stateDone
			}
		case stateDone:
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
	}
	return total, nil
}

func (w *Writer) finishEntry() {
	w.listener.FileEnd(w.currentInfo)
	w.idx++
	w.advance()
}
