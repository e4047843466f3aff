package tfa

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// memEntry is an in-memory Entry for round-trip tests.
type memEntry struct {
	data  []byte
	pos   int
	mode  uint32
	mtime int64
}

func (m *memEntry) Size() int64     { return int64(len(m.data)) }
func (m *memEntry) ModTime() int64  { return m.mtime }
func (m *memEntry) Mode() uint32    { return m.mode }
func (m *memEntry) Seek(pos int64) error {
	m.pos = int(pos)
	return nil
}
func (m *memEntry) Read(buf []byte) (int, error) {
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(buf, m.data[m.pos:])
	m.pos += n
	return n, nil
}

type recordingListener struct {
	starts []FileInfo
	ends   []FileInfo
}

func (l *recordingListener) TotalProgress(uint64)           {}
func (l *recordingListener) FileStart(info FileInfo)        { l.starts = append(l.starts, info) }
func (l *recordingListener) FileProgress(FileInfo, uint64)  {}
func (l *recordingListener) FileEnd(info FileInfo)          { l.ends = append(l.ends, info) }

func TestRoundTripSingleFile(t *testing.T) {
	content := bytes.Repeat([]byte("flowdrop"), 100) // 800 bytes, spans multiple blocks
	entries := []EntrySpec{{Entry: &memEntry{data: content, mode: 0o644, mtime: 1700000000}, Name: "report.txt"}}

	w, err := NewWriter(entries, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	size := w.CalcSize()

	archive, err := io.ReadAll(w)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if uint64(len(archive)) != size {
		t.Fatalf("archive length %d != CalcSize %d", len(archive), size)
	}

	dir := t.TempDir()
	listener := &recordingListener{}
	r := NewReader(dir, listener)
	if _, err := r.Write(archive); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !r.Done() {
		t.Fatal("reader did not reach DONE")
	}

	got, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	if err != nil {
		t.Fatalf("read output file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("round-tripped content does not match")
	}
	if len(listener.starts) != 1 || len(listener.ends) != 1 {
		t.Fatalf("expected 1 start/end callback, got %d/%d", len(listener.starts), len(listener.ends))
	}
}

func TestFeedAcrossArbitraryChunkBoundaries(t *testing.T) {
	entries := []EntrySpec{
		{Entry: &memEntry{data: []byte("hello world"), mode: 0o644}, Name: "a.txt"},
		{Entry: &memEntry{data: bytes.Repeat([]byte{'x'}, 1000), mode: 0o644}, Name: "nested/b.bin"},
	}
	w, err := NewWriter(entries, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	archive, err := io.ReadAll(w)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}

	dir := t.TempDir()
	r := NewReader(dir, nil)
	// Feed in awkward 7-byte chunks, spanning headers and bodies alike.
	for off := 0; off < len(archive); off += 7 {
		end := off + 7
		if end > len(archive) {
			end = len(archive)
		}
		if _, err := r.Write(archive[off:end]); err != nil {
			t.Fatalf("Write chunk [%d:%d]: %v", off, end, err)
		}
	}
	if !r.Done() {
		t.Fatal("reader did not reach DONE")
	}

	a, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil || string(a) != "hello world" {
		t.Fatalf("a.txt mismatch: %q, err=%v", a, err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "nested", "b.bin"))
	if err != nil || len(b) != 1000 {
		t.Fatalf("nested/b.bin mismatch: len=%d, err=%v", len(b), err)
	}
}

func TestReaderRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	r := NewReader(dir, nil)

	hdr, err := encodeHeader("../escape.txt", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("encodeHeader: %v", err)
	}
	if _, err := r.Write(hdr[:]); err == nil {
		t.Fatal("expected UnsafePathError for escaping entry")
	} else if _, ok := err.(*UnsafePathError); !ok {
		t.Fatalf("expected *UnsafePathError, got %T: %v", err, err)
	}
}

func TestReaderRejectsDataAfterTrailer(t *testing.T) {
	w, err := NewWriter(nil, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	archive, err := io.ReadAll(w)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if uint64(len(archive)) != blockSize {
		t.Fatalf("empty archive should be exactly one trailer block, got %d bytes", len(archive))
	}

	dir := t.TempDir()
	r := NewReader(dir, nil)
	if _, err := r.Write(archive); err != nil {
		t.Fatalf("Write trailer: %v", err)
	}
	if _, err := r.Write([]byte{0x01}); err == nil {
		t.Fatal("expected ProtocolError for data after trailer")
	}
}

func TestEntryNameTooLongFailsFast(t *testing.T) {
	longName := ""
	for i := 0; i < 30; i++ {
		longName += "a-long-path-segment/"
	}
	longName += "file.bin"

	_, err := NewWriter([]EntrySpec{{Entry: &memEntry{data: []byte("x")}, Name: longName}}, nil)
	if err == nil {
		t.Fatal("expected EntryTooLongError")
	}
	if _, ok := err.(*EntryTooLongError); !ok {
		t.Fatalf("expected *EntryTooLongError, got %T", err)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	entries := []EntrySpec{{Entry: &memEntry{data: []byte("hi"), mode: 0o644}, Name: "f.txt"}}
	w, err := NewWriter(entries, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	archive, err := io.ReadAll(w)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	archive[10] ^= 0xFF // corrupt a byte inside the header's name field

	r := NewReader(t.TempDir(), nil)
	if _, err := r.Write(archive); err == nil {
		t.Fatal("expected checksum error on corrupted header")
	}
}

func TestSplitNameShortNameUnsplit(t *testing.T) {
	prefix, name, err := splitName("a/b/c")
	if err != nil || prefix != "" || name != "a/b/c" {
		t.Fatalf("short name should pass through unsplit: prefix=%q name=%q err=%v", prefix, name, err)
	}
}
