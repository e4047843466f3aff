package flowdrop

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// NativeFile adapts an os.File on disk to the File interface, deriving
// relative_path from a root directory the same way a caller collecting a
// send manifest would walk a tree. Metadata lookup (FileMetadata) is an
// out-of-scope collaborator per this library's scope; callers needing
// platform-specific creation-time semantics provide their own File.
type NativeFile struct {
	f            *os.File
	relativePath string
	size         uint64
	createdTime  int64
	modifiedTime int64
	perm         fs.FileMode
}

// OpenNativeFile opens path for reading and derives relativePath by
// trimming root as a prefix; modified_time comes from the filesystem,
// while created_time is not read from the platform and is set to the
// current time.
func OpenNativeFile(root, path string) (*NativeFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	created, modified := fillZeroTimestamps(0, info.ModTime().Unix())
	return &NativeFile{
		f:            f,
		relativePath: rel,
		size:         uint64(info.Size()),
		createdTime:  created,
		modifiedTime: modified,
		perm:         info.Mode().Perm(),
	}, nil
}

func (n *NativeFile) RelativePath() string  { return n.relativePath }
func (n *NativeFile) Size() uint64          { return n.size }
func (n *NativeFile) CreatedTime() int64    { return n.createdTime }
func (n *NativeFile) ModifiedTime() int64   { return n.modifiedTime }
func (n *NativeFile) Permissions() fs.FileMode { return n.perm }

func (n *NativeFile) Seek(pos uint64) error {
	_, err := n.f.Seek(int64(pos), 0)
	return err
}

func (n *NativeFile) Read(buf []byte) (int, error) {
	return n.f.Read(buf)
}

// Close releases the underlying os.File. The sender is responsible for
// calling this once a send completes or fails; the core never closes
// caller-owned Files itself.
func (n *NativeFile) Close() error {
	return n.f.Close()
}

// nowUnix centralises "now" so zero-valued timestamps (spec.md §3: "zero
// if unknown, then filled with now") have one source of truth.
func nowUnix() int64 {
	return time.Now().Unix()
}

func fillZeroTimestamps(created, modified int64) (int64, int64) {
	now := nowUnix()
	if created == 0 {
		created = now
	}
	if modified == 0 {
		modified = now
	}
	return created, modified
}
