package tfa

import (
	"fmt"
	"strconv"
	"strings"
)

// blockSize is the fixed header and padding unit of the archive format: one
// 512-byte header per entry, body padded to a multiple of 512, and a single
// 512-byte zero block terminating the stream.
const blockSize = 512

// Field offsets and widths of the USTAR-like header, all fixed-width ASCII
// and NUL-padded, matching POSIX ustar layout byte-for-byte.
const (
	offName     = 0
	lenName     = 100
	offMode     = 100
	lenMode     = 8
	offUID      = 108
	lenUID      = 8
	offGID      = 116
	lenGID      = 8
	offSize     = 124
	lenSize     = 12
	offMtime    = 136
	lenMtime    = 12
	offChecksum = 148
	lenChecksum = 8
	offTypeflag = 156
	lenTypeflag = 1
	offLinkname = 157
	lenLinkname = 100
	offMagic    = 257
	lenMagic    = 6
	offVersion  = 263
	lenVersion  = 2
	offUname    = 265
	lenUname    = 32
	offGname    = 297
	lenGname    = 32
	offDevmajor = 329
	lenDevmajor = 8
	offDevminor = 337
	lenDevminor = 8
	offPrefix   = 345
	lenPrefix   = 155
)

const (
	ustarMagic   = "ustar"
	ustarVersion = "00"

	typeRegular = '0'
)

// header is the decoded form of one 512-byte archive header block.
type header struct {
	name     string
	prefix   string
	mode     uint32
	size     uint64
	mtime    int64
	typeflag byte
}

// fullName joins prefix and name the way splitName divided them.
func (h header) fullName() string {
	if h.prefix == "" {
		return h.name
	}
	return h.prefix + "/" + h.name
}

// splitName divides a relative archive path into the header's name and
// prefix fields, splitting at a '/' boundary when name alone would overflow
// the 100-byte name field. Returns EntryTooLongError if no split fits.
func splitName(path string) (prefix, name string, err error) {
	if len(path) <= lenName {
		return "", path, nil
	}
	if len(path) > lenPrefix+1+lenName {
		return "", "", &EntryTooLongError{Name: path}
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] != '/' {
			continue
		}
		p, n := path[:i], path[i+1:]
		if len(p) <= lenPrefix && len(n) <= lenName && len(n) > 0 {
			return p, n, nil
		}
	}
	return "", "", &EntryTooLongError{Name: path}
}

func putOctal(buf []byte, off, width int, value uint64) {
	digits := strconv.FormatUint(value, 8)
	if len(digits) > width-1 {
		digits = digits[len(digits)-(width-1):]
	}
	for i := range width {
		buf[off+i] = 0
	}
	start := off + (width - 1) - len(digits)
	for i := off; i < start; i++ {
		buf[i] = '0'
	}
	copy(buf[start:], digits)
}

func putString(buf []byte, off, width int, s string) {
	n := copy(buf[off:off+width], s)
	for i := off + n; i < off+width; i++ {
		buf[i] = 0
	}
}

func parseOctal(field []byte) uint64 {
	s := strings.TrimRight(string(field), "\x00 ")
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseUint(s, 8, 64)
	return v
}

func parseString(field []byte) string {
	i := 0
	for i < len(field) && field[i] != 0 {
		i++
	}
	return string(field[:i])
}

// encodeHeader builds one 512-byte header block for an entry, with the
// checksum field computed last per POSIX ustar convention (sum of all 512
// bytes with the checksum field itself treated as eight ASCII spaces).
func encodeHeader(path string, mode uint32, size uint64, mtime int64) ([blockSize]byte, error) {
	var buf [blockSize]byte
	prefix, name, err := splitName(path)
	if err != nil {
		return buf, err
	}

	putString(buf[:], offName, lenName, name)
	putOctal(buf[:], offMode, lenMode, uint64(mode))
	putOctal(buf[:], offUID, lenUID, 0)
	putOctal(buf[:], offGID, lenGID, 0)
	putOctal(buf[:], offSize, lenSize, size)
	if mtime < 0 {
		mtime = 0
	}
	putOctal(buf[:], offMtime, lenMtime, uint64(mtime))
	buf[offTypeflag] = typeRegular
	putString(buf[:], offMagic, lenMagic, ustarMagic)
	putString(buf[:], offVersion, lenVersion, ustarVersion)
	putString(buf[:], offPrefix, lenPrefix, prefix)

	sum := checksum(buf[:])
	digits := fmt.Sprintf("%06o", sum&0o777777)
	copy(buf[offChecksum:offChecksum+6], digits)
	buf[offChecksum+6] = 0
	buf[offChecksum+7] = ' '

	return buf, nil
}

// decodeHeader parses one 512-byte header block, verifying its checksum.
// isZeroBlock should be checked by the caller first; an all-zero block is
// the archive trailer, not a malformed header.
func decodeHeader(block []byte) (header, error) {
	want := parseOctal(block[offChecksum : offChecksum+lenChecksum])
	got := checksum(block)
	if want != got {
		return header{}, &ChecksumError{Name: parseString(block[offName : offName+lenName])}
	}

	h := header{
		name:     parseString(block[offName : offName+lenName]),
		prefix:   parseString(block[offPrefix : offPrefix+lenPrefix]),
		mode:     uint32(parseOctal(block[offMode : offMode+lenMode])),
		size:     parseOctal(block[offSize : offSize+lenSize]),
		mtime:    int64(parseOctal(block[offMtime : offMtime+lenMtime])),
		typeflag: block[offTypeflag],
	}
	return h, nil
}

// checksum sums every byte of block treating the checksum field as spaces.
func checksum(block []byte) uint64 {
	var sum uint64
	for i, b := range block {
		if i >= offChecksum && i < offChecksum+lenChecksum {
			sum += uint64(' ')
			continue
		}
		sum += uint64(b)
	}
	return sum
}

func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

func alignUp512(n uint64) uint64 {
	return (n + blockSize - 1) / blockSize * blockSize
}
