package content

import (
	"io"
	"os"
	"strings"
)

// LooksBinary reads up to sample bytes from path and reports whether the
// fraction of control bytes (below 0x09, or between 0x0D and 0x20 exclusive)
// exceeds threshold. An empty file is text. A read error counts as binary so
// the caller skips the file.
func LooksBinary(path string, sample int, threshold float64) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, sample)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return true
	}
	return binaryRatio(buf[:n]) > threshold
}

func binaryRatio(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	control := 0
	for _, b := range chunk {
		if b < 9 || (13 < b && b < 32) {
			control++
		}
	}
	return float64(control) / float64(len(chunk))
}

// SplitName splits a base name into a lower-cased stem and extension using
// the same rules as most path libraries: the extension is the final
// dot-suffix, and a leading dot does not start one (".env" has no extension).
func SplitName(base string) (stem, ext string) {
	base = strings.ToLower(base)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 || i == len(base)-1 {
		return base, ""
	}
	return base[:i], base[i:]
}
