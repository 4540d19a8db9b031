package content

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// minDetectConfidence is the chardet confidence below which a guess is ignored.
const minDetectConfidence = 10

// Decode converts raw bytes to text and never fails. UTF-8 is tried first,
// then a statistical charset guess, then Latin-1. When truncated is set the
// sample was cut from a longer file and a partial trailing rune is dropped
// before the UTF-8 check.
func Decode(data []byte, truncated bool) string {
	candidate := data
	if truncated {
		candidate = trimPartialRune(candidate)
	}
	if utf8.Valid(candidate) {
		return strings.TrimPrefix(string(candidate), "\ufeff")
	}

	if s, ok := decodeDetected(data); ok {
		return s
	}

	s, err := charmap.ISO8859_1.NewDecoder().String(string(data))
	if err != nil {
		return strings.ToValidUTF8(string(data), "\ufffd")
	}
	return s
}

func decodeDetected(data []byte) (string, bool) {
	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res == nil || res.Confidence < minDetectConfidence {
		return "", false
	}
	if strings.EqualFold(res.Charset, "UTF-8") {
		return "", false
	}
	enc, err := htmlindex.Get(res.Charset)
	if err != nil || enc == nil {
		return "", false
	}
	s, err := enc.NewDecoder().String(string(data))
	if err != nil {
		return "", false
	}
	return s, true
}

func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}
