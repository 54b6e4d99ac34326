package codec

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Text encodings a database may persist its snapshots in
const (
	UTF8   = "utf-8"
	UTF16  = "utf-16"
	Latin1 = "latin-1"
	ASCII  = "ascii"
)

// DefaultEncoding is used when a database does not name one
const DefaultEncoding = UTF8

var supportedEncodings = []string{UTF8, UTF16, Latin1, ASCII}

// SupportedEncodings lists the allow-list of common text encodings
func SupportedEncodings() []string {
	out := make([]string, len(supportedEncodings))
	copy(out, supportedEncodings)
	return out
}

// ValidEncoding reports whether name is on the allow-list
func ValidEncoding(name string) bool {
	for _, e := range supportedEncodings {
		if e == name {
			return true
		}
	}
	return false
}

// charset transcodes UTF-8 JSON text to and from the on-disk encoding
type charset interface {
	encode(utf8Text []byte) ([]byte, error)
	decode(raw []byte) ([]byte, error)
}

func lookupCharset(name string) (charset, error) {
	switch strings.ToLower(name) {
	case "", UTF8:
		return identity{}, nil
	case UTF16:
		// BOM-prefixed little endian, readable in either byte order
		return xtext{enc: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)}, nil
	case Latin1:
		return xtext{enc: charmap.ISO8859_1}, nil
	case ASCII:
		return asciiCharset{}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

type identity struct{}

func (identity) encode(b []byte) ([]byte, error) { return b, nil }
func (identity) decode(b []byte) ([]byte, error) { return b, nil }

type xtext struct {
	enc encoding.Encoding
}

func (x xtext) encode(b []byte) ([]byte, error) {
	return x.enc.NewEncoder().Bytes(b)
}

func (x xtext) decode(b []byte) ([]byte, error) {
	return x.enc.NewDecoder().Bytes(b)
}

// asciiCharset escapes every non-ASCII rune as a JSON \u sequence on the way out,
// which keeps the document valid JSON, and refuses non-ASCII bytes on the way in.
type asciiCharset struct{}

func (asciiCharset) encode(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		switch {
		case r < utf8.RuneSelf:
			buf.WriteByte(byte(r))
		case r > 0xFFFF:
			// surrogate pair
			r -= 0x10000
			fmt.Fprintf(&buf, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		default:
			fmt.Fprintf(&buf, `\u%04x`, r)
		}
	}
	return buf.Bytes(), nil
}

func (asciiCharset) decode(b []byte) ([]byte, error) {
	for i, c := range b {
		if c >= utf8.RuneSelf {
			return nil, fmt.Errorf("non-ascii byte 0x%02x at offset %d", c, i)
		}
	}
	return b, nil
}
