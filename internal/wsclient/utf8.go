package wsclient

import (
	"strings"
	"unicode/utf8"
)

// incrementalDecoder turns successive raw PTY output chunks into valid UTF-8
// text, carrying an incomplete trailing multi-byte sequence over to the
// next chunk instead of splitting it across two stdout frames (spec §4.4:
// "implementations MUST NOT split a UTF-8 multi-byte sequence across two
// stdout frames"). Invalid byte sequences are replaced rather than dropped,
// matching spec §6's "UTF-8-decoded with replacement for invalid bytes".
//
// Grounded on unicode/utf8: no library in the retrieved corpus offers
// incremental (streaming, chunk-boundary-safe) UTF-8 decoding with
// replacement — golang.org/x/text/encoding/unicode targets UTF-16/BOM
// transcoding, not this. DESIGN.md records this as a stdlib choice.
type incrementalDecoder struct {
	pending []byte
}

// Decode consumes chunk together with any carried-over bytes and returns
// the text safe to emit now. Bytes that might still complete a valid rune
// with more input are held back in d.pending.
func (d *incrementalDecoder) Decode(chunk []byte) string {
	buf := append(d.pending, chunk...)
	d.pending = nil

	var sb strings.Builder
	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r == utf8.RuneError && size <= 1 {
			if len(buf) < utf8.UTFMax && !utf8.FullRune(buf) {
				d.pending = append(d.pending, buf...)
				break
			}
			sb.WriteRune(utf8.RuneError)
			buf = buf[1:]
			continue
		}
		sb.WriteRune(r)
		buf = buf[size:]
	}
	return sb.String()
}

// Flush emits any carried-over bytes as replacement characters, used when
// the session is tearing down and no further chunks will arrive to
// complete a pending sequence.
func (d *incrementalDecoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	var sb strings.Builder
	for range d.pending {
		sb.WriteRune(utf8.RuneError)
	}
	d.pending = nil
	return sb.String()
}
