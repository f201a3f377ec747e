package decoder

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns successive byte chunks into UTF-8 text. An incomplete trailing
// multi-byte sequence is held until the next chunk completes it. Malformed
// bytes decode to U+FFFD. A Decoder is not safe for concurrent use; one
// session owns one Decoder.
type Decoder struct {
	dec     *encoding.Decoder
	pending []byte
	buf     []byte
}

// New returns a Decoder with empty state.
func New() *Decoder {
	return &Decoder{dec: unicode.UTF8.NewDecoder()}
}

// Decode consumes one chunk and returns the text it completes.
func (d *Decoder) Decode(chunk []byte) string {
	if len(chunk) == 0 {
		return ""
	}
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}
	return d.transform(src, false)
}

// Finish flushes residual bytes (rendered as U+FFFD) and resets the Decoder
// so it can serve another stream.
func (d *Decoder) Finish() string {
	src := d.pending
	d.pending = nil
	out := ""
	if len(src) > 0 {
		out = d.transform(src, true)
	}
	d.dec.Reset()
	return out
}

// Pending reports how many bytes are waiting for the rest of their sequence.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

func (d *Decoder) transform(src []byte, atEOF bool) string {
	// Worst case every byte becomes a three-byte replacement rune.
	if need := 3*len(src) + utf8.UTFMax; cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	dst := d.buf[:cap(d.buf)]

	var out []byte
	for len(src) > 0 {
		nDst, nSrc, err := d.dec.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch {
		case err == nil:
			// Transformer consumed everything it could.
			if nSrc == 0 {
				src = nil
			}
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			src = nil
		case errors.Is(err, transform.ErrShortDst):
			if nSrc == 0 && nDst == 0 {
				dst = make([]byte, 2*len(dst))
			}
		default:
			// The UTF-8 decoder replaces instead of failing; keep going byte by byte.
			out = append(out, string(utf8.RuneError)...)
			src = src[1:]
		}
	}
	return string(out)
}
