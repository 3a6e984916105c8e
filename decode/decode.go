// Package decode turns message payload bytes into clean UTF-8 text.
//
// Decoding never fails: unknown charsets and invalid byte sequences fall
// back to UTF-8 with U+FFFD substituted for the offending bytes.
package decode

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Replacement is substituted for undecodable input.
const Replacement = "�"

var ErrUnknownCharset = errors.New("unknown charset")

var controlChars = strings.NewReplacer("\r", "", "\t", "")

// Decode converts payload to text using the declared charset label and
// strips carriage returns and tabs. An empty label means UTF-8.
func Decode(payload []byte, charset string) string {
	return controlChars.Replace(toUTF8(payload, charset))
}

func toUTF8(payload []byte, charset string) string {
	if enc := Lookup(charset); enc != nil {
		out, err := enc.NewDecoder().Bytes(payload)
		if err == nil {
			return strings.ToValidUTF8(string(out), Replacement)
		}
	}
	return strings.ToValidUTF8(string(payload), Replacement)
}

// Lookup resolves a charset label to an encoding, or nil when the label is
// empty or unknown.
func Lookup(charset string) encoding.Encoding {
	label := strings.ToLower(strings.Trim(strings.TrimSpace(charset), `"'`))
	if label == "" {
		return nil
	}
	if enc, err := htmlindex.Get(label); err == nil {
		return enc
	}
	if enc, err := ianaindex.MIME.Encoding(label); err == nil && enc != nil {
		return enc
	}
	return nil
}

// CharsetReader has the signature expected by mime.WordDecoder.
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc := Lookup(charset)
	if enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, charset)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
