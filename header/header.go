// Package header interprets the From, To, Subject and Date fields of a
// message into the flat strings used for export and deduplication.
package header

import (
	"mime"
	"strings"

	"github.com/emersion/go-message"

	"github.com/dhcgn/mailbox-export/decode"
	"github.com/dhcgn/mailbox-export/model"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: decode.CharsetReader}

// Interpret extracts the exported header fields from h.
func Interpret(h message.Header) model.Header {
	var out model.Header

	for _, field := range []string{"From", "To", "Subject", "Date"} {
		if !h.Has(field) {
			out.Missing = append(out.Missing, field)
		}
	}

	out.Sender = Sender(h.Get("From"))
	out.Recipients = Recipients(h.Get("To"))
	out.Subject = Subject(h.Get("Subject"))

	parts := SplitDate(h.Get("Date"))
	out.Date = parts.Date
	out.Time = parts.Time
	out.Zone = parts.Zone

	return out
}

// Subject decodes RFC 2047 encoded words. Undecodable input is returned raw.
func Subject(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Sender returns the address between the first '<' and the following '>'.
// Headers without an angle address are returned raw.
func Sender(from string) string {
	address, found, _ := angleAddress(from)
	if !found {
		return from
	}
	return address
}

// Recipients splits a To header on commas and keeps the angle address of
// each segment, or the segment as written when it has none. A segment
// with an unterminated angle address makes the whole header fall back to
// its raw form.
func Recipients(to string) string {
	segments := strings.Split(to, ",")
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		if !strings.Contains(segment, "<") {
			out = append(out, segment)
			continue
		}
		address, _, closed := angleAddress(segment)
		if !closed {
			return to
		}
		out = append(out, address)
	}
	return strings.Join(out, ",")
}

func angleAddress(s string) (address string, found, closed bool) {
	_, rest, found := strings.Cut(s, "<")
	if !found {
		return "", false, false
	}
	address, _, closed = strings.Cut(rest, ">")
	return address, true, closed
}
