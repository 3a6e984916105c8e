// Package htmltext converts HTML payloads to plain text and removes the
// markup residue left behind by that conversion.
package htmltext

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// markers are the tags whose presence marks text as still containing HTML.
var markers = []string{
	"<head>",
	"<body>",
	"<tr>",
	"<title>",
	"<html>",
	"<h1>",
	"<p>",
	"<li>",
	"<div>",
	"<table>",
	"<td>",
	"<br",
}

var junk = strings.NewReplacer("|", "", "#", "", "[", "", "]", "")

// ToText converts an HTML document to text.
func ToText(html string) (string, error) {
	text, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return text, nil
}

// ContainsMarkup reports whether text contains one of the HTML marker tags.
func ContainsMarkup(text string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Normalize re-converts text that still carries HTML markup. On conversion
// failure the input is returned unchanged.
func Normalize(text string, logger *slog.Logger) string {
	if !ContainsMarkup(text) {
		return text
	}
	converted, err := ToText(text)
	if err != nil {
		if logger != nil {
			logger.Warn("html normalization failed, keeping original text", "err", err)
		}
		return text
	}
	return converted
}

// StripJunk removes table, heading and link punctuation plus horizontal
// rules, then trims leading whitespace and exclamation marks.
func StripJunk(text string) string {
	text = junk.Replace(text)
	text = strings.ReplaceAll(text, "---", "")
	return strings.TrimLeftFunc(text, func(r rune) bool {
		return r == '!' || unicode.IsSpace(r)
	})
}
