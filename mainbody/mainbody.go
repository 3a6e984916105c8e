// Package mainbody isolates the newly written part of a reply: quoted
// history, leading greetings and trailing signatures are cut away.
package mainbody

import (
	"strings"
	"unicode/utf8"

	"github.com/dhcgn/mailbox-export/model"
)

// LineCutoff is the rune length a greeting or farewell line must exceed
// before it is removed.
const LineCutoff = 20

var (
	// delimiters mark the start of quoted or forwarded history.
	delimiters = []string{"\nFrom:", "\n>", "\nOn", "\n\n20"}

	greetings = []string{"hi", "dear", "hello", "szia", "hope you are"}
	farewells = []string{"best", "regards", "kind", "looking forward"}
)

const (
	greetingLines = 2
	farewellLines = 3
)

// Extract returns the main body of text and its word count.
func Extract(text string) model.MainBody {
	body := strings.TrimSpace(cutHistory(text))
	if body == "" {
		return model.MainBody{}
	}

	lines := strings.SplitAfter(body, "\n")
	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		lower := strings.ToLower(line)
		long := utf8.RuneCountInString(line) > LineCutoff
		if long && i >= len(lines)-farewellLines && containsAny(lower, farewells) {
			break
		}
		if long && i < greetingLines && containsAny(lower, greetings) {
			continue
		}
		kept = append(kept, line)
	}

	main := strings.TrimSpace(strings.Join(kept, ""))
	return model.MainBody{Text: main, Words: len(strings.Fields(main))}
}

func cutHistory(text string) string {
	for _, delim := range delimiters {
		if before, _, found := strings.Cut(text, delim); found {
			text = before
		}
	}
	return text
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
