// Package filter decides which raw messages are exported, using regular
// expressions over the header block and the body.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

type mode int

const (
	modeOff mode = iota
	modeInclude
	modeExclude
)

type part int

const (
	partHeader part = iota
	partBody
)

type rule struct {
	name string
	part part
	re   *regexp.Regexp
	hits atomic.Int64
}

// Filter is either an allow-list or a block-list. It is safe for
// concurrent use.
type Filter struct {
	mode  mode
	rules []*rule

	needHeader bool
	needBody   bool
}

// Verdict is the outcome for one message. Rule names the first pattern that
// decided it, as "<flag>: <pattern>".
type Verdict struct {
	Allowed bool
	Rule    string
}

// Stats reports how often each pattern matched.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeBodyPatterns   []string
	ExcludeHeaderPatterns []string
	ExcludeBodyPatterns   []string

	IncludeHeaderHits map[string]int
	IncludeBodyHits   map[string]int
	ExcludeHeaderHits map[string]int
	ExcludeBodyHits   map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	groups := []struct {
		name     string
		part     part
		include  bool
		patterns []string
	}{
		{"include-header", partHeader, true, opts.IncludeHeader},
		{"include-body", partBody, true, opts.IncludeBody},
		{"exclude-header", partHeader, false, opts.ExcludeHeader},
		{"exclude-body", partBody, false, opts.ExcludeBody},
	}

	f := &Filter{}
	for _, g := range groups {
		compiled, err := compilePatterns(g.patterns)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern: %w", g.name, err)
		}
		if len(compiled) == 0 {
			continue
		}

		want := modeExclude
		if g.include {
			want = modeInclude
		}
		if f.mode != modeOff && f.mode != want {
			return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
		}
		f.mode = want

		for _, re := range compiled {
			f.rules = append(f.rules, &rule{name: g.name, part: g.part, re: re})
		}
		if g.part == partHeader {
			f.needHeader = true
		} else {
			f.needBody = true
		}
	}
	return f, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.mode != modeOff
}

// AllowsMessage applies the filter to a raw RFC 5322 message.
func (f *Filter) AllowsMessage(raw []byte) bool {
	return f.Check(raw).Allowed
}

// Check applies the filter to a raw message and says which rule decided.
func (f *Filter) Check(raw []byte) Verdict {
	if !f.Active() {
		return Verdict{Allowed: true}
	}
	header, body := SplitRawMessage(raw)
	return f.check(header, body)
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	return f.check(header, body).Allowed
}

// check counts a hit for every matching rule, not just the deciding one.
func (f *Filter) check(header, body []byte) Verdict {
	if f.mode == modeOff {
		return Verdict{Allowed: true}
	}

	var headerText, bodyText string
	if f.needHeader {
		headerText = string(header)
	}
	if f.needBody {
		bodyText = string(body)
	}

	first := ""
	for _, r := range f.rules {
		text := headerText
		if r.part == partBody {
			text = bodyText
		}
		if !r.re.MatchString(text) {
			continue
		}
		r.hits.Add(1)
		if first == "" {
			first = r.name + ": " + r.re.String()
		}
	}

	matched := first != ""
	if f.mode == modeInclude {
		return Verdict{Allowed: matched, Rule: first}
	}
	return Verdict{Allowed: !matched, Rule: first}
}

// GetStats returns a snapshot of the pattern hit counts.
func (f *Filter) GetStats() Stats {
	s := Stats{
		IncludeHeaderHits: map[string]int{},
		IncludeBodyHits:   map[string]int{},
		ExcludeHeaderHits: map[string]int{},
		ExcludeBodyHits:   map[string]int{},
	}
	for _, r := range f.rules {
		pattern, hits := r.re.String(), int(r.hits.Load())
		switch r.name {
		case "include-header":
			s.IncludeHeaderPatterns = append(s.IncludeHeaderPatterns, pattern)
			s.IncludeHeaderHits[pattern] = hits
		case "include-body":
			s.IncludeBodyPatterns = append(s.IncludeBodyPatterns, pattern)
			s.IncludeBodyHits[pattern] = hits
		case "exclude-header":
			s.ExcludeHeaderPatterns = append(s.ExcludeHeaderPatterns, pattern)
			s.ExcludeHeaderHits[pattern] = hits
		case "exclude-body":
			s.ExcludeBodyPatterns = append(s.ExcludeBodyPatterns, pattern)
			s.ExcludeBodyHits[pattern] = hits
		}
	}
	return s
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
