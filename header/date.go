package header

import "strings"

// DateParts is the Date header split into its exported pieces.
type DateParts struct {
	Date string
	Time string
	Zone string

	// Layout names the strategy that matched, empty when none did.
	Layout string
}

type dateLayout struct {
	name string
	// tokens returns the space separated fields to read from.
	tokens func(raw string) ([]string, bool)
	// dayIndex is the token index where the day-month-year run starts.
	dayIndex int
}

// dateLayouts are tried in order; the first that yields enough fields wins.
var dateLayouts = []dateLayout{
	{name: "comma-double-space", tokens: afterSeparator(",  "), dayIndex: 0},
	{name: "comma-single-space", tokens: afterSeparator(", "), dayIndex: 0},
	{name: "no-weekday", tokens: func(raw string) ([]string, bool) {
		return strings.Split(raw, " "), raw != ""
	}, dayIndex: 1},
}

func afterSeparator(sep string) func(string) ([]string, bool) {
	return func(raw string) ([]string, bool) {
		parts := strings.Split(raw, sep)
		if len(parts) < 2 {
			return nil, false
		}
		return strings.Split(parts[1], " "), true
	}
}

func (l dateLayout) parse(raw string) (DateParts, bool) {
	tokens, ok := l.tokens(raw)
	if !ok || len(tokens) < 4 {
		return DateParts{}, false
	}
	parts := DateParts{
		Date:   strings.Join(tokens[l.dayIndex:3], " "),
		Time:   tokens[3],
		Layout: l.name,
	}
	if len(tokens) > 5 {
		parts.Zone = strings.NewReplacer("(", "", ")", "").Replace(tokens[5])
	}
	return parts, true
}

// SplitDate splits a Date header into date, time and timezone. When no
// layout applies all fields are empty.
func SplitDate(raw string) DateParts {
	for _, layout := range dateLayouts {
		if parts, ok := layout.parse(raw); ok {
			return parts
		}
	}
	return DateParts{}
}
