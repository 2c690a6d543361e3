// Package parser splits free-form application text into statements and
// decomposes each statement into year range, vehicle text and position text.
//
// The grammar is
//
//	<YYYY>[-<YYYY>] <vehicle description> (<position description>)
//
// with insignificant whitespace around tokens. Anything after the closing
// parenthesis is ignored.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sssolid/crown-nexus/engine/domain"
)

// Statement is one application line together with its parse outcome.
// Exactly one of App and Err is meaningful.
type Statement struct {
	Raw string
	App domain.ParsedApplication
	Err error
}

var yearRe = regexp.MustCompile(`^(\d+)(\s*-\s*(\d*))?`)

// Split breaks a block into trimmed, non-empty statements. Both ';' and line
// breaks terminate a statement.
func Split(block string) []string {
	parts := strings.FieldsFunc(block, func(r rune) bool {
		return r == ';' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse splits block and parses every statement. A malformed statement does
// not stop the remaining ones.
func Parse(block string) []Statement {
	lines := Split(block)
	out := make([]Statement, 0, len(lines))
	for _, raw := range lines {
		app, err := ParseLine(raw)
		out = append(out, Statement{Raw: raw, App: app, Err: err})
	}
	return out
}

// ParseLine parses a single statement. Failures are *domain.ParseError.
// Checks run in order: year, position clause, vehicle text.
func ParseLine(raw string) (domain.ParsedApplication, error) {
	text := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), ";"))
	app := domain.ParsedApplication{RawText: text}

	from, to, rest, err := parseYears(text)
	if err != nil {
		return app, err
	}
	app.YearFrom, app.YearTo = from, to

	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return app, &domain.ParseError{Kind: domain.KindMissingPositionText, Text: text, Msg: "no position clause"}
	}
	closing := strings.LastIndexByte(rest, ')')
	if closing < open {
		return app, &domain.ParseError{Kind: domain.KindMissingPositionText, Text: text, Msg: "unterminated position clause"}
	}
	position := collapse(rest[open+1 : closing])
	if position == "" {
		return app, &domain.ParseError{Kind: domain.KindMissingPositionText, Text: text, Msg: "empty position clause"}
	}
	app.PositionText = position

	vehicle := collapse(rest[:open])
	if vehicle == "" {
		return app, &domain.ParseError{Kind: domain.KindMissingVehicleText, Text: text, Msg: "no vehicle between year and position"}
	}
	app.VehicleText = vehicle
	return app, nil
}

// parseYears consumes the leading year or year range and returns the rest.
// A single year yields from == to.
func parseYears(text string) (from, to int, rest string, err error) {
	malformed := func(msg string) (int, int, string, error) {
		return 0, 0, "", &domain.ParseError{Kind: domain.KindMalformedYear, Text: text, Msg: msg}
	}

	m := yearRe.FindStringSubmatch(text)
	if m == nil {
		return malformed("missing year")
	}
	if len(m[1]) != 4 {
		return malformed("year must have four digits")
	}
	from, _ = strconv.Atoi(m[1])
	to = from
	if m[2] != "" {
		if m[3] == "" {
			return malformed("incomplete year range")
		}
		if len(m[3]) != 4 {
			return malformed("year must have four digits")
		}
		to, _ = strconv.Atoi(m[3])
		if to < from {
			return malformed("year range ends before it starts")
		}
	}

	rest = text[len(m[0]):]
	// "2005WK" is not a year followed by a vehicle.
	if rest != "" && !startsWithSpaceOrParen(rest) {
		return malformed("year not followed by whitespace")
	}
	return from, to, rest, nil
}

func startsWithSpaceOrParen(s string) bool {
	switch s[0] {
	case ' ', '\t', '(':
		return true
	}
	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
