package reldoc

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseError reports a mini-language syntax error with the byte offset
// where parsing failed — the parser is the one place among reldoc's error
// kinds that reports a precise cursor position.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("reldoc: filter: position %d: %s", e.Pos, e.Msg)
}

// ParseFilter parses the date/range filter mini-language:
//
//	expr   := op? value ( '..' value )?
//	op     := '>' | '>=' | '<' | '<='
//	value  := isoDateTime | nowExpr
//	nowExpr:= '@now' ( signedInteger )?          // integer is days offset
//
// and returns a Predicate bound to column, ready to add to a Builder via
// Where. now is the caller-supplied UTC wall clock @now resolves against,
// captured once at query-build time so a single query stays internally
// consistent even if slow to execute. @now is UTC-only; a
// timezone-qualified value is a ParseError.
func ParseFilter(column, s string, now time.Time) (Predicate, error) {
	p := &filterParser{src: s, now: now.UTC()}
	pred, err := p.parse(column)
	if err != nil {
		return Predicate{}, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return Predicate{}, &ParseError{Pos: p.pos, Msg: fmt.Sprintf("unexpected trailing input %q", p.src[p.pos:])}
	}
	return pred, nil
}

type filterParser struct {
	src string
	pos int
	now time.Time
}

func (p *filterParser) parse(column string) (Predicate, error) {
	p.skipSpace()
	op, hasOp := p.tryOp()

	v1, err := p.value()
	if err != nil {
		return Predicate{}, err
	}

	p.skipSpace()
	if p.tryLiteral("..") {
		if hasOp {
			return Predicate{}, &ParseError{Pos: p.pos, Msg: "a range (a..b) cannot also carry a comparison operator"}
		}
		v2, err := p.value()
		if err != nil {
			return Predicate{}, err
		}
		return Between(column, v1, v2), nil
	}

	if !hasOp {
		return Cmp(column, Eq, v1), nil
	}
	return Cmp(column, op, v1), nil
}

func (p *filterParser) tryOp() (CmpOp, bool) {
	rest := p.src[p.pos:]
	switch {
	case strings.HasPrefix(rest, ">="):
		p.pos += 2
		return Ge, true
	case strings.HasPrefix(rest, "<="):
		p.pos += 2
		return Le, true
	case strings.HasPrefix(rest, ">"):
		p.pos += 1
		return Gt, true
	case strings.HasPrefix(rest, "<"):
		p.pos += 1
		return Lt, true
	default:
		return Eq, false
	}
}

func (p *filterParser) tryLiteral(lit string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], lit) {
		p.pos += len(lit)
		return true
	}
	return false
}

func (p *filterParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *filterParser) value() (time.Time, error) {
	p.skipSpace()
	rest := p.src[p.pos:]
	if strings.HasPrefix(rest, "@now") {
		return p.nowExpr()
	}
	return p.isoDateTime()
}

func (p *filterParser) nowExpr() (time.Time, error) {
	start := p.pos
	p.pos += len("@now")
	rest := p.src[p.pos:]

	end := 0
	for end < len(rest) && (rest[end] == '+' || rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return p.now, nil
	}
	numStr := rest[:end]
	if strings.Contains(numStr, "T") || strings.Contains(numStr, "Z") {
		return time.Time{}, &ParseError{Pos: start, Msg: "@now does not accept a timezone qualifier; UTC only"}
	}
	days, err := strconv.Atoi(numStr)
	if err != nil {
		return time.Time{}, &ParseError{Pos: p.pos, Msg: fmt.Sprintf("invalid @now day offset %q: %v", numStr, err)}
	}
	p.pos += end
	return p.now.AddDate(0, 0, days), nil
}

func (p *filterParser) isoDateTime() (time.Time, error) {
	start := p.pos
	end := p.pos
	for end < len(p.src) {
		c := p.src[end]
		if c == ' ' || c == '\t' {
			break
		}
		if strings.HasPrefix(p.src[end:], "..") {
			break
		}
		end++
	}
	raw := p.src[start:end]
	if raw == "" {
		return time.Time{}, &ParseError{Pos: start, Msg: "expected an ISO-8601 timestamp or @now"}
	}
	if t := strings.IndexByte(raw, 'T'); t >= 0 && strings.ContainsAny(raw[t:], "+-") {
		return time.Time{}, &ParseError{Pos: start, Msg: "timestamps must use the Z UTC suffix, not a numeric offset"}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			p.pos = end
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ParseError{Pos: start, Msg: fmt.Sprintf("unparseable timestamp %q", raw)}
}
