package graph

import (
	"strings"

	"github.com/leapstack-labs/dfmigrate/pkg/core"
	"github.com/leapstack-labs/dfmigrate/pkg/sqltext"
)

// MinIncrementalJobs is how many filtered writes make a table incremental.
const MinIncrementalJobs = 2

var predicateStarts = map[string]bool{"where": true, "and": true, "or": true, "on": true}

// HasTimeBoundedFilter reports whether sql restricts field with a range
// comparison (>, >=, <, <= or BETWEEN) in a predicate that follows WHERE,
// AND, OR or ON. The field may be qualified (t.field) or wrapped in a
// function call such as DATE(field).
func HasTimeBoundedFilter(sql, field string) bool {
	if field == "" {
		return false
	}
	toks := sqltext.Tokenize(sql)
	for i := range toks {
		if !isField(toks, i, field) {
			continue
		}
		if !startsPredicate(toks, i) {
			continue
		}
		j := i + 1
		for j < len(toks) && toks[j].Type == sqltext.TOKEN_RPAREN {
			j++
		}
		if j < len(toks) && isRangeOp(toks[j]) {
			return true
		}
	}
	return false
}

// isField matches the partition column at toks[i]. Columns named like a type
// (date, timestamp) lex as keywords; DATE(x) is a call, not the column.
func isField(toks []sqltext.Token, i int, field string) bool {
	tok := toks[i]
	switch tok.Type {
	case sqltext.TOKEN_IDENT:
		return strings.EqualFold(lastPart(tok.Literal), field)
	case sqltext.TOKEN_KEYWORD:
		if i+1 < len(toks) && toks[i+1].Type == sqltext.TOKEN_LPAREN {
			return false
		}
		return strings.EqualFold(tok.Literal, field)
	}
	return false
}

func lastPart(ident string) string {
	if i := strings.LastIndexByte(ident, '.'); i >= 0 {
		return ident[i+1:]
	}
	return ident
}

// startsPredicate walks back from the field over qualifiers and enclosing
// calls and checks that a predicate keyword introduces it.
func startsPredicate(toks []sqltext.Token, i int) bool {
	k := i - 1
loop:
	for k >= 0 {
		switch {
		case toks[k].Type == sqltext.TOKEN_DOT && k > 0 && toks[k-1].Type == sqltext.TOKEN_IDENT:
			k -= 2
		case toks[k].Type == sqltext.TOKEN_LPAREN:
			k--
			if k >= 0 && isCallName(toks[k]) {
				k--
			}
		default:
			break loop
		}
	}
	return k >= 0 && toks[k].Type == sqltext.TOKEN_KEYWORD && predicateStarts[strings.ToLower(toks[k].Literal)]
}

func isCallName(tok sqltext.Token) bool {
	switch tok.Type {
	case sqltext.TOKEN_IDENT:
		return true
	case sqltext.TOKEN_KEYWORD:
		return !predicateStarts[strings.ToLower(tok.Literal)]
	}
	return false
}

func isRangeOp(tok sqltext.Token) bool {
	switch tok.Type {
	case sqltext.TOKEN_OPERATOR:
		switch tok.Literal {
		case ">", ">=", "<", "<=":
			return true
		}
	case sqltext.TOKEN_KEYWORD:
		return strings.EqualFold(tok.Literal, "between")
	}
	return false
}

// isIncremental applies the history rule: the table is partitioned and at
// least MinIncrementalJobs successful writes filtered on the partition field.
func isIncremental(desc *core.TableDescriptor, history []*core.QueryRecord) bool {
	if desc == nil || desc.Partitioning == nil || desc.Kind == core.KindView {
		return false
	}
	field := desc.Partitioning.FilterField()
	n := 0
	for _, r := range history {
		if r.Status != core.QuerySuccess || r.Destination != desc.Ref {
			continue
		}
		if HasTimeBoundedFilter(r.RawSQL, field) {
			n++
		}
	}
	return n >= MinIncrementalJobs
}
