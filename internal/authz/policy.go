package authz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tablegate/internal/metadata"
	"tablegate/internal/store"
)

// Database policies are predicate expressions over the item being read or
// mutated, e.g. `@item.id eq 9` or `@item.title ne 'Policy-Test-01' and
// @item.pieces gt 0`. They compile into parameterized SQL appended to the
// WHERE clause of the generated query. `@claims.<name>` references are
// substituted with the caller's claim values before parsing.

var ErrPolicySyntax = errors.New("invalid policy expression")
var ErrClaimNotFound = errors.New("policy references a claim not present in the request")

// Condition is a single field comparison inside a policy predicate.
type Condition struct {
	Field string // exposed field name, without the @item. prefix
	Op    string // eq, ne, gt, ge, lt, le
	Value any    // string, float64, int64, bool, or nil
}

type predKind int

const (
	predCond predKind = iota
	predAnd
	predOr
)

// Predicate is the parsed form of a database policy.
type Predicate struct {
	kind        predKind
	left, right *Predicate
	cond        *Condition
}

// ParsePredicate parses a database policy expression. The grammar is
// condition chains joined by `and`/`or` with optional parentheses; `and`
// binds tighter than `or`.
func ParsePredicate(policy string) (*Predicate, error) {
	toks, err := lex(policy)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, fmt.Errorf("%w: unexpected token %q", ErrPolicySyntax, p.peek().text)
	}
	return pred, nil
}

// Validate checks that every field the predicate references is declared on
// the entity. Used at resolver build time to fail fast on bad config.
func (p *Predicate) Validate(entity *metadata.Entity) error {
	switch p.kind {
	case predCond:
		if !entity.HasField(p.cond.Field) {
			return fmt.Errorf("%w: entity %s has no field %s", ErrPolicySyntax, entity.Name, p.cond.Field)
		}
		return nil
	default:
		if err := p.left.Validate(entity); err != nil {
			return err
		}
		return p.right.Validate(entity)
	}
}

// SQL renders the predicate as a parameterized SQL fragment, resolving
// exposed field names to backing columns through the entity mappings.
func (p *Predicate) SQL(entity *metadata.Entity, pb store.ParamBuilder) string {
	switch p.kind {
	case predAnd:
		return "(" + p.left.SQL(entity, pb) + " AND " + p.right.SQL(entity, pb) + ")"
	case predOr:
		return "(" + p.left.SQL(entity, pb) + " OR " + p.right.SQL(entity, pb) + ")"
	}

	c := p.cond
	col := entity.BackingColumn(c.Field)
	if c.Value == nil {
		if c.Op == "ne" {
			return col + " IS NOT NULL"
		}
		return col + " IS NULL"
	}
	return fmt.Sprintf("%s %s %s", col, sqlOperator(c.Op), pb.Add(c.Value))
}

// Eval evaluates the predicate against an in-memory record keyed by exposed
// field names. The request path enforces policies through SQL; Eval is the
// reference semantics the SQL rendering is checked against.
func (p *Predicate) Eval(record map[string]any) bool {
	switch p.kind {
	case predAnd:
		return p.left.Eval(record) && p.right.Eval(record)
	case predOr:
		return p.left.Eval(record) || p.right.Eval(record)
	}

	c := p.cond
	val, ok := record[c.Field]
	if c.Value == nil {
		isNull := !ok || val == nil
		if c.Op == "ne" {
			return !isNull
		}
		return isNull
	}
	if !ok || val == nil {
		return false
	}
	return compareValues(c.Op, val, c.Value)
}

func sqlOperator(op string) string {
	switch op {
	case "eq":
		return "="
	case "ne":
		return "!="
	case "gt":
		return ">"
	case "ge":
		return ">="
	case "lt":
		return "<"
	case "le":
		return "<="
	}
	return "="
}

func compareValues(op string, recordVal, condVal any) bool {
	switch op {
	case "eq", "ne":
		equal := fmt.Sprintf("%v", recordVal) == fmt.Sprintf("%v", condVal)
		if fa, oka := toFloat64(recordVal); oka {
			if fb, okb := toFloat64(condVal); okb {
				equal = fa == fb
			}
		}
		if op == "ne" {
			return !equal
		}
		return equal
	}

	fa, oka := toFloat64(recordVal)
	fb, okb := toFloat64(condVal)
	if !oka || !okb {
		return false
	}
	switch op {
	case "gt":
		return fa > fb
	case "ge":
		return fa >= fb
	case "lt":
		return fa < fb
	case "le":
		return fa <= fb
	}
	return false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// SubstituteClaims replaces every @claims.<name> reference in a policy with
// the literal value of that claim. A reference to a claim the caller does
// not carry is an authorization failure, not a silent null.
func SubstituteClaims(policy string, claims map[string]any) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(policy) {
		// String literals are opaque text; a quoted '@claims.x' is not a
		// reference. '' inside a literal is an escaped quote.
		if policy[i] == '\'' {
			out.WriteByte('\'')
			i++
			for i < len(policy) {
				out.WriteByte(policy[i])
				if policy[i] == '\'' {
					if i+1 < len(policy) && policy[i+1] == '\'' {
						out.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			continue
		}
		if !strings.HasPrefix(policy[i:], "@claims.") {
			out.WriteByte(policy[i])
			i++
			continue
		}
		j := i + len("@claims.")
		start := j
		for j < len(policy) && isIdentChar(policy[j]) {
			j++
		}
		name := policy[start:j]
		if name == "" {
			return "", fmt.Errorf("%w: empty claim reference", ErrPolicySyntax)
		}
		val, ok := claims[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrClaimNotFound, name)
		}
		out.WriteString(claimLiteral(val))
		i = j
	}
	return out.String(), nil
}

func claimLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// --- lexer ---

type tokKind int

const (
	tokField tokKind = iota
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
	tokString
	tokNumber
	tokBool
	tokNull
)

type token struct {
	kind tokKind
	text string
	num  float64
	b    bool
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == '\'':
			j := i + 1
			var sb strings.Builder
			for {
				if j >= len(s) {
					return nil, fmt.Errorf("%w: unterminated string", ErrPolicySyntax)
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						sb.WriteByte('\'')
						j += 2
						continue
					}
					j++
					break
				}
				sb.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = j
		case c == '@':
			if !strings.HasPrefix(s[i:], "@item.") {
				return nil, fmt.Errorf("%w: unexpected reference at %q", ErrPolicySyntax, s[i:])
			}
			j := i + len("@item.")
			start := j
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if j == start {
				return nil, fmt.Errorf("%w: empty field reference", ErrPolicySyntax)
			}
			toks = append(toks, token{kind: tokField, text: s[start:j]})
			i = j
		case c == '-' || ('0' <= c && c <= '9'):
			j := i + 1
			for j < len(s) && (s[j] == '.' || ('0' <= s[j] && s[j] <= '9')) {
				j++
			}
			f, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrPolicySyntax, s[i:j])
			}
			toks = append(toks, token{kind: tokNumber, text: s[i:j], num: f})
			i = j
		default:
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("%w: unexpected character %q", ErrPolicySyntax, string(c))
			}
			word := strings.ToLower(s[i:j])
			switch word {
			case "and":
				toks = append(toks, token{kind: tokAnd, text: word})
			case "or":
				toks = append(toks, token{kind: tokOr, text: word})
			case "eq", "ne", "gt", "ge", "lt", "le":
				toks = append(toks, token{kind: tokOp, text: word})
			case "true", "false":
				toks = append(toks, token{kind: tokBool, text: word, b: word == "true"})
			case "null":
				toks = append(toks, token{kind: tokNull, text: word})
			default:
				return nil, fmt.Errorf("%w: unexpected token %q", ErrPolicySyntax, word)
			}
			i = j
		}
	}
	return toks, nil
}

// --- parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) eof() bool   { return p.pos >= len(p.toks) }
func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) parseOr() (*Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for !p.eof() && p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Predicate{kind: predOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (*Predicate, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for !p.eof() && p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &Predicate{kind: predAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (*Predicate, error) {
	if p.eof() {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrPolicySyntax)
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.eof() || p.peek().kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrPolicySyntax)
		}
		p.next()
		return inner, nil
	}
	return p.parseCondition()
}

func (p *parser) parseCondition() (*Predicate, error) {
	field := p.next()
	if field.kind != tokField {
		return nil, fmt.Errorf("%w: expected @item field, got %q", ErrPolicySyntax, field.text)
	}
	if p.eof() {
		return nil, fmt.Errorf("%w: expected operator after @item.%s", ErrPolicySyntax, field.text)
	}
	op := p.next()
	if op.kind != tokOp {
		return nil, fmt.Errorf("%w: expected comparison operator, got %q", ErrPolicySyntax, op.text)
	}
	if p.eof() {
		return nil, fmt.Errorf("%w: expected value after %s", ErrPolicySyntax, op.text)
	}
	lit := p.next()

	cond := &Condition{Field: field.text, Op: op.text}
	switch lit.kind {
	case tokString:
		cond.Value = lit.text
	case tokNumber:
		cond.Value = lit.num
	case tokBool:
		cond.Value = lit.b
	case tokNull:
		cond.Value = nil
	default:
		return nil, fmt.Errorf("%w: expected literal, got %q", ErrPolicySyntax, lit.text)
	}
	return &Predicate{kind: predCond, cond: cond}, nil
}
