package authz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Request policies are evaluated in-process against the caller's claims
// before the operation touches the database, e.g. `@claims.tier eq 'gold'`.
// They share the database-policy grammar but reference only @claims; the
// predicate is translated to an expr-lang program and compiled once at
// resolver build time.

// CompileRequestPolicy translates a request policy into an expr program.
func CompileRequestPolicy(policy string) (*vm.Program, error) {
	src, err := translateRequestPolicy(policy)
	if err != nil {
		return nil, err
	}
	prog, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile request policy: %w", err)
	}
	return prog, nil
}

// EvalRequestPolicy runs a compiled request policy against the claims map.
func EvalRequestPolicy(prog *vm.Program, claims map[string]any) (bool, error) {
	if claims == nil {
		claims = map[string]any{}
	}
	result, err := expr.Run(prog, map[string]any{"claims": claims})
	if err != nil {
		return false, fmt.Errorf("evaluate request policy: %w", err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("request policy did not evaluate to a boolean")
	}
	return ok, nil
}

// translateRequestPolicy rewrites the policy grammar into expr-lang syntax:
// `@claims.tier eq 'gold' and @claims.score ge 10` becomes
// `claims["tier"] == "gold" && claims["score"] >= 10`.
func translateRequestPolicy(policy string) (string, error) {
	var out strings.Builder
	i := 0
	emit := func(s string) {
		if out.Len() > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(s)
	}

	for i < len(policy) {
		c := policy[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			emit(string(c))
			i++
		case c == '\'':
			j := i + 1
			var sb strings.Builder
			for {
				if j >= len(policy) {
					return "", fmt.Errorf("%w: unterminated string", ErrPolicySyntax)
				}
				if policy[j] == '\'' {
					if j+1 < len(policy) && policy[j+1] == '\'' {
						sb.WriteByte('\'')
						j += 2
						continue
					}
					j++
					break
				}
				sb.WriteByte(policy[j])
				j++
			}
			emit(strconv.Quote(sb.String()))
			i = j
		case c == '@':
			if !strings.HasPrefix(policy[i:], "@claims.") {
				return "", fmt.Errorf("%w: request policies may only reference @claims", ErrPolicySyntax)
			}
			j := i + len("@claims.")
			start := j
			for j < len(policy) && isIdentChar(policy[j]) {
				j++
			}
			if j == start {
				return "", fmt.Errorf("%w: empty claim reference", ErrPolicySyntax)
			}
			emit(`claims[` + strconv.Quote(policy[start:j]) + `]`)
			i = j
		case c == '-' || ('0' <= c && c <= '9'):
			j := i + 1
			for j < len(policy) && (policy[j] == '.' || ('0' <= policy[j] && policy[j] <= '9')) {
				j++
			}
			emit(policy[i:j])
			i = j
		default:
			j := i
			for j < len(policy) && isIdentChar(policy[j]) {
				j++
			}
			if j == i {
				return "", fmt.Errorf("%w: unexpected character %q", ErrPolicySyntax, string(c))
			}
			word := strings.ToLower(policy[i:j])
			switch word {
			case "and":
				emit("&&")
			case "or":
				emit("||")
			case "eq":
				emit("==")
			case "ne":
				emit("!=")
			case "gt":
				emit(">")
			case "ge":
				emit(">=")
			case "lt":
				emit("<")
			case "le":
				emit("<=")
			case "true", "false":
				emit(word)
			case "null":
				emit("nil")
			default:
				return "", fmt.Errorf("%w: unexpected token %q", ErrPolicySyntax, word)
			}
			i = j
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("%w: empty policy", ErrPolicySyntax)
	}
	return out.String(), nil
}
