package searchql

import (
	"fmt"
	"strings"
)

// The two schema fields that get a narrow single-clause rendering. Every
// other key renders as the three-part combo clause.
const (
	fieldSecretKey   = "secret_key"
	fieldSecretValue = "secret_value"
)

// Compile turns a raw query into a SQL boolean expression over the secrets
// table. An empty or whitespace-only query matches everything. The result
// never contains unbound placeholders; the caller interpolates it into the
// WHERE clause of its project-scoped SELECT.
func Compile(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return "TRUE", nil
	}

	root, err := Parse(query)
	if err != nil {
		return "", err
	}
	return Render(root)
}

// Render walks an expression tree and produces the matching SQL boolean
// expression. It is a pure function of the tree; it fails only on a node kind
// it does not know, which means the parser and renderer have drifted apart.
func Render(root Expr) (string, error) {
	switch n := root.(type) {
	case OrExpr:
		return renderList(n.Children, " OR ")
	case AndExpr:
		return renderList(n.Children, " AND ")
	case NotExpr:
		inner, err := Render(n.Operand)
		if err != nil {
			return "", err
		}
		// Compound operands and multi-clause leaves carry their own parens.
		return "NOT " + inner, nil
	case GroupExpr:
		inner, err := Render(n.Operand)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case KeyValueExpr:
		return renderKeyValue(n.Key, n.Value), nil
	case PhraseExpr:
		return renderText(n.Text), nil
	case TermExpr:
		return renderText(n.Text), nil
	default:
		return "", &InternalError{Msg: fmt.Sprintf("unknown expression node %T", root)}
	}
}

func renderList(children []Expr, sep string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := Render(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, sep), nil
}

// renderKeyValue dispatches on the key: the two schema fields match a single
// column directly, anything else matches the combo of a textual pair and a
// JSON containment check.
func renderKeyValue(key, value string) string {
	switch key {
	case fieldSecretKey:
		return fieldSecretKey + " ILIKE " + likePattern(value)
	case fieldSecretValue:
		return fieldSecretValue + "::text ILIKE " + likePattern(value)
	}
	return "(" +
		fieldSecretKey + " ILIKE " + likePattern(key) +
		" AND " +
		fieldSecretValue + "::text ILIKE " + likePattern(value) +
		" OR " +
		fieldSecretValue + " @> " + jsonLiteral(key, value) +
		")"
}

// renderText matches a term or phrase against both columns.
func renderText(text string) string {
	return "(" +
		fieldSecretKey + " ILIKE " + likePattern(text) +
		" OR " +
		fieldSecretValue + "::text ILIKE " + likePattern(text) +
		")"
}

// likePattern wraps a value into a single-quoted '%...%' ILIKE pattern.
func likePattern(value string) string {
	return "'%" + quoteEscape(likeEscape(value)) + "%'"
}

// jsonLiteral builds the single-quoted JSON object literal used with the @>
// containment operator.
func jsonLiteral(key, value string) string {
	return `'{"` + quoteEscape(jsonEscape(key)) + `": "` + quoteEscape(jsonEscape(value)) + `"}'`
}

// The three escapes stay separate on purpose: ILIKE patterns, the hand-built
// JSON literal, and single-quoted SQL segments each have their own
// metacharacter set. Quote doubling is always applied last, on the already
// context-escaped text.
var (
	likeEscaper  = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	jsonEscaper  = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	quoteEscaper = strings.NewReplacer(`'`, `''`)
)

func likeEscape(s string) string { return likeEscaper.Replace(s) }

func jsonEscape(s string) string { return jsonEscaper.Replace(s) }

func quoteEscape(s string) string { return quoteEscaper.Replace(s) }
