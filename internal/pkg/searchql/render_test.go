package searchql

import (
	"errors"
	"testing"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			input:    "",
			expected: "TRUE",
		},
		{
			input:    "   ",
			expected: "TRUE",
		},
		{
			input:    "term",
			expected: `(secret_key ILIKE '%term%' OR secret_value::text ILIKE '%term%')`,
		},
		{
			input:    "-term",
			expected: `NOT (secret_key ILIKE '%term%' OR secret_value::text ILIKE '%term%')`,
		},
		{
			input:    `"hello world"`,
			expected: `(secret_key ILIKE '%hello world%' OR secret_value::text ILIKE '%hello world%')`,
		},
		{
			input:    "something:wild",
			expected: `(secret_key ILIKE '%something%' AND secret_value::text ILIKE '%wild%' OR secret_value @> '{"something": "wild"}')`,
		},
		{
			input:    "-something:wild",
			expected: `NOT (secret_key ILIKE '%something%' AND secret_value::text ILIKE '%wild%' OR secret_value @> '{"something": "wild"}')`,
		},
		{
			// A '-' in value position belongs to the value, not a negation.
			input:    "port:-1",
			expected: `(secret_key ILIKE '%port%' AND secret_value::text ILIKE '%-1%' OR secret_value @> '{"port": "-1"}')`,
		},
		{
			// Schema fields match their column directly, LIKE-escaped.
			input:    "secret_key:test_value",
			expected: `secret_key ILIKE '%test\_value%'`,
		},
		{
			input:    "-secret_key:test_initial_value",
			expected: `NOT secret_key ILIKE '%test\_initial\_value%'`,
		},
		{
			// The unquoted value stops at the first token; "data" becomes a
			// separate ANDed term.
			input:    "secret_value:some data",
			expected: `secret_value::text ILIKE '%some%' AND (secret_key ILIKE '%data%' OR secret_value::text ILIKE '%data%')`,
		},
		{
			input:    "foo:bar baz:qux",
			expected: `(secret_key ILIKE '%foo%' AND secret_value::text ILIKE '%bar%' OR secret_value @> '{"foo": "bar"}') AND (secret_key ILIKE '%baz%' AND secret_value::text ILIKE '%qux%' OR secret_value @> '{"baz": "qux"}')`,
		},
		{
			input:    "foo:bar AND baz:qux",
			expected: `(secret_key ILIKE '%foo%' AND secret_value::text ILIKE '%bar%' OR secret_value @> '{"foo": "bar"}') AND (secret_key ILIKE '%baz%' AND secret_value::text ILIKE '%qux%' OR secret_value @> '{"baz": "qux"}')`,
		},
		{
			input:    "foo AND bar baz:qux",
			expected: `(secret_key ILIKE '%foo%' OR secret_value::text ILIKE '%foo%') AND (secret_key ILIKE '%bar%' OR secret_value::text ILIKE '%bar%') AND (secret_key ILIKE '%baz%' AND secret_value::text ILIKE '%qux%' OR secret_value @> '{"baz": "qux"}')`,
		},
		{
			input:    "foo:bar OR baz:qux",
			expected: `(secret_key ILIKE '%foo%' AND secret_value::text ILIKE '%bar%' OR secret_value @> '{"foo": "bar"}') OR (secret_key ILIKE '%baz%' AND secret_value::text ILIKE '%qux%' OR secret_value @> '{"baz": "qux"}')`,
		},
		{
			input:    "(foo:bar OR baz:qux) AND something:wild",
			expected: `((secret_key ILIKE '%foo%' AND secret_value::text ILIKE '%bar%' OR secret_value @> '{"foo": "bar"}') OR (secret_key ILIKE '%baz%' AND secret_value::text ILIKE '%qux%' OR secret_value @> '{"baz": "qux"}')) AND (secret_key ILIKE '%something%' AND secret_value::text ILIKE '%wild%' OR secret_value @> '{"something": "wild"}')`,
		},
		{
			input:    `"first name":"last name"`,
			expected: `(secret_key ILIKE '%first name%' AND secret_value::text ILIKE '%last name%' OR secret_value @> '{"first name": "last name"}')`,
		},
		{
			// The value needs LIKE escaping and JSON escaping independently.
			input:    `message:"{\"ok\": true}"`,
			expected: `(secret_key ILIKE '%message%' AND secret_value::text ILIKE '%{"ok": true}%' OR secret_value @> '{"message": "{\"ok\": true}"}')`,
		},
		{
			input:    "(a:b OR (c:d AND e:f))",
			expected: `((secret_key ILIKE '%a%' AND secret_value::text ILIKE '%b%' OR secret_value @> '{"a": "b"}') OR ((secret_key ILIKE '%c%' AND secret_value::text ILIKE '%d%' OR secret_value @> '{"c": "d"}') AND (secret_key ILIKE '%e%' AND secret_value::text ILIKE '%f%' OR secret_value @> '{"e": "f"}')))`,
		},
		{
			input:    "(foo:bar OR baz:qux) AND (alpha:beta OR gamma:delta) OR (i:j AND k:l)",
			expected: `((secret_key ILIKE '%foo%' AND secret_value::text ILIKE '%bar%' OR secret_value @> '{"foo": "bar"}') OR (secret_key ILIKE '%baz%' AND secret_value::text ILIKE '%qux%' OR secret_value @> '{"baz": "qux"}')) AND ((secret_key ILIKE '%alpha%' AND secret_value::text ILIKE '%beta%' OR secret_value @> '{"alpha": "beta"}') OR (secret_key ILIKE '%gamma%' AND secret_value::text ILIKE '%delta%' OR secret_value @> '{"gamma": "delta"}')) OR ((secret_key ILIKE '%i%' AND secret_value::text ILIKE '%j%' OR secret_value @> '{"i": "j"}') AND (secret_key ILIKE '%k%' AND secret_value::text ILIKE '%l%' OR secret_value @> '{"k": "l"}'))`,
		},
		{
			input:    "-(a:b OR c:d)",
			expected: `NOT ((secret_key ILIKE '%a%' AND secret_value::text ILIKE '%b%' OR secret_value @> '{"a": "b"}') OR (secret_key ILIKE '%c%' AND secret_value::text ILIKE '%d%' OR secret_value @> '{"c": "d"}'))`,
		},
		{
			input:    "-(a:b AND c:d)",
			expected: `NOT ((secret_key ILIKE '%a%' AND secret_value::text ILIKE '%b%' OR secret_value @> '{"a": "b"}') AND (secret_key ILIKE '%c%' AND secret_value::text ILIKE '%d%' OR secret_value @> '{"c": "d"}'))`,
		},
		{
			input:    "-a:b AND (c:d OR -e:f)",
			expected: `NOT (secret_key ILIKE '%a%' AND secret_value::text ILIKE '%b%' OR secret_value @> '{"a": "b"}') AND ((secret_key ILIKE '%c%' AND secret_value::text ILIKE '%d%' OR secret_value @> '{"c": "d"}') OR NOT (secret_key ILIKE '%e%' AND secret_value::text ILIKE '%f%' OR secret_value @> '{"e": "f"}'))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sql, err := Compile(tt.input)
			if err != nil {
				t.Fatalf("compile error: %v", err)
			}
			if sql != tt.expected {
				t.Errorf("query %q:\n got  %s\n want %s", tt.input, sql, tt.expected)
			}
		})
	}
}

func TestCompileEscaping(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{
			// LIKE metacharacters in the value.
			input:    "secret_key:100%",
			expected: `secret_key ILIKE '%100\%%'`,
		},
		{
			input:    `secret_key:"a\\b"`,
			expected: `secret_key ILIKE '%a\\b%'`,
		},
		{
			// Single quotes are doubled after the context escape.
			input:    "name:O'Brien",
			expected: `(secret_key ILIKE '%name%' AND secret_value::text ILIKE '%O''Brien%' OR secret_value @> '{"name": "O''Brien"}')`,
		},
		{
			input:    "don't",
			expected: `(secret_key ILIKE '%don''t%' OR secret_value::text ILIKE '%don''t%')`,
		},
		{
			// Quoted keys go through the same escapes as values.
			input:    `"50%":"a_b"`,
			expected: `(secret_key ILIKE '%50\%%' AND secret_value::text ILIKE '%a\_b%' OR secret_value @> '{"50%": "a_b"}')`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sql, err := Compile(tt.input)
			if err != nil {
				t.Fatalf("compile error: %v", err)
			}
			if sql != tt.expected {
				t.Errorf("query %q:\n got  %s\n want %s", tt.input, sql, tt.expected)
			}
		})
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	inputs := []string{
		"a:",
		":b",
		"(",
		"a AND",
		`"unterminated`,
		"a:b OR AND c:d",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			sql, err := Compile(input)
			if err == nil {
				t.Fatalf("expected syntax error, got %q", sql)
			}
			var syntaxErr *SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Errorf("expected *SyntaxError, got %T: %v", err, err)
			}
		})
	}
}

func TestCompileIdempotent(t *testing.T) {
	const input = "(foo:bar OR baz:qux) AND -something:wild"

	first, err := Compile(input)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	second, err := Compile(input)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if first != second {
		t.Errorf("expected identical output, got\n%s\nand\n%s", first, second)
	}
}

// Singleton Or/And lists render exactly as their sole child; wrapping an
// expression in no-op lists never changes the output.
func TestRenderSingletonLists(t *testing.T) {
	leaf := TermExpr{Text: "a"}

	want, err := Render(leaf)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}

	wrapped := []Expr{
		OrExpr{Children: []Expr{leaf}},
		AndExpr{Children: []Expr{leaf}},
		OrExpr{Children: []Expr{AndExpr{Children: []Expr{leaf}}}},
	}
	for _, expr := range wrapped {
		got, err := Render(expr)
		if err != nil {
			t.Fatalf("render error: %v", err)
		}
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}

type bogusExpr struct{}

func (bogusExpr) expr() {}

func TestRenderUnknownNode(t *testing.T) {
	_, err := Render(bogusExpr{})
	if err == nil {
		t.Fatal("expected internal error for unknown node")
	}
	var internalErr *InternalError
	if !errors.As(err, &internalErr) {
		t.Errorf("expected *InternalError, got %T: %v", err, err)
	}
}
