// Package searchql compiles the secret-search query language into SQL.
//
// The language is a small Lucene-style boolean syntax:
//
//	database                     match a single word anywhere
//	"connection string"          match a quoted phrase
//	env:prod                     match a key/value pair
//	a AND b, a b                 conjunction (whitespace implies AND)
//	a OR b                       disjunction
//	NOT a, -a                    negation
//	(a OR b) AND c               explicit grouping
//
// Parsing produces an immutable expression tree; rendering walks the tree and
// emits a SQL boolean expression over the secrets table's secret_key and
// secret_value columns. The two stages never mix: nodes hold unescaped text
// and all SQL escaping happens at render time.
package searchql

// Expr is the interface implemented by all query expression nodes.
type Expr interface {
	expr() // marker method
}

// OrExpr is a disjunction. Children keep source order; a singleton list
// renders exactly as its only child.
type OrExpr struct {
	Children []Expr
}

func (OrExpr) expr() {}

// AndExpr is a conjunction, explicit or implied by adjacency.
type AndExpr struct {
	Children []Expr
}

func (AndExpr) expr() {}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expr
}

func (NotExpr) expr() {}

// GroupExpr records an explicit source-level parenthesization. The renderer
// reproduces the parentheses even when precedence alone would not need them.
type GroupExpr struct {
	Operand Expr
}

func (GroupExpr) expr() {}

// KeyValueExpr is a key:value match. Key and Value are the logical strings
// with quotes stripped and escape sequences resolved.
type KeyValueExpr struct {
	Key   string
	Value string
}

func (KeyValueExpr) expr() {}

// PhraseExpr is a quoted phrase, matched as one unit.
type PhraseExpr struct {
	Text string
}

func (PhraseExpr) expr() {}

// TermExpr is a single bare word.
type TermExpr struct {
	Text string
}

func (TermExpr) expr() {}
