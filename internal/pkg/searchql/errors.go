package searchql

import "fmt"

// SyntaxError reports a query the grammar rejects. Pos is the byte offset in
// the (trimmed) input where the problem was found. The message is meant to be
// shown verbatim to whoever wrote the query.
type SyntaxError struct {
	Pos int
	Msg string
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query syntax error at offset %d: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// InternalError reports an expression tree the renderer does not recognize.
// It signals a parser/renderer mismatch inside this package, never bad user
// input, and should be logged as a defect.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	return "internal query error: " + e.Msg
}

func (e *InternalError) Unwrap() error { return e.Err }
