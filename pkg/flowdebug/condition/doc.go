// Package condition evaluates the boolean branch conditions attached to
// decision steps.
//
// Conditions use the expr language (github.com/expr-lang/expr). The session
// context is exposed both as top-level variables and under the name
// "context", so these two are equivalent:
//
//	amount > 1000
//	context.amount > 1000
//
// A few helpers are available in every expression:
//
//	has(list, item)   true if item is in list (or substring of a string)
//	length(v)         length of a string, slice or map
//
// Compiled programs are cached by expression text, so evaluating the same
// condition on every run only compiles it once.
package condition
