// Package filter builds and evaluates schema-checked predicate trees over
// the properties of a view.
//
// A Filter is built incrementally: child, operator, child, operator, ...
// Each leaf is validated against the view when it is added, so a
// finished filter never needs re-validation before it is compiled to SQL.
//
// Operators combine strictly left to right. There is no AND-before-OR
// precedence; nest a Filter to group.
package filter
