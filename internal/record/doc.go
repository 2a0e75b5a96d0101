// Package record implements the polymorphic record and list model.
//
// A Record holds the typed property values of one view plus its owned
// child records. Access goes through accessors that check the property
// against the view: a property of another view fails with
// PropertyNotSupported, an accessor of the wrong type with TypeMismatch.
//
// A List is a homogeneous, cursor-addressable sequence of records that
// keeps clones of removed members as tombstones for diff consumers.
package record
