// Package schema holds the view registry: the immutable description of
// every record type the store knows about.
//
// A View names a record type and lists its properties in declaration
// order. Each property has a semantic type and a usage bitset that decides
// whether it may be filtered on, projected, sorted by, or set by callers.
// Views also carry the storage mapping the SQLite collaborator needs
// (table, key, parent column, address-book scope).
//
// The built-in views are created once by Builtin. Deployments and tests
// may declare further views in CUE and merge them with Registry.Merge.
package schema
