// Package harness runs YAML scenarios against a fresh contacts service.
//
// A scenario is a list of steps, each performed by a named caller and
// optionally checked against an expect clause:
//
//	name: viewer_cannot_delete
//	description: A read-only caller is denied before storage is touched.
//	callers:
//	  app:contacts: [contact.read, contact.write]
//	  app:viewer: [contact.read]
//	steps:
//	  - insert:
//	      - view: address_book
//	        values: {name: local}
//	    expect: {ids: [1]}
//	  - as: app:viewer
//	    delete: {view: address_book, id: 1}
//	    expect: {error: PERMISSION_DENIED}
//
// Every run uses its own database and a deterministic clock, and records a
// trace of steps and change notifications. Traces are stable across runs
// and are compared against golden files with RunWithGolden.
//
// Step kinds: insert, update, delete, get, query, count, changes, begin,
// commit and rollback. Queries use the querydoc format; a query with a
// search section runs a keyword search.
package harness
