// Package harness runs conformance scenarios against the transaction engine.
//
// A scenario is a YAML file naming a schema, a set of records and the
// transactions to run over them:
//
//	name: blog_create
//	description: parents are inserted before children
//	schema: schemas/blog.yaml
//	records:
//	  alice: {role: user, fields: {name: alice}}
//	  hello: {role: post, fields: {title: hello, author: "@alice"}}
//	transactions:
//	  - name: create
//	    ops:
//	      - {op: persist, record: hello}
//	assertions:
//	  - type: command_order
//	    commands: ["insert user", "insert post"]
//
// Every transaction runs through the real engine: the commands it submits,
// its outcome and the final table contents form the trace, which is
// compared against a golden file with goldie.
//
// Determinism: transaction ids are fixed, uuid keys come from a
// testutil.KeySequence, and auto keys are assigned in insertion order by
// both backends. Rows of the final state are sorted by their canonical
// encoding.
//
// Fault injection: fail_at makes the n-th command of a transaction fail
// with testutil.ErrInjected, which exercises rollback.
package harness
