// Package orm implements the unit-of-work transaction engine.
//
// A Transaction collects objects marked for persistence or deletion and turns
// them into an ordered sequence of insert/update/delete commands that honor
// foreign-key and ownership dependencies between related objects.
//
// ARCHITECTURE:
//
// Work Pool:
// Every scheduled operation on one object is a Tuple. The Pool holds at most
// one Tuple per object and drains them to a fixpoint:
//   - Freshly attached tuples are visited first, so every relation of every
//     reachable object is prepared before any key is resolved.
//   - A tuple that cannot finish is re-admitted to the next pass.
//   - A pass that makes no progress ends the drain; whatever is left is
//     reported precisely as an UnresolvedError.
//
// Relation Resolution:
// Relations are classified per role as master (this row holds the foreign
// key), slave (the related row holds it) or embedded (merged into this row).
// A store tuple writes its row once its masters are RESOLVED or DEFERRED.
// DEFERRED is the two-phase fallback for cycles: the row is inserted with a
// placeholder and a follow-up update is issued once the cycle breaks.
//
// Atomicity:
// Every state touched by a run is snapshotted when its tuple is created. Any
// failure rolls the runner back and restores the snapshots, so a failed Run is
// invisible to in-memory state. On success the heap is synchronized with the
// written data (generated keys, resolved foreign keys).
//
// The engine is single-threaded. Independent transactions may exist at the
// same time, but runs touching overlapping objects must be serialized by the
// caller.
package orm
