package heap

// Status is the persistence status of a tracked object.
type Status int

const (
	// StatusNew marks an object that has never been written.
	StatusNew Status = iota
	// StatusLoaded marks an object whose row exists and matches Data.
	StatusLoaded
	// StatusScheduledInsert marks a new object queued for insertion.
	StatusScheduledInsert
	// StatusScheduledUpdate marks an object whose row exists and may change
	// within the running transaction.
	StatusScheduledUpdate
	// StatusScheduledDelete marks an object queued for deletion.
	StatusScheduledDelete
	// StatusDeleted marks an object whose row is gone.
	StatusDeleted
)

var statusNames = map[Status]string{
	StatusNew:             "new",
	StatusLoaded:          "loaded",
	StatusScheduledInsert: "scheduled_insert",
	StatusScheduledUpdate: "scheduled_update",
	StatusScheduledDelete: "scheduled_delete",
	StatusDeleted:         "deleted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// RelationStatus is the resolution progress of one relation of one object
// inside a single transaction run.
//
// Values are ordered: a relation only ever moves forward, never back, until
// the run ends and the state is reset.
type RelationStatus int

const (
	// RelationPrepare means the relation value has not been handed to its
	// handler yet.
	RelationPrepare RelationStatus = iota
	// RelationQueue means the handler saw the value and waits for the
	// dependency to supply a key.
	RelationQueue
	// RelationDeferred means the row is written with a placeholder and a
	// follow-up write is due once the cycle breaks.
	RelationDeferred
	// RelationResolved means the relation needs nothing more.
	RelationResolved
)

var relationStatusNames = map[RelationStatus]string{
	RelationPrepare:  "prepare",
	RelationQueue:    "queue",
	RelationDeferred: "deferred",
	RelationResolved: "resolved",
}

func (s RelationStatus) String() string {
	if name, ok := relationStatusNames[s]; ok {
		return name
	}
	return "unknown"
}
