package testutil

// FixedTxID returns the same transaction id every time.
//
// Unlike orm.FixedGenerator, which returns ids in sequence, every
// transaction shares the id. The same scenario then produces byte-identical
// traces whatever the number of transactions.
//
// Thread-safety: stateless and safe for concurrent use.
type FixedTxID struct {
	id string
}

// NewFixedTxID creates a fixed id generator. If id is empty, Generate()
// returns "tx-test".
func NewFixedTxID(id string) *FixedTxID {
	if id == "" {
		id = "tx-test"
	}
	return &FixedTxID{id: id}
}

// Generate implements orm.IDGenerator.
func (g *FixedTxID) Generate() string {
	return g.id
}
