package testutil

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/schema"
)

const blogSchema = `
roles:
  user:
    columns: [name]
  post:
    columns: [title]
    relations:
      - {name: author, kind: belongs_to, target: user}
`

func newDB(t *testing.T) *MemoryDB {
	t.Helper()
	doc, err := schema.DecodeYAML(strings.NewReader(blogSchema))
	require.NoError(t, err)
	reg, err := schema.Compile(doc)
	require.NoError(t, err)
	db := NewMemoryDB()
	db.Define(reg)
	return db
}

// stubCommand inserts one user through the executor.
type stubCommand struct {
	name string
}

func (c stubCommand) Kind() string { return "insert" }

func (c stubCommand) Execute(ctx context.Context, exec orm.Executor) error {
	_, err := exec.Insert(ctx, "user", []string{"name"}, []any{c.name}, "id")
	return err
}

func (c stubCommand) String() string { return "insert user " + c.name }

func TestMemoryDB_Keys(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	id, err := db.Insert(ctx, "user", []string{"name"}, []any{"ada"}, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	db.Seed("user", Row{"id": 7, "name": "seeded"})
	id, err = db.Insert(ctx, "user", []string{"name"}, []any{"bob"}, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(8), id, "sequences continue after seeded keys")

	_, err = db.Insert(ctx, "user", []string{"id", "name"}, []any{1, "dup"}, "")
	assert.ErrorIs(t, err, ErrDuplicateKey)

	assert.Equal(t, []Row{
		{"id": int64(1), "name": "ada"},
		{"id": int64(7), "name": "seeded"},
		{"id": int64(8), "name": "bob"},
	}, db.Rows("user"))
	assert.Nil(t, db.Rows("missing"))
}

func TestMemoryDB_ForeignKeys(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	_, err := db.Insert(ctx, "post", []string{"title", "author_id"}, []any{"x", 1}, "id")
	assert.ErrorIs(t, err, ErrForeignKey)

	_, err = db.Insert(ctx, "post", []string{"title", "author_id"}, []any{"x", nil}, "id")
	require.NoError(t, err, "null keys reference nothing")

	_, err = db.Insert(ctx, "user", []string{"name"}, []any{"ada"}, "id")
	require.NoError(t, err)
	n, err := db.Update(ctx, "post", map[string]any{"author_id": 1}, map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.Update(ctx, "post", map[string]any{"author_id": 2}, map[string]any{"id": 1})
	assert.ErrorIs(t, err, ErrForeignKey)

	_, err = db.Delete(ctx, "user", map[string]any{"id": 1})
	assert.ErrorIs(t, err, ErrForeignKey)
	assert.Len(t, db.Rows("user"), 1)

	n, err = db.Delete(ctx, "post", map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = db.Delete(ctx, "user", map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRunner_Log(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	r := NewRunner(db)

	require.NoError(t, r.Run(ctx, stubCommand{"ada"}))
	require.NoError(t, r.Run(ctx, stubCommand{"bob"}))
	require.NoError(t, r.Complete(ctx))

	assert.Equal(t, []string{"insert user ada", "insert user bob"}, r.Log())
	assert.Equal(t, []string{"insert", "insert"}, r.Kinds())
	assert.Equal(t, 1, r.Commits())
	assert.Zero(t, r.Rollbacks())
}

func TestRunner_FailAtRestores(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	db.Seed("user", Row{"id": 1, "name": "seeded"})
	r := NewRunner(db, FailAt(2, nil))

	require.NoError(t, r.Run(ctx, stubCommand{"ada"}))
	assert.Len(t, db.Rows("user"), 2)
	assert.ErrorIs(t, r.Run(ctx, stubCommand{"bob"}), ErrInjected)

	require.NoError(t, r.Rollback(ctx))
	assert.Equal(t, []Row{{"id": int64(1), "name": "seeded"}}, db.Rows("user"))
	assert.Equal(t, 1, r.Rollbacks())
	assert.Equal(t, []string{"insert user ada"}, r.Log(), "failed commands are not logged")
}

func TestRunner_FailCommit(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	r := NewRunner(newDB(t), FailCommit(boom))

	require.NoError(t, r.Run(ctx, stubCommand{"ada"}))
	assert.ErrorIs(t, r.Complete(ctx), boom)
	assert.Zero(t, r.Commits())
}

func TestKeySequence(t *testing.T) {
	s := NewKeySequence("")
	assert.Equal(t, "key-0001", s.Next())
	assert.Equal(t, "key-0002", s.Next())
	s.Reset()
	assert.Equal(t, "key-0001", s.Next())

	assert.Equal(t, "img-0001", NewKeySequence("img").Next())
}

func TestFixedTxID(t *testing.T) {
	assert.Equal(t, "tx-test", NewFixedTxID("").Generate())
	g := NewFixedTxID("tx-1")
	assert.Equal(t, "tx-1", g.Generate())
	assert.Equal(t, "tx-1", g.Generate())
}
