package orm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitwork/internal/command"
	"github.com/roach88/unitwork/internal/mapper"
	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/schema"
	"github.com/roach88/unitwork/internal/testutil"
)

const blogSchema = `
roles:
  user:
    columns: [name]
  post:
    columns: [title]
    relations:
      - {name: author, kind: belongs_to, target: user}
      - {name: comments, kind: has_many, target: comment}
  comment:
    columns: [body]
`

const avatarSchema = `
roles:
  user:
    columns: [name]
    relations:
      - {name: avatar, kind: refers_to, target: image}
  image:
    columns: [url]
    relations:
      - {name: owner, kind: belongs_to, target: user}
`

const livelockSchema = `
roles:
  a:
    columns: [name]
    relations:
      - {name: b, kind: belongs_to, target: b}
  b:
    columns: [name]
    relations:
      - {name: a, kind: belongs_to, target: a}
`

// env is one engine over a fresh in-memory database.
type env struct {
	orm *orm.ORM
	db  *testutil.MemoryDB
}

func newEnv(t *testing.T, src string, opts ...orm.Option) *env {
	t.Helper()
	doc, err := schema.DecodeYAML(strings.NewReader(src))
	require.NoError(t, err)
	reg, err := schema.Compile(doc)
	require.NoError(t, err)

	db := testutil.NewMemoryDB()
	db.Define(reg)

	gen := command.NewGenerator(command.WithKeyFunc(testutil.NewKeySequence("key").Next))
	opts = append([]orm.Option{
		orm.WithIDGenerator(testutil.NewFixedTxID("")),
		orm.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	o, err := orm.New(reg, gen, opts...)
	require.NoError(t, err)
	return &env{orm: o, db: db}
}

// persist runs one transaction storing objs with cascade and returns the
// executed commands.
func (e *env) persist(t *testing.T, objs ...any) []string {
	t.Helper()
	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	for _, obj := range objs {
		require.NoError(t, tx.Persist(obj, true))
	}
	require.NoError(t, tx.Run(context.Background()))
	return runner.Log()
}

func rec(role string, fields map[string]any) *mapper.Record {
	return mapper.NewRecord(role, fields)
}

func TestTransaction_ParentBeforeChild(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})

	log := e.persist(t, post)

	assert.Equal(t, []string{
		`insert user(name="alice") returning id`,
		`insert post(author_id=1, title="hello") returning id`,
	}, log)
	assert.Equal(t, int64(1), alice.Get("id"))
	assert.Equal(t, int64(1), post.Get("author_id"), "foreign key is hydrated after commit")
	assert.Len(t, e.db.Rows("post"), 1)
}

func TestTransaction_SecondRunIsNoop(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})
	e.persist(t, post)

	assert.Empty(t, e.persist(t, post))
	assert.Empty(t, e.persist(t, post, alice))
}

func TestTransaction_UpdateChangedColumnsOnly(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})
	e.persist(t, post)

	post.Set("title", "hello again")
	assert.Equal(t, []string{`update post set title="hello again" where id=1`}, e.persist(t, post))
}

func TestTransaction_PersistTwiceInsertsOnce(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(alice, true))
	require.NoError(t, tx.Persist(alice, false))
	require.NoError(t, tx.Run(context.Background()))

	assert.Equal(t, []string{`insert user(name="alice") returning id`}, runner.Log())
}

func TestTransaction_HasManyMembersWaitForOwner(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	one := rec("comment", map[string]any{"body": "one"})
	two := rec("comment", map[string]any{"body": "two"})
	post := rec("post", map[string]any{
		"title":    "hello",
		"author":   alice,
		"comments": []*mapper.Record{one, two},
	})

	log := e.persist(t, post)

	assert.Equal(t, []string{
		`insert user(name="alice") returning id`,
		`insert post(author_id=1, title="hello") returning id`,
		`insert comment(body="one", post_id=1) returning id`,
		`insert comment(body="two", post_id=1) returning id`,
	}, log)
	assert.Equal(t, int64(1), two.Get("post_id"))
}

func TestTransaction_DroppedRequiredMemberIsDeleted(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	one := rec("comment", map[string]any{"body": "one"})
	two := rec("comment", map[string]any{"body": "two"})
	post := rec("post", map[string]any{
		"title":    "hello",
		"author":   alice,
		"comments": []*mapper.Record{one, two},
	})
	e.persist(t, post)

	post.Set("comments", []*mapper.Record{one})
	assert.Equal(t, []string{"delete comment where id=2"}, e.persist(t, post))
	assert.Len(t, e.db.Rows("comment"), 1)

	_, tracked := e.orm.Heap.Get(two)
	assert.False(t, tracked, "deleted member is detached from the heap")
}

func TestTransaction_DroppedNullableMemberIsDetached(t *testing.T) {
	e := newEnv(t, `
roles:
  folder:
    columns: [name]
    relations:
      - {name: files, kind: has_many, target: file, nullable: true}
  file:
    columns: [name]
`)
	a := rec("file", map[string]any{"name": "a"})
	b := rec("file", map[string]any{"name": "b"})
	folder := rec("folder", map[string]any{"name": "docs", "files": []*mapper.Record{a, b}})

	assert.Equal(t, []string{
		`insert folder(name="docs") returning id`,
		`insert file(folder_id=1, name="a") returning id`,
		`insert file(folder_id=1, name="b") returning id`,
	}, e.persist(t, folder))

	folder.Set("files", []*mapper.Record{a})
	assert.Equal(t, []string{"update file set folder_id=null where id=2"}, e.persist(t, folder))
	assert.Len(t, e.db.Rows("file"), 2)
}

func TestTransaction_RefersToCycle(t *testing.T) {
	e := newEnv(t, avatarSchema)
	bob := rec("user", map[string]any{"name": "bob"})
	img := rec("image", map[string]any{"url": "a.png", "owner": bob})
	bob.Set("avatar", img)

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(bob, true))
	require.NoError(t, tx.Run(context.Background()))

	assert.Equal(t, []string{
		`insert user(avatar_id=null, name="bob") returning id`,
		`insert image(owner_id=1, url="a.png") returning id`,
		"update user set avatar_id=1 where id=1",
	}, runner.Log())
	assert.LessOrEqual(t, tx.Passes(), 2)
	assert.Equal(t, int64(1), bob.Get("avatar_id"))
}

func TestTransaction_RequiredCycleIsUnresolved(t *testing.T) {
	e := newEnv(t, livelockSchema)
	a := rec("a", map[string]any{"name": "a"})
	b := rec("b", map[string]any{"name": "b", "a": a})
	a.Set("b", b)

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(a, true))
	err := tx.Run(context.Background())

	require.Error(t, err)
	assert.True(t, orm.IsUnresolved(err))
	assert.Equal(t, orm.ErrCodeUnresolved, orm.CodeOf(err))

	var ue *orm.UnresolvedError
	require.True(t, errors.As(err, &ue))
	require.Len(t, ue.Tuples, 2)
	assert.Equal(t, "a", ue.Tuples[0].Role)
	assert.Equal(t, []string{"b"}, ue.Tuples[0].Relations)
	assert.Equal(t, "b", ue.Tuples[1].Role)
	assert.Equal(t, []string{"a"}, ue.Tuples[1].Relations)
	assert.Contains(t, err.Error(), "store a (proposed) pending [b]")

	assert.Empty(t, runner.Log())
	assert.Equal(t, 1, runner.Rollbacks())
	assert.False(t, e.orm.Heap.Has(a), "objects first seen by a failed run are forgotten")
	assert.False(t, e.orm.Heap.Has(b))
}

func TestTransaction_UnassignedRequiredParentIsUnresolved(t *testing.T) {
	e := newEnv(t, blogSchema)
	post := rec("post", map[string]any{"title": "orphan"})

	tx := e.orm.NewTransaction(testutil.NewRunner(e.db))
	require.NoError(t, tx.Persist(post, true))
	err := tx.Run(context.Background())

	var ue *orm.UnresolvedError
	require.ErrorAs(t, err, &ue)
	require.Len(t, ue.Tuples, 1)
	assert.Equal(t, []string{"author"}, ue.Tuples[0].Relations)
}

func TestTransaction_RollbackIsAtomic(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})

	runner := testutil.NewRunner(e.db, testutil.FailAt(2, nil))
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(post, true))
	err := tx.Run(context.Background())

	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Empty(t, orm.CodeOf(err), "backend errors carry no engine code")
	assert.Equal(t, []string{`insert user(name="alice") returning id`}, runner.Log())
	assert.Equal(t, 1, runner.Rollbacks())
	assert.Zero(t, runner.Commits())
	assert.Empty(t, e.db.Rows("user"))
	assert.False(t, alice.Has("id"), "objects are not hydrated on failure")
	assert.False(t, e.orm.Heap.Has(alice))

	// The graph is unchanged, so a fresh run writes everything again.
	assert.Equal(t, []string{
		`insert user(name="alice") returning id`,
		`insert post(author_id=1, title="hello") returning id`,
	}, e.persist(t, post))
}

func TestTransaction_RollbackRestoresLoadedState(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	e.persist(t, alice)

	alice.Set("name", "alicia")
	runner := testutil.NewRunner(e.db, testutil.FailAt(1, nil))
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(alice, true))
	require.Error(t, tx.Run(context.Background()))

	state, ok := e.orm.Heap.Get(alice)
	require.True(t, ok)
	assert.Equal(t, "alice", state.Data["name"])
	assert.True(t, state.Persisted())

	assert.Equal(t, []string{`update user set name="alicia" where id=1`}, e.persist(t, alice))
}

func TestTransaction_FailedCommitRollsBack(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	boom := errors.New("commit refused")

	runner := testutil.NewRunner(e.db, testutil.FailCommit(boom))
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(alice, true))

	require.ErrorIs(t, tx.Run(context.Background()), boom)
	assert.Equal(t, 1, runner.Rollbacks())
	assert.Empty(t, e.db.Rows("user"))
	assert.False(t, alice.Has("id"))
}

func TestTransaction_FailureOnLastCommandRestoresGraph(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	one := rec("comment", map[string]any{"body": "one"})
	post := rec("post", map[string]any{"title": "hello", "author": alice, "comments": []*mapper.Record{one}})

	runner := testutil.NewRunner(e.db, testutil.FailAt(3, nil))
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(post, true))
	require.ErrorIs(t, tx.Run(context.Background()), testutil.ErrInjected)

	assert.Equal(t, []string{
		`insert user(name="alice") returning id`,
		`insert post(author_id=1, title="hello") returning id`,
	}, runner.Log())
	assert.Equal(t, 1, runner.Rollbacks())
	for _, obj := range []*mapper.Record{alice, post, one} {
		assert.False(t, obj.Has("id"), "%s is not hydrated", obj.Role())
		assert.False(t, e.orm.Heap.Has(obj), "%s is forgotten", obj.Role())
	}
	assert.False(t, post.Has("author_id"))
	assert.False(t, one.Has("post_id"))
	for _, table := range []string{"user", "post", "comment"} {
		assert.Empty(t, e.db.Rows(table), table)
	}

	assert.Len(t, e.persist(t, post), 3, "a fresh run writes the whole graph")
}

func TestTransaction_StoreWithoutCascade(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})
	e.persist(t, post)

	one := rec("comment", map[string]any{"body": "one"})
	post.Append("comments", one)
	post.Set("title", "t2")

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(post, false))
	require.NoError(t, tx.Run(context.Background()))

	assert.Equal(t, []string{`update post set title="t2" where id=1`}, runner.Log())
	assert.Empty(t, e.db.Rows("comment"))
	assert.False(t, e.orm.Heap.Has(one), "new members are left alone")

	assert.Equal(t, []string{`insert comment(body="one", post_id=1) returning id`}, e.persist(t, post),
		"the skipped member is picked up by the next cascading run")
}

func TestTransaction_StoreWithoutCascadeKeepsDroppedMembers(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	one := rec("comment", map[string]any{"body": "one"})
	post := rec("post", map[string]any{"title": "hello", "author": alice, "comments": []*mapper.Record{one}})
	e.persist(t, post)

	post.Set("comments", []*mapper.Record{})
	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(post, false))
	require.NoError(t, tx.Run(context.Background()))
	assert.Empty(t, runner.Log())
	assert.Len(t, e.db.Rows("comment"), 1)

	assert.Equal(t, []string{"delete comment where id=1"}, e.persist(t, post))
}

func TestTransaction_ParentWithoutCascadeIsUnresolved(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(post, false))
	err := tx.Run(context.Background())

	var ue *orm.UnresolvedError
	require.ErrorAs(t, err, &ue)
	require.Len(t, ue.Tuples, 1)
	assert.Equal(t, "post", ue.Tuples[0].Role)
	assert.Equal(t, []string{"author"}, ue.Tuples[0].Relations)
	assert.Empty(t, runner.Log())
	assert.False(t, e.orm.Heap.Has(alice))
}

func TestTransaction_MemberMovesBetweenOwners(t *testing.T) {
	tests := []struct {
		name     string
		newFirst bool
	}{
		{"old owner first", false},
		{"new owner first", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, blogSchema)
			alice := rec("user", map[string]any{"name": "alice"})
			one := rec("comment", map[string]any{"body": "one"})
			post := rec("post", map[string]any{"title": "hello", "author": alice, "comments": []*mapper.Record{one}})
			e.persist(t, post)

			p2 := rec("post", map[string]any{"title": "p2", "author": alice, "comments": []*mapper.Record{one}})
			post.Set("comments", []*mapper.Record{})

			objs := []any{post, p2}
			if tt.newFirst {
				objs = []any{p2, post}
			}
			assert.Equal(t, []string{
				`insert post(author_id=1, title="p2") returning id`,
				"update comment set post_id=2 where id=1",
			}, e.persist(t, objs...))

			rows := e.db.Rows("comment")
			require.Len(t, rows, 1)
			assert.Equal(t, int64(2), rows[0]["post_id"])
			assert.True(t, e.orm.Heap.Has(one))
			assert.Empty(t, e.persist(t, post, p2))
		})
	}
}

func TestTransaction_CorruptStateIsInvariant(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	e.persist(t, alice)

	state, ok := e.orm.Heap.Get(alice)
	require.True(t, ok)
	state.Relations["name"] = "x"

	alice.Set("name", "alicia")
	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(alice, true))
	err := tx.Run(context.Background())

	assert.True(t, orm.IsInvariant(err))
	assert.ErrorContains(t, err, `field "name" is both data and relation`)
	assert.Empty(t, runner.Log())
	assert.Equal(t, "alice", e.db.Rows("user")[0]["name"])
}

func TestTransaction_DeleteCascadesToMembers(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	one := rec("comment", map[string]any{"body": "one"})
	post := rec("post", map[string]any{"title": "hello", "author": alice, "comments": []*mapper.Record{one}})
	e.persist(t, post)

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Delete(post, true))
	require.NoError(t, tx.Run(context.Background()))

	assert.Equal(t, []string{
		"delete comment where id=1",
		"delete post where id=1",
	}, runner.Log())
	assert.False(t, e.orm.Heap.Has(post))
	assert.False(t, e.orm.Heap.Has(one))
	assert.Len(t, e.db.Rows("user"), 1)
}

func TestTransaction_DeleteWithoutCascade(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	one := rec("comment", map[string]any{"body": "one"})
	post := rec("post", map[string]any{"title": "hello", "author": alice, "comments": []*mapper.Record{one}})
	e.persist(t, post)

	// Members are left to the backend when the owner goes without cascade.
	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Delete(post, false))
	require.ErrorIs(t, tx.Run(context.Background()), testutil.ErrForeignKey)
	assert.Empty(t, runner.Log())

	runner = testutil.NewRunner(e.db)
	tx = e.orm.NewTransaction(runner)
	require.NoError(t, tx.Delete(one, false))
	require.NoError(t, tx.Run(context.Background()))
	assert.Equal(t, []string{"delete comment where id=1"}, runner.Log())
	assert.Len(t, e.db.Rows("post"), 1)
}

func TestTransaction_DeleteBlockedByBackend(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})
	e.persist(t, post)

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Delete(alice, false))
	err := tx.Run(context.Background())

	require.ErrorIs(t, err, testutil.ErrForeignKey)
	assert.Len(t, e.db.Rows("user"), 1)
	assert.True(t, e.orm.Heap.Has(alice), "a failed delete keeps the object tracked")
}

func TestTransaction_DeleteNeverPersisted(t *testing.T) {
	e := newEnv(t, blogSchema)
	ghost := rec("user", map[string]any{"name": "ghost"})

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Delete(ghost, true))
	require.NoError(t, tx.Run(context.Background()))

	assert.Empty(t, runner.Log())
	assert.False(t, e.orm.Heap.Has(ghost))
}

func TestTransaction_ForceDelete(t *testing.T) {
	e := newEnv(t, blogSchema)
	e.db.Seed("user", testutil.Row{"id": 7, "name": "old"})

	t.Run("untracked reference", func(t *testing.T) {
		runner := testutil.NewRunner(e.db)
		tx := e.orm.NewTransaction(runner)
		require.NoError(t, tx.ForceDelete(orm.NewReference("user", map[string]any{"id": int64(7)}), false))
		require.NoError(t, tx.Run(context.Background()))
		assert.Empty(t, runner.Log())
	})

	t.Run("tracked object", func(t *testing.T) {
		old := rec("user", map[string]any{"id": int64(7), "name": "old"})
		require.NoError(t, e.orm.Track(old, map[string]any{"id": int64(7), "name": "old"}))

		runner := testutil.NewRunner(e.db)
		tx := e.orm.NewTransaction(runner)
		require.NoError(t, tx.ForceDelete(orm.NewReference("user", map[string]any{"id": int64(7)}), false))
		require.NoError(t, tx.Run(context.Background()))

		assert.Equal(t, []string{"delete user where id=7"}, runner.Log())
		assert.Empty(t, e.db.Rows("user"))
		assert.False(t, e.orm.Heap.Has(old))
	})
}

func TestTransaction_TrackedObjectUpdates(t *testing.T) {
	e := newEnv(t, blogSchema)
	e.db.Seed("user", testutil.Row{"id": 7, "name": "old"})
	u := rec("user", map[string]any{"id": int64(7), "name": "old"})
	require.NoError(t, e.orm.Track(u, map[string]any{"id": int64(7), "name": "old"}))

	u.Set("name", "new")
	assert.Equal(t, []string{`update user set name="new" where id=7`}, e.persist(t, u))
	assert.Equal(t, "new", e.db.Rows("user")[0]["name"])
}

func TestTransaction_ReferenceSuppliesKey(t *testing.T) {
	e := newEnv(t, blogSchema)
	e.db.Seed("user", testutil.Row{"id": 7, "name": "old"})
	post := rec("post", map[string]any{
		"title":  "hello",
		"author": orm.NewReference("user", map[string]any{"id": int64(7)}),
	})

	assert.Equal(t, []string{`insert post(author_id=7, title="hello") returning id`}, e.persist(t, post))
}

func TestTransaction_NullableParentIsNulled(t *testing.T) {
	e := newEnv(t, `
roles:
  user:
    columns: [name]
  post:
    columns: [title]
    relations:
      - {name: editor, kind: belongs_to, target: user, nullable: true}
`)
	ed := rec("user", map[string]any{"name": "ed"})
	post := rec("post", map[string]any{"title": "hello", "editor": ed})
	e.persist(t, post)

	post.Set("editor", nil)
	assert.Equal(t, []string{"update post set editor_id=null where id=1"}, e.persist(t, post))
}

func TestTransaction_Embedded(t *testing.T) {
	e := newEnv(t, `
roles:
  address:
    embeddable: true
    columns: [city, zip]
  user:
    columns: [name]
    relations:
      - {name: address, kind: embedded, target: address}
`)
	addr := rec("address", map[string]any{"city": "Oslo", "zip": "0150"})
	u := rec("user", map[string]any{"name": "ada", "address": addr})

	assert.Equal(t, []string{
		`insert user(address_city="Oslo", address_zip="0150", name="ada") returning id`,
	}, e.persist(t, u))

	u.Set("address", nil)
	assert.Equal(t, []string{
		"update user set address_city=null, address_zip=null where id=1",
	}, e.persist(t, u))
}

func TestTransaction_UUIDKeys(t *testing.T) {
	e := newEnv(t, `
roles:
  tag:
    keys: uuid
    columns: [label]
`)
	a := rec("tag", map[string]any{"label": "go"})
	b := rec("tag", map[string]any{"label": "sql"})

	assert.Equal(t, []string{
		`insert tag(id="key-0001", label="go")`,
		`insert tag(id="key-0002", label="sql")`,
	}, e.persist(t, a, b))
	assert.Equal(t, "key-0001", a.Get("id"))

	tracked, _, ok := e.orm.Heap.Find("tag", map[string]any{"id": "key-0002"})
	require.True(t, ok)
	assert.Same(t, b, tracked)
}

func TestTransaction_PassLimit(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner, orm.WithMaxPasses(1))
	require.NoError(t, tx.Persist(post, true))
	err := tx.Run(context.Background())

	var pe *orm.PassLimitError
	require.ErrorAs(t, err, &pe)
	assert.True(t, orm.IsPassLimit(err))
	assert.Equal(t, 1, pe.Limit)
	assert.NotEmpty(t, pe.Unresolved)
	assert.Equal(t, 1, runner.Rollbacks())
	assert.Empty(t, e.db.Rows("user"))
}

func TestTransaction_PassLimitReportsDeleteRelations(t *testing.T) {
	e := newEnv(t, blogSchema)
	alice := rec("user", map[string]any{"name": "alice"})
	one := rec("comment", map[string]any{"body": "one"})
	post := rec("post", map[string]any{"title": "hello", "author": alice, "comments": []*mapper.Record{one}})
	e.persist(t, post)

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner, orm.WithMaxPasses(1))
	require.NoError(t, tx.Delete(post, true))
	err := tx.Run(context.Background())

	var pe *orm.PassLimitError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Unresolved, 1)
	assert.Equal(t, "post", pe.Unresolved[0].Role)
	assert.Equal(t, orm.TaskDelete, pe.Unresolved[0].Task)
	assert.Equal(t, []string{"comments"}, pe.Unresolved[0].Relations, "a delete never waits on its parents")
	assert.Len(t, e.db.Rows("comment"), 1)
}

func TestTransaction_NilAndUncomparable(t *testing.T) {
	e := newEnv(t, blogSchema)
	tx := e.orm.NewTransaction(testutil.NewRunner(e.db))

	assert.Error(t, tx.Persist(nil, true))
	assert.Error(t, tx.Delete(map[string]any{}, true))
}

func TestTransaction_UnknownRoleIsInvariant(t *testing.T) {
	e := newEnv(t, blogSchema)
	tx := e.orm.NewTransaction(testutil.NewRunner(e.db))
	require.NoError(t, tx.Persist(rec("ghost", nil), true))

	err := tx.Run(context.Background())
	assert.True(t, orm.IsInvariant(err))
	assert.Equal(t, orm.ErrCodeInvariant, orm.CodeOf(err))
}

func TestTransaction_CanceledContext(t *testing.T) {
	e := newEnv(t, blogSchema)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := testutil.NewRunner(e.db)
	tx := e.orm.NewTransaction(runner)
	require.NoError(t, tx.Persist(rec("user", map[string]any{"name": "x"}), true))

	require.ErrorIs(t, tx.Run(ctx), context.Canceled)
	assert.Empty(t, runner.Log())
	assert.Equal(t, 1, runner.Rollbacks())
}

func TestTransaction_Observer(t *testing.T) {
	var kinds []orm.EventKind
	var commands []string
	obs := orm.ObserverFunc(func(ev orm.Event) {
		assert.Equal(t, "tx-test", ev.TxID)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == orm.EventCommand {
			commands = append(commands, ev.CommandKind)
		}
	})
	e := newEnv(t, blogSchema, orm.WithObserver(obs))
	alice := rec("user", map[string]any{"name": "alice"})
	post := rec("post", map[string]any{"title": "hello", "author": alice})

	e.persist(t, post)

	assert.Equal(t, []string{"insert", "insert"}, commands)
	assert.Contains(t, kinds, orm.EventPrepare)
	assert.Contains(t, kinds, orm.EventWait)
	assert.Contains(t, kinds, orm.EventResolve)
	assert.Equal(t, orm.EventCommit, kinds[len(kinds)-1])
}

func TestTransaction_ObserverSeesRollback(t *testing.T) {
	var last orm.Event
	var count int
	first := orm.ObserverFunc(func(ev orm.Event) { last = ev })
	second := orm.ObserverFunc(func(orm.Event) { count++ })
	e := newEnv(t, livelockSchema, orm.WithObserver(first), orm.WithObserver(second))

	a := rec("a", map[string]any{"name": "a"})
	b := rec("b", map[string]any{"name": "b", "a": a})
	a.Set("b", b)

	tx := e.orm.NewTransaction(testutil.NewRunner(e.db))
	require.NoError(t, tx.Persist(a, true))
	require.Error(t, tx.Run(context.Background()))

	assert.Equal(t, orm.EventRollback, last.Kind)
	assert.Positive(t, count)
}

func TestTransaction_IDs(t *testing.T) {
	e := newEnv(t, blogSchema, orm.WithIDGenerator(orm.NewFixedGenerator("tx-1", "tx-2")))
	runner := testutil.NewRunner(e.db)

	assert.Equal(t, "tx-1", e.orm.NewTransaction(runner).ID())
	assert.Equal(t, "tx-2", e.orm.NewTransaction(runner).ID())
	assert.Equal(t, "given", e.orm.NewTransaction(runner, orm.WithID("given")).ID())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := orm.New(nil, command.NewGenerator())
	assert.Error(t, err)

	reg, err := schema.Compile(&schema.Document{Roles: map[string]schema.RoleDoc{"user": {Columns: []string{"name"}}}})
	require.NoError(t, err)
	_, err = orm.New(reg, nil)
	assert.Error(t, err)
}

type account struct {
	ID   int64
	Name string
}

type accountMapper struct{}

func (accountMapper) Extract(obj any) (map[string]any, error) {
	a := obj.(*account)
	out := map[string]any{"name": a.Name}
	if a.ID != 0 {
		out["id"] = a.ID
	}
	return out, nil
}

func (accountMapper) FetchRelations(any) (map[string]any, error) {
	return nil, nil
}

func (accountMapper) Hydrate(obj any, data map[string]any) error {
	if id, ok := data["id"].(int64); ok {
		obj.(*account).ID = id
	}
	return nil
}

func TestTransaction_BoundGoType(t *testing.T) {
	e := newEnv(t, "roles: {account: {columns: [name]}}")
	reg := e.orm.Registry.(*schema.Registry)
	require.NoError(t, reg.Bind(&account{}, "account", accountMapper{}))

	acme := &account{Name: "acme"}
	assert.Equal(t, []string{`insert account(name="acme") returning id`}, e.persist(t, acme))
	assert.Equal(t, int64(1), acme.ID, "generated key hydrated onto the struct")

	acme.Name = "acme corp"
	assert.Equal(t, []string{`update account set name="acme corp" where id=1`}, e.persist(t, acme))
}
