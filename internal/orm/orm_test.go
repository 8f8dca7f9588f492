package orm_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/relation"
)

func TestErrors(t *testing.T) {
	tuple := orm.UnresolvedTuple{Role: "post", Task: orm.TaskStore, Status: orm.TupleProposed, Relations: []string{"author"}}
	unresolved := &orm.UnresolvedError{TxID: "tx", Tuples: []orm.UnresolvedTuple{tuple}, Passes: 2}
	invariant := &orm.InvariantError{Role: "post", Message: "no mapper registered"}
	limit := &orm.PassLimitError{TxID: "tx", Limit: 3, Unresolved: []orm.UnresolvedTuple{tuple}}

	tests := []struct {
		name    string
		err     error
		message string
		code    orm.ErrorCode
	}{
		{
			name:    "unresolved",
			err:     unresolved,
			message: "UNRESOLVED_RELATIONS: 1 tuple(s) unresolved after 2 pass(es): store post (proposed) pending [author]",
			code:    orm.ErrCodeUnresolved,
		},
		{
			name:    "invariant",
			err:     invariant,
			message: "INVARIANT_VIOLATION: post: no mapper registered",
			code:    orm.ErrCodeInvariant,
		},
		{
			name:    "invariant without role",
			err:     &orm.InvariantError{Message: "no role bound for int"},
			message: "INVARIANT_VIOLATION: no role bound for int",
			code:    orm.ErrCodeInvariant,
		},
		{
			name:    "pass limit",
			err:     limit,
			message: "PASS_LIMIT: transaction tx stopped after 3 passes with 1 tuple(s) left",
			code:    orm.ErrCodePassLimit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error())
			assert.Equal(t, tt.code, orm.CodeOf(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}

	wrapped := fmt.Errorf("run: %w", unresolved)
	assert.True(t, orm.IsUnresolved(wrapped))
	assert.False(t, orm.IsInvariant(wrapped))
	assert.True(t, orm.IsInvariant(fmt.Errorf("x: %w", invariant)))
	assert.True(t, orm.IsPassLimit(limit))
	assert.Empty(t, orm.CodeOf(fmt.Errorf("disk full")))
}

func TestUnresolvedTuple_String(t *testing.T) {
	u := orm.UnresolvedTuple{Role: "comment", Task: orm.TaskDelete, Status: orm.TupleWaiting}
	assert.Equal(t, "delete comment (waiting)", u.String())

	u.Relations = []string{"post", "author"}
	assert.Equal(t, "delete comment (waiting) pending [post, author]", u.String())
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "store", orm.TaskStore.String())
	assert.Equal(t, "delete", orm.TaskDelete.String())
	assert.Equal(t, "force_delete", orm.TaskForceDelete.String())
	assert.Equal(t, "unknown", orm.Task(0).String())

	assert.Equal(t, "master", orm.SideMaster.String())
	assert.Equal(t, "slave", orm.SideSlave.String())
	assert.Equal(t, "embedded", orm.SideEmbedded.String())
	assert.Equal(t, "unknown", orm.Side(0).String())

	assert.Equal(t, "unprocessed", orm.TupleUnprocessed.String())
	assert.Equal(t, "preparing", orm.TuplePreparing.String())
	assert.Equal(t, "deferred", orm.TupleDeferred.String())
	assert.Equal(t, "processed", orm.TupleProcessed.String())
	assert.Equal(t, "unknown", orm.TupleStatus(42).String())
}

func TestReference(t *testing.T) {
	key := map[string]any{"tenant": "acme", "id": 7}
	ref := orm.NewReference("user", key)
	key["id"] = 8

	assert.Equal(t, "user(id=7,tenant=acme)", ref.String(), "the key is copied")

	values, ok := ref.Values([]string{"tenant", "id"})
	require.True(t, ok)
	assert.Equal(t, []any{"acme", 7}, values)

	_, ok = ref.Values([]string{"id", "missing"})
	assert.False(t, ok)

	nilKey := orm.NewReference("user", map[string]any{"id": nil})
	_, ok = nilKey.Values([]string{"id"})
	assert.False(t, ok)
}

func TestEntity(t *testing.T) {
	e := &orm.Entity{
		Role:       "post",
		PrimaryKey: []string{"id"},
		Indexes:    [][]string{{"slug"}, {"author_id", "title"}},
	}
	assert.True(t, e.IsPrimary("id"))
	assert.False(t, e.IsPrimary("slug"))
	assert.Equal(t, [][]string{{"id"}, {"slug"}, {"author_id", "title"}}, e.UniqueIndexes())
}

func TestRelationMap(t *testing.T) {
	author, err := relation.New(relation.Definition{
		Name: "author", Kind: relation.KindBelongsTo, Target: "user",
		InnerKeys: []string{"author_id"}, OuterKeys: []string{"id"}, Cascade: true,
	})
	require.NoError(t, err)
	comments, err := relation.New(relation.Definition{
		Name: "comments", Kind: relation.KindHasMany, Target: "comment",
		InnerKeys: []string{"id"}, OuterKeys: []string{"post_id"}, Shadow: "post.comments",
	})
	require.NoError(t, err)
	address, err := relation.New(relation.Definition{Name: "address", Kind: relation.KindEmbedded, Target: "address"})
	require.NoError(t, err)

	m, err := orm.NewRelationMap(comments, address, author)
	require.NoError(t, err)

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"author", "comments", "address"}, m.Names(), "names are grouped by side")
	assert.Equal(t, map[string]bool{"author": true, "comments": true, "address": true}, m.Declared())
	assert.Equal(t, []orm.Relation{author}, m.Side(orm.SideMaster))
	assert.Equal(t, []orm.Relation{author}, m.Cascading(orm.SideMaster))
	assert.Empty(t, m.Cascading(orm.SideSlave))

	got, ok := m.Get("comments")
	require.True(t, ok)
	assert.Same(t, comments, got)
	_, ok = m.Get("ghost")
	assert.False(t, ok)

	assert.ErrorContains(t, m.Add(author), `duplicate relation "author"`)

	var empty *orm.RelationMap
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.Names())
	_, ok = empty.Get("author")
	assert.False(t, ok)
}

func TestIDGenerators(t *testing.T) {
	id := orm.UUIDv7Generator{}.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	g := orm.NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestObservers_FanOut(t *testing.T) {
	var got []string
	obs := orm.Observers{
		orm.ObserverFunc(func(ev orm.Event) { got = append(got, "first:"+string(ev.Kind)) }),
		orm.ObserverFunc(func(ev orm.Event) { got = append(got, "second:"+string(ev.Kind)) }),
	}
	obs.Observe(orm.Event{Kind: orm.EventCommit})
	assert.Equal(t, []string{"first:commit", "second:commit"}, got)
}
