package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	src := map[string]any{"name": "ada"}
	r := NewRecord("user", src)
	src["name"] = "changed"

	assert.Equal(t, "user", r.Role())
	assert.Equal(t, "ada", r.Get("name"), "fields are copied")
	assert.Nil(t, r.Get("missing"))

	r.Set("avatar", nil)
	assert.True(t, r.Has("avatar"))
	_, ok := r.Lookup("avatar")
	assert.True(t, ok)

	r.Unset("avatar")
	assert.False(t, r.Has("avatar"))

	fields := r.Fields()
	fields["name"] = "mutated"
	assert.Equal(t, "ada", r.Get("name"))
}

func TestRecord_Append(t *testing.T) {
	post := NewRecord("post", nil)
	one := NewRecord("comment", nil)
	two := NewRecord("comment", nil)

	post.Append("comments", one)
	before := post.Get("comments").([]*Record)
	post.Append("comments", two)

	assert.Equal(t, []*Record{one, two}, post.Get("comments"))
	assert.Len(t, before, 1, "append never aliases the previous slice")
}

func TestRecord_String(t *testing.T) {
	author := NewRecord("user", nil)
	post := NewRecord("post", map[string]any{
		"title":    "hello",
		"author":   author,
		"comments": []*Record{NewRecord("comment", nil)},
	})
	assert.Equal(t, "post{author=user{...} comments=[1] title=hello}", post.String())
}

func TestRecordMapper(t *testing.T) {
	m := NewRecordMapper("post", []string{"id", "title", "author_id"}, []string{"author", "comments"})
	author := NewRecord("user", nil)
	post := NewRecord("post", map[string]any{"title": "hello", "author": author, "draft": true})

	values, err := m.Extract(post)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "hello"}, values, "unset and unmapped fields are omitted")

	related, err := m.FetchRelations(post)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"author": author}, related)

	require.NoError(t, m.Hydrate(post, map[string]any{"id": int64(1), "author_id": int64(2), "other": "x"}))
	assert.Equal(t, int64(1), post.Get("id"))
	assert.Equal(t, int64(2), post.Get("author_id"))
	assert.False(t, post.Has("other"))
}

func TestRecordMapper_RejectsForeignObjects(t *testing.T) {
	m := NewRecordMapper("post", []string{"id"}, nil)

	_, err := m.Extract(NewRecord("user", nil))
	assert.ErrorContains(t, err, "record of role user")

	_, err = m.FetchRelations(struct{}{})
	assert.ErrorContains(t, err, "want *Record")

	assert.Error(t, m.Hydrate("post", nil))
}
