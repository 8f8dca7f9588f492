package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"sqlite", "sqlite"},
		{"SQLite3", "sqlite"},
		{"postgres", "postgres"},
		{"postgresql", "postgres"},
		{"pgx", "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DialectFor(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name)
		})
	}

	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestDialect_Markers(t *testing.T) {
	assert.Equal(t, "?", SQLite.Placeholder(3))
	assert.Equal(t, "$3", Postgres.Placeholder(3))
	assert.False(t, SQLite.Returning)
	assert.True(t, Postgres.Returning)

	assert.Equal(t, `"user"`, SQLite.Quote("user"))
	assert.Equal(t, `"a""b"`, SQLite.Quote(`a"b`))
	assert.Equal(t, `"post.comments"`, Postgres.Quote("post.comments"))
	assert.Equal(t, `"a", "b"`, SQLite.quoteAll([]string{"a", "b"}))
}
