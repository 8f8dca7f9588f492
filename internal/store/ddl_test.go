package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDDL_SQLite(t *testing.T) {
	stmts := DDL(SQLite, compile(t, blogSchema))
	require.Len(t, stmts, 4)

	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"comment\" (\n"+
		"  \"id\" INTEGER PRIMARY KEY AUTOINCREMENT,\n"+
		"  \"body\" TEXT,\n"+
		"  \"post_id\" INTEGER,\n"+
		"  FOREIGN KEY (\"post_id\") REFERENCES \"post\" (\"id\")\n"+
		")", stmts[0])
	assert.Contains(t, stmts[1], `FOREIGN KEY ("author_id") REFERENCES "user" ("id")`)
	assert.Contains(t, stmts[2], `CREATE TABLE IF NOT EXISTS "user"`)
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "user_name_key" ON "user" ("name")`, stmts[3])
}

func TestDDL_Postgres(t *testing.T) {
	stmts := DDL(Postgres, compile(t, blogSchema))
	require.Len(t, stmts, 6)

	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"comment\" (\n"+
		"  \"id\" BIGSERIAL PRIMARY KEY,\n"+
		"  \"body\" TEXT,\n"+
		"  \"post_id\" BIGINT\n"+
		")", stmts[0])
	assert.Equal(t, []string{
		`ALTER TABLE "comment" ADD CONSTRAINT "comment_post_id_fkey" FOREIGN KEY ("post_id") REFERENCES "post" ("id")`,
		`ALTER TABLE "post" ADD CONSTRAINT "post_author_id_fkey" FOREIGN KEY ("author_id") REFERENCES "user" ("id")`,
	}, stmts[4:], "constraints follow every table")
}

func TestDDL_CompositeKeys(t *testing.T) {
	reg := compile(t, `
roles:
  account:
    primary_key: [tenant, number]
    keys: none
    columns: [label]
    types: {number: integer}
  money:
    embeddable: true
    columns: [amount]
    types: {amount: real}
  invoice:
    keys: uuid
    columns: [paid]
    types: {id: text, paid: boolean}
    relations:
      - {name: account, kind: belongs_to, target: account}
      - {name: total, kind: embedded, target: money}
`)
	stmts := DDL(SQLite, reg)
	require.Len(t, stmts, 2, "embeddable roles own no table")

	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"account\" (\n"+
		"  \"tenant\" TEXT NOT NULL,\n"+
		"  \"number\" INTEGER NOT NULL,\n"+
		"  \"label\" TEXT,\n"+
		"  PRIMARY KEY (\"tenant\", \"number\")\n"+
		")", stmts[0])
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"invoice\" (\n"+
		"  \"id\" TEXT NOT NULL,\n"+
		"  \"paid\" INTEGER,\n"+
		"  \"account_tenant\" TEXT,\n"+
		"  \"account_number\" INTEGER,\n"+
		"  \"total_amount\" REAL,\n"+
		"  PRIMARY KEY (\"id\"),\n"+
		"  FOREIGN KEY (\"account_tenant\", \"account_number\") REFERENCES \"account\" (\"tenant\", \"number\")\n"+
		")", stmts[1])
}
