package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects against the database named by
// STREAMD_TEST_DATABASE_URL, skipping when unset. The schema is expected
// to be migrated already.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("STREAMD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STREAMD_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	db, err := Open(ctx, url, 2, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Ping(ctx))
	return db
}

func TestOpenRejectsBadURL(t *testing.T) {
	_, err := Open(t.Context(), "://not-a-url", 0, nil)
	assert.Error(t, err)
}

func TestBeginIsReadOnly(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(t.Context()) }()

	pgxTx, err := unwrap(tx)
	require.NoError(t, err)

	_, err = pgxTx.Exec(t.Context(), `CREATE TABLE readonly_probe (id int)`)
	assert.Error(t, err, "writes must fail inside a read-only transaction")
}

func TestFetchMissingAnnotation(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(t.Context()) }()

	ann, err := db.Fetch(t.Context(), tx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, ann)
}

func TestExpandURIsUnknownDocument(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(t.Context()) }()

	uris, err := db.ExpandURIs(t.Context(), tx, "https://nowhere.example.org/doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://nowhere.example.org/doc"}, uris)
}

func TestFlaggedUnknownUser(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(t.Context())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(t.Context()) }()

	flagged, err := db.Flagged(t.Context(), tx, "acct:nobody@example.com")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestUnwrapRejectsForeignTx(t *testing.T) {
	_, err := unwrap(nil)
	assert.Error(t, err)
}
