// Package storage provides the PostgreSQL-backed collaborators consumed
// by the streaming core: annotation fetch, URI expansion and user flag
// lookup. All reads run inside the per-message read-only serializable
// transaction owned by the dispatcher.
package storage

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hypothesis/h-sub005/errors"
	"github.com/hypothesis/h-sub005/streamer"
)

// DB wraps a pgx connection pool and implements the streamer's
// transactional collaborator interfaces.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects a pool against url. maxConns <= 0 keeps the pgx default.
func Open(ctx context.Context, url string, maxConns int, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.WrapInvalid(err, "storage", "Open", "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WrapFatal(err, "storage", "Open", "create connection pool")
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &DB{pool: pool, logger: logger.With("component", "storage")}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping verifies database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return errors.WrapTransient(err, "storage", "Ping", "reach database")
	}
	return nil
}

// tx adapts a pgx transaction to the streamer's Tx interface. Commit and
// Rollback promote from the embedded transaction.
type tx struct {
	pgx.Tx
}

// Begin opens one read-only serializable transaction. The dispatcher only
// ever reads from it; the isolation level gives each message a consistent
// snapshot.
func (db *DB) Begin(ctx context.Context) (streamer.Tx, error) {
	pgxTx, err := db.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "storage", "Begin", "begin transaction")
	}
	return &tx{Tx: pgxTx}, nil
}

const annotationSelectSQL = `
SELECT id,
       userid,
       groupid,
       target_uri,
       text,
       tags,
       "references",
       shared,
       deleted,
       created,
       updated
FROM annotation
WHERE id = @id
`

// Fetch loads one annotation by id. Returns (nil, nil) when the row does
// not exist. Deleted rows are still returned so delete events can resolve
// their annotation id.
func (db *DB) Fetch(ctx context.Context, t streamer.Tx, id string) (*streamer.Annotation, error) {
	pgxTx, err := unwrap(t)
	if err != nil {
		return nil, err
	}

	var (
		ann        streamer.Annotation
		tags       []string
		references []string
		created    time.Time
		updated    time.Time
	)
	row := pgxTx.QueryRow(ctx, annotationSelectSQL, pgx.NamedArgs{"id": id})
	err = row.Scan(&ann.ID, &ann.UserID, &ann.GroupID, &ann.TargetURI, &ann.Text,
		&tags, &references, &ann.Shared, &ann.Deleted, &created, &updated)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "storage", "Fetch", "select annotation")
	}

	ann.Tags = tags
	ann.References = references
	ann.CreatedAt = created
	ann.UpdatedAt = updated
	return &ann, nil
}

const uriExpandSQL = `
SELECT DISTINCT du2.uri
FROM document_uri du1
JOIN document_uri du2 ON du2.document_id = du1.document_id
WHERE du1.uri_normalized = @uri
`

// ExpandURIs returns every URI considered document-equivalent to target.
// When the document is unknown the target itself is the only member.
func (db *DB) ExpandURIs(ctx context.Context, t streamer.Tx, target string) ([]string, error) {
	pgxTx, err := unwrap(t)
	if err != nil {
		return nil, err
	}

	rows, err := pgxTx.Query(ctx, uriExpandSQL, pgx.NamedArgs{"uri": target})
	if err != nil {
		return nil, errors.WrapTransient(err, "storage", "ExpandURIs", "select equivalent uris")
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errors.WrapTransient(err, "storage", "ExpandURIs", "scan uri row")
		}
		uris = append(uris, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "storage", "ExpandURIs", "iterate uri rows")
	}

	if len(uris) == 0 {
		return []string{target}, nil
	}
	return uris, nil
}

const nipsaSelectSQL = `
SELECT nipsa
FROM "user"
WHERE userid = @userid
`

// Flagged reports whether userID's content is shadow-hidden. Unknown
// users are not flagged.
func (db *DB) Flagged(ctx context.Context, t streamer.Tx, userID string) (bool, error) {
	pgxTx, err := unwrap(t)
	if err != nil {
		return false, err
	}

	var flagged bool
	err = pgxTx.QueryRow(ctx, nipsaSelectSQL, pgx.NamedArgs{"userid": userID}).Scan(&flagged)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "storage", "Flagged", "select user flag")
	}
	return flagged, nil
}

// unwrap recovers the pgx transaction behind a streamer.Tx.
func unwrap(t streamer.Tx) (pgx.Tx, error) {
	wrapped, ok := t.(*tx)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"storage", "unwrap", "recover pgx transaction")
	}
	return wrapped.Tx, nil
}
