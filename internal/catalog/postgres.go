package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/statekeeper/internal/model"
)

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists records in the catalog_records table.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, environment, ts, kind, artifact_location, byte_size, resource_count, tool_version, serial, lineage, checksum, operator, revision, branch, note, source_backup_ref, pre_restore_backup_ref, seq`

func (s *PostgresStore) Append(ctx context.Context, rec model.Record) (model.Record, error) {
	err := s.db.QueryRow(ctx,
		`INSERT INTO catalog_records (id, environment, ts, kind, artifact_location, byte_size, resource_count, tool_version, serial, lineage, checksum, operator, revision, branch, note, source_backup_ref, pre_restore_backup_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING seq`,
		rec.ID, string(rec.Environment), rec.Timestamp, string(rec.Kind), rec.ArtifactLocation,
		rec.ByteSize, rec.ResourceCount, rec.ToolVersion, rec.Serial, rec.Lineage, rec.Checksum,
		rec.Operator, rec.Revision, rec.Branch, rec.Note, rec.SourceBackupRef, rec.PreRestoreBackupRef,
	).Scan(&rec.Seq)
	if err != nil {
		return model.Record{}, fmt.Errorf("insert catalog record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Load(ctx context.Context, envs []model.Environment) ([]model.Record, error) {
	names := make([]string, len(envs))
	for i, e := range envs {
		names[i] = string(e)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM catalog_records WHERE environment = ANY($1) ORDER BY seq`, names)
	if err != nil {
		return nil, fmt.Errorf("list catalog records: %w", err)
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		var (
			r         model.Record
			env, kind string
			ts        time.Time
		)
		if err := rows.Scan(&r.ID, &env, &ts, &kind, &r.ArtifactLocation, &r.ByteSize, &r.ResourceCount,
			&r.ToolVersion, &r.Serial, &r.Lineage, &r.Checksum, &r.Operator, &r.Revision, &r.Branch,
			&r.Note, &r.SourceBackupRef, &r.PreRestoreBackupRef, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan catalog record: %w", err)
		}
		r.Environment = model.Environment(env)
		r.Kind = model.Kind(kind)
		r.Timestamp = ts.UTC()
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog records: %w", err)
	}
	return recs, nil
}

func (s *PostgresStore) Remove(ctx context.Context, env model.Environment, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM catalog_records WHERE environment = $1 AND id = $2`, string(env), id)
	if err != nil {
		return fmt.Errorf("delete catalog record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s in %s", ErrNotFound, id, env)
	}
	return nil
}
