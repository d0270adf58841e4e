package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/statekeeper/internal/model"
)

func TestPostgresStore_Append(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{
		scanFunc: func(dest ...any) error {
			*(dest[0].(*int64)) = 42
			return nil
		},
	})

	rec, err := s.Append(ctx, model.Record{ID: "rec-1", Environment: model.EnvStaging, Timestamp: base, Kind: model.KindManual})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.Seq)
	assert.Equal(t, "rec-1", rec.ID)
	db.AssertExpectations(t)
}

func TestPostgresStore_AppendError(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(&mockRow{
		scanFunc: func(dest ...any) error { return errors.New("duplicate key") },
	})

	_, err := s.Append(ctx, model.Record{ID: "rec-1", Environment: model.EnvStaging, Timestamp: base, Kind: model.KindManual})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert catalog record")
}

func scanRecord(id, env, kind string, ts time.Time, seq int64) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = env
		*(dest[2].(*time.Time)) = ts
		*(dest[3].(*string)) = kind
		*(dest[4].(*string)) = env + "/" + id + ".tfstate"
		*(dest[5].(*int64)) = 128
		*(dest[6].(*int)) = 3
		*(dest[7].(*string)) = "1.9.0"
		*(dest[17].(*int64)) = seq
		return nil
	}
}

func TestPostgresStore_Load(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	local := time.FixedZone("CEST", 2*60*60)
	rows := newMockRows(
		scanRecord("a", "staging", "manual", base.In(local), 1),
		scanRecord("b", "staging", "restore", base.Add(time.Minute), 2),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{[]string{"staging"}}).Return(rows, nil)

	recs, err := s.Load(ctx, []model.Environment{model.EnvStaging})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.EnvStaging, recs[0].Environment)
	assert.Equal(t, model.KindManual, recs[0].Kind)
	assert.Equal(t, time.UTC, recs[0].Timestamp.Location())
	assert.Equal(t, 3, recs[0].ResourceCount)
	assert.Equal(t, model.KindRestore, recs[1].Kind)
	assert.Equal(t, int64(2), recs[1].Seq)
}

func TestPostgresStore_LoadQueryError(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := s.Load(ctx, model.AllEnvironments)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresStore_LoadRowsError(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	rows := newMockRows()
	rows.err = errors.New("stream reset")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := s.Load(ctx, model.AllEnvironments)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterate catalog records")
}

func TestPostgresStore_Remove(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"production", "rec-1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, s.Remove(ctx, model.EnvProduction, "rec-1"))
	db.AssertExpectations(t)
}

func TestPostgresStore_RemoveMissing(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	err := s.Remove(ctx, model.EnvProduction, "rec-1")
	require.ErrorIs(t, err, ErrNotFound)
}
