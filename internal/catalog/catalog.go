// Package catalog is the append-only index of backup and restore records.
//
// Records are persisted by a Store (JSON Lines files or Postgres). The Catalog
// adds ordering, filtering, reference resolution and pruning; pruning is the
// only deletion path and always removes the artifact before the entry.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/statekeeper/internal/archive"
	"github.com/edvin/statekeeper/internal/model"
)

// ErrNotFound is returned when a record or reference cannot be resolved.
var ErrNotFound = errors.New("catalog record not found")

// ErrAmbiguous is returned when a reference prefix matches several records.
var ErrAmbiguous = errors.New("ambiguous record reference")

// minPrefixLen is the shortest record ID prefix accepted as a reference.
const minPrefixLen = 8

// RefLatest resolves to the most recent backup record of an environment.
const RefLatest = "latest"

// Store persists records.
type Store interface {
	// Append persists rec and returns it with Seq assigned.
	Append(ctx context.Context, rec model.Record) (model.Record, error)
	// Load returns every live record for the given environments in insertion order.
	Load(ctx context.Context, envs []model.Environment) ([]model.Record, error)
	// Remove deletes a record. It returns ErrNotFound if the record does not exist.
	Remove(ctx context.Context, env model.Environment, id string) error
}

// Filter selects records for List. Zero values mean "no constraint".
type Filter struct {
	Environments []model.Environment
	Kinds        []model.Kind
	Since        time.Time
	Until        time.Time
	Limit        int
}

func (f Filter) environments() []model.Environment {
	if len(f.Environments) == 0 {
		return model.AllEnvironments
	}
	return f.Environments
}

func (f Filter) match(r model.Record) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, r.Kind) {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Catalog is the queryable index over a Store.
type Catalog struct {
	store   Store
	archive archive.Archive
	logger  zerolog.Logger
}

// New creates a Catalog. The archive is used by Prune to delete artifacts.
func New(store Store, arch archive.Archive, logger zerolog.Logger) *Catalog {
	return &Catalog{
		store:   store,
		archive: arch,
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// Append validates and persists a record.
func (c *Catalog) Append(ctx context.Context, rec model.Record) (model.Record, error) {
	if !rec.Environment.Valid() {
		return model.Record{}, fmt.Errorf("append record: %w %q", model.ErrUnknownEnvironment, rec.Environment)
	}
	if rec.ID == "" {
		return model.Record{}, errors.New("append record: missing id")
	}
	if _, ok := model.ParseKind(string(rec.Kind)); !ok {
		return model.Record{}, fmt.Errorf("append record: invalid kind %q", rec.Kind)
	}
	if rec.Timestamp.IsZero() {
		return model.Record{}, errors.New("append record: missing timestamp")
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(model.TimestampPrecision)

	saved, err := c.store.Append(ctx, rec)
	if err != nil {
		return model.Record{}, fmt.Errorf("append %s record for %s: %w", rec.Kind, rec.Environment, err)
	}
	c.logger.Debug().
		Str("environment", string(saved.Environment)).
		Str("record_id", saved.ID).
		Str("kind", string(saved.Kind)).
		Int64("seq", saved.Seq).
		Msg("record appended")
	return saved, nil
}

// List returns the records matching f, most recent first. Timestamp ties are
// ordered by insertion, later first. The returned sequence iterates a snapshot
// taken at call time and may be ranged over any number of times.
func (c *Catalog) List(ctx context.Context, f Filter) (iter.Seq[model.Record], error) {
	recs, err := c.store.Load(ctx, f.environments())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	sortDescending(recs)

	return func(yield func(model.Record) bool) {
		n := 0
		for _, r := range recs {
			if f.Limit > 0 && n >= f.Limit {
				return
			}
			if !f.match(r) {
				continue
			}
			n++
			if !yield(r) {
				return
			}
		}
	}, nil
}

// Records is List collected into a slice.
func (c *Catalog) Records(ctx context.Context, f Filter) ([]model.Record, error) {
	seq, err := c.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

func sortDescending(recs []model.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.After(recs[j].Timestamp)
		}
		return recs[i].Seq > recs[j].Seq
	})
}

// Get returns the record with the given ID.
func (c *Catalog) Get(ctx context.Context, env model.Environment, id string) (model.Record, error) {
	recs, err := c.store.Load(ctx, []model.Environment{env})
	if err != nil {
		return model.Record{}, fmt.Errorf("load catalog: %w", err)
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return model.Record{}, fmt.Errorf("%w: %s in %s", ErrNotFound, id, env)
}

// Resolve finds a backup record by reference: "latest", a record ID, an ID
// prefix of at least eight characters, an artifact location or its base name.
func (c *Catalog) Resolve(ctx context.Context, env model.Environment, ref string) (model.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Record{}, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	backups, err := c.Records(ctx, Filter{
		Environments: []model.Environment{env},
		Kinds:        []model.Kind{model.KindManual, model.KindScheduled, model.KindPreRestore},
	})
	if err != nil {
		return model.Record{}, err
	}

	if ref == RefLatest {
		if len(backups) == 0 {
			return model.Record{}, fmt.Errorf("%w: no backups for %s", ErrNotFound, env)
		}
		return backups[0], nil
	}

	for _, r := range backups {
		if r.ID == ref || (r.ArtifactLocation != "" && r.ArtifactLocation == ref) {
			return r, nil
		}
	}

	var matches []model.Record
	for _, r := range backups {
		if r.ArtifactLocation != "" && path.Base(r.ArtifactLocation) == ref {
			matches = append(matches, r)
		} else if len(ref) >= minPrefixLen && strings.HasPrefix(r.ID, ref) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return model.Record{}, fmt.Errorf("%w: %q in %s", ErrNotFound, ref, env)
	case 1:
		return matches[0], nil
	default:
		return model.Record{}, fmt.Errorf("%w: %q matches %d records in %s", ErrAmbiguous, ref, len(matches), env)
	}
}

// Latest returns a reference to the most recent record of any kind.
func (c *Catalog) Latest(ctx context.Context, env model.Environment) (model.LatestReference, error) {
	recs, err := c.Records(ctx, Filter{Environments: []model.Environment{env}, Limit: 1})
	if err != nil {
		return model.LatestReference{}, err
	}
	if len(recs) == 0 {
		return model.LatestReference{}, fmt.Errorf("%w: no records for %s", ErrNotFound, env)
	}
	return model.LatestReference{Environment: env, RecordID: recs[0].ID}, nil
}

// Stats summarizes the records of one environment.
func (c *Catalog) Stats(ctx context.Context, env model.Environment) (model.CatalogStats, error) {
	recs, err := c.Records(ctx, Filter{Environments: []model.Environment{env}})
	if err != nil {
		return model.CatalogStats{}, err
	}

	stats := model.CatalogStats{Environment: env, Counts: map[model.Kind]int{}}
	for _, r := range recs {
		stats.Counts[r.Kind]++
		if r.IsRestore() {
			if stats.LastRestore == nil {
				ts := r.Timestamp
				stats.LastRestore = &ts
			}
			continue
		}
		stats.TotalBytes += r.ByteSize
		ts := r.Timestamp
		if stats.NewestBackup == nil {
			stats.NewestBackup = &ts
		}
		stats.OldestBackup = &ts
	}
	return stats, nil
}

// Prune enforces keep on the manual and scheduled backups of env, deleting
// the oldest excess records. It returns the number of records removed.
func (c *Catalog) Prune(ctx context.Context, env model.Environment, keep int) (int, error) {
	return c.prune(ctx, env, keep, model.Record.CountsTowardRetention)
}

// PrunePreRestore enforces keep on the pre-restore backups of env. A
// pre-restore backup referenced by a restore record is never removed, so
// every cataloged restore stays undoable; keep then bounds only the rest.
func (c *Catalog) PrunePreRestore(ctx context.Context, env model.Environment, keep int) (int, error) {
	return c.prune(ctx, env, keep, func(r model.Record) bool { return r.Kind == model.KindPreRestore })
}

func (c *Catalog) prune(ctx context.Context, env model.Environment, keep int, match func(model.Record) bool) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune %s: keep count must be at least 1, got %d", env, keep)
	}

	recs, err := c.Records(ctx, Filter{Environments: []model.Environment{env}})
	if err != nil {
		return 0, err
	}
	undo := make(map[string]bool)
	for _, r := range recs {
		if r.IsRestore() && r.PreRestoreBackupRef != "" {
			undo[r.PreRestoreBackupRef] = true
		}
	}

	var candidates []model.Record
	for _, r := range recs {
		if match(r) && !undo[r.ID] {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) <= keep {
		return 0, nil
	}

	excess := candidates[keep:]
	removed := 0
	// Oldest first: walk the descending list backwards.
	for i := len(excess) - 1; i >= 0; i-- {
		r := excess[i]
		if r.ArtifactLocation != "" {
			if err := c.archive.Delete(ctx, r.ArtifactLocation); err != nil && !errors.Is(err, archive.ErrNotFound) {
				return removed, fmt.Errorf("prune %s: delete artifact for record %s: %w", env, r.ID, err)
			}
		}
		if err := c.store.Remove(ctx, env, r.ID); err != nil {
			return removed, fmt.Errorf("prune %s: remove record %s: %w", env, r.ID, err)
		}
		removed++
		c.logger.Info().
			Str("environment", string(env)).
			Str("record_id", r.ID).
			Str("kind", string(r.Kind)).
			Time("timestamp", r.Timestamp).
			Str("artifact", r.ArtifactLocation).
			Msg("pruned backup")
	}
	return removed, nil
}
