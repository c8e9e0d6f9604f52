// ABOUTME: Relational metadata backend over database/sql
// ABOUTME: One row per resource plus a reference table for inverse lookups

package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

const backend = "relational"

const columns = "id, internal_model, metadata, created_at, updated_at"

// Store keeps resources in folio_resources and their ID values in
// folio_references.
type Store struct {
	db      *sql.DB
	dialect Dialect
	factory *Factory
	opts    persistence.Options
}

var (
	_ persistence.MetadataAdapter = (*Store)(nil)
	_ persistence.Persister       = (*Store)(nil)
	_ persistence.QueryService    = (*Store)(nil)
)

// Open connects with the dialect's driver and creates the tables.
func Open(ctx context.Context, dialect Dialect, dsn string, types *resource.TypeRegistry, opts ...persistence.Option) (*Store, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	if dialect.singleConn {
		db.SetMaxOpenConns(1)
	}

	s := New(db, dialect, types, opts...)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.opts.Logger.Info().Str("dialect", dialect.Name).Msg("relational store opened")
	return s, nil
}

// New wraps an open connection pool. Callers own schema creation; see Migrate.
func New(db *sql.DB, dialect Dialect, types *resource.TypeRegistry, opts ...persistence.Option) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		factory: NewFactory(types),
		opts:    persistence.NewOptions(opts...),
	}
}

// Migrate creates the tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Persister() persistence.Persister       { return s }
func (s *Store) QueryService() persistence.QueryService { return s }
func (s *Store) ResourceFactory() *Factory               { return s.factory }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.opts.Logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, persistence.Malformed("timestamp %q: %v", s, err)
	}
	return t.UTC(), nil
}

func (s *Store) Save(ctx context.Context, r *resource.Resource) (_ *resource.Resource, err error) {
	defer s.opts.Track(backend, "save", time.Now(), &err)

	var saved Row
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var createdAt time.Time
		if !r.ID.IsZero() {
			var existing string
			err := tx.QueryRowContext(ctx,
				s.dialect.Rebind(`SELECT created_at FROM folio_resources WHERE id = ?`), r.ID.String(),
			).Scan(&existing)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("failed to read %s: %w", r.ID, err)
			default:
				if createdAt, err = parseTime(existing); err != nil {
					return err
				}
			}
		}

		prepared := s.opts.Prepare(ctx, r, createdAt)
		row, err := s.factory.FromResource(prepared)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO folio_resources (id, internal_model, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				internal_model = excluded.internal_model,
				metadata = excluded.metadata,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`),
			row.ID, row.InternalModel, string(row.Metadata), formatTime(row.CreatedAt), formatTime(row.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", row.ID, err)
		}

		if err := s.replaceReferences(ctx, tx, prepared); err != nil {
			return err
		}
		saved = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.factory.ToResource(saved)
}

func (s *Store) replaceReferences(ctx context.Context, tx *sql.Tx, r *resource.Resource) error {
	if _, err := tx.ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM folio_references WHERE resource_id = ?`), r.ID.String()); err != nil {
		return fmt.Errorf("failed to clear references of %s: %w", r.ID, err)
	}

	refs := References(r)
	if len(refs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(
		`INSERT INTO folio_references (resource_id, property, position, target_id) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare reference insert: %w", err)
	}
	defer stmt.Close()

	for _, ref := range refs {
		if _, err := stmt.ExecContext(ctx, r.ID.String(), ref.Property, ref.Position, ref.Target); err != nil {
			return fmt.Errorf("failed to insert reference %s.%s: %w", r.ID, ref.Property, err)
		}
	}
	return nil
}

func (s *Store) SaveAll(ctx context.Context, rs []*resource.Resource) ([]*resource.Resource, error) {
	return persistence.SaveAll(ctx, s, rs)
}

func (s *Store) Delete(ctx context.Context, r *resource.Resource) (_ *resource.Resource, err error) {
	defer s.opts.Track(backend, "delete", time.Now(), &err)
	if r.ID.IsZero() {
		return r, nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.dialect.Rebind(`DELETE FROM folio_references WHERE resource_id = ?`), r.ID.String()); err != nil {
			return fmt.Errorf("failed to delete references of %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			s.dialect.Rebind(`DELETE FROM folio_resources WHERE id = ?`), r.ID.String()); err != nil {
			return fmt.Errorf("failed to delete %s: %w", r.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) Wipe(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{`DELETE FROM folio_references`, `DELETE FROM folio_resources`} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to wipe: %w", err)
			}
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (Row, error) {
	var (
		row                  Row
		metadata             []byte
		createdAt, updatedAt string
		err                  error
	)
	if err = sc.Scan(&row.ID, &row.InternalModel, &metadata, &createdAt, &updatedAt); err != nil {
		return Row{}, err
	}
	row.Metadata = metadata
	if row.CreatedAt, err = parseTime(createdAt); err != nil {
		return Row{}, err
	}
	if row.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Row{}, err
	}
	return row, nil
}

func (s *Store) FindByID(ctx context.Context, id resource.ID) (_ *resource.Resource, err error) {
	defer s.opts.Track(backend, "find_by_id", time.Now(), &err)

	row, err := scanRow(s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT `+columns+` FROM folio_resources WHERE id = ?`), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", id, err)
	}
	return s.factory.ToResource(row)
}

// findMany reads every row of query before decoding, so the connection is
// free again for follow-up lookups.
func (s *Store) findMany(ctx context.Context, query string, args ...any) ([]*resource.Resource, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var native []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		native = append(native, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	out := make([]*resource.Resource, 0, len(native))
	for _, row := range native {
		r, err := s.factory.ToResource(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	// database collations need not match byte order
	resource.SortByID(out)
	return out, nil
}

func (s *Store) FindAll(ctx context.Context) (_ []*resource.Resource, err error) {
	defer s.opts.Track(backend, "find_all", time.Now(), &err)
	return s.findMany(ctx, `SELECT `+columns+` FROM folio_resources ORDER BY id`)
}

func (s *Store) FindAllOfModel(ctx context.Context, model string) (_ []*resource.Resource, err error) {
	defer s.opts.Track(backend, "find_all_of_model", time.Now(), &err)
	return s.findMany(ctx, `SELECT `+columns+` FROM folio_resources WHERE internal_model = ? ORDER BY id`, model)
}

func (s *Store) FindMembers(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error) {
	return persistence.FindMembers(ctx, s, r)
}

func (s *Store) FindParents(ctx context.Context, r *resource.Resource) ([]*resource.Resource, error) {
	return s.FindInverseReferencesBy(ctx, r, resource.MemberIDs)
}

func (s *Store) FindReferencesBy(ctx context.Context, r *resource.Resource, property string) ([]*resource.Resource, error) {
	return persistence.FindReferencesBy(ctx, s, r, property)
}

func (s *Store) FindInverseReferencesBy(ctx context.Context, r *resource.Resource, property string) (_ []*resource.Resource, err error) {
	defer s.opts.Track(backend, "find_inverse_references_by", time.Now(), &err)
	if r.ID.IsZero() {
		return nil, nil
	}
	return s.findMany(ctx, `
		SELECT `+columns+` FROM folio_resources
		WHERE id IN (SELECT resource_id FROM folio_references WHERE property = ? AND target_id = ?)
		ORDER BY id`, property, r.ID.String())
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM folio_resources`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return n, nil
}
