package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nekogravitycat/event-booking-backend/internal/timerange"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pool opens a transaction,
// Begin on a transaction opens a savepoint.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxIndex stores reservations in public.reservations, whose exclusion constraint
// (resource_id WITH =, during WITH &&) forbids overlaps at the storage layer.
type PgxIndex struct {
	db DB
}

func NewPgxIndex(db DB) *PgxIndex {
	return &PgxIndex{db: db}
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Reserve serializes writers of one resource with a transaction-scoped advisory lock, probes for
// collisions so the caller learns which ranges are in the way, then inserts.
func (x *PgxIndex) Reserve(ctx context.Context, resourceID string, r timerange.Range, bookingID string) error {
	return pgx.BeginFunc(ctx, x.db, func(tx pgx.Tx) error {
		if err := lockResource(ctx, tx, resourceID); err != nil {
			return err
		}
		hits, err := overlapping(ctx, tx, resourceID, r, "")
		if err != nil {
			return err
		}
		if len(hits) > 0 {
			return &ConflictError{ResourceID: resourceID, Requested: r, Conflicts: hits}
		}

		query, args, err := psql.Insert("public.reservations").
			Columns("booking_id", "resource_id", "during").
			Values(bookingID, resourceID, squirrel.Expr("tstzrange(?, ?, '[)')", r.Start, r.End)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build reserve query failed: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return mapWriteError(err, resourceID, r)
		}
		return nil
	})
}

func (x *PgxIndex) Release(ctx context.Context, resourceID, bookingID string) error {
	query, args, err := psql.Delete("public.reservations").
		Where(squirrel.Eq{"resource_id": resourceID, "booking_id": bookingID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build release query failed: %w", err)
	}
	if _, err := x.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("release reservation failed: %w", err)
	}
	return nil
}

func (x *PgxIndex) Replace(ctx context.Context, resourceID, bookingID string, r timerange.Range) error {
	return pgx.BeginFunc(ctx, x.db, func(tx pgx.Tx) error {
		if err := lockResource(ctx, tx, resourceID); err != nil {
			return err
		}
		hits, err := overlapping(ctx, tx, resourceID, r, bookingID)
		if err != nil {
			return err
		}
		if len(hits) > 0 {
			return &ConflictError{ResourceID: resourceID, Requested: r, Conflicts: hits}
		}

		query, args, err := psql.Insert("public.reservations").
			Columns("booking_id", "resource_id", "during").
			Values(bookingID, resourceID, squirrel.Expr("tstzrange(?, ?, '[)')", r.Start, r.End)).
			Suffix("ON CONFLICT (booking_id) DO UPDATE SET during = EXCLUDED.during, resource_id = EXCLUDED.resource_id").
			ToSql()
		if err != nil {
			return fmt.Errorf("build replace query failed: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return mapWriteError(err, resourceID, r)
		}
		return nil
	})
}

func (x *PgxIndex) Lookup(ctx context.Context, resourceID, bookingID string) (Reservation, bool, error) {
	query, args, err := psql.Select("booking_id", "resource_id", "lower(during)", "upper(during)").
		From("public.reservations").
		Where(squirrel.Eq{"resource_id": resourceID, "booking_id": bookingID}).
		ToSql()
	if err != nil {
		return Reservation{}, false, fmt.Errorf("build lookup reservation query failed: %w", err)
	}

	var res Reservation
	err = x.db.QueryRow(ctx, query, args...).
		Scan(&res.BookingID, &res.ResourceID, &res.Range.Start, &res.Range.End)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, false, nil
		}
		return Reservation{}, false, fmt.Errorf("lookup reservation failed: %w", err)
	}
	res.Range.Start = res.Range.Start.UTC()
	res.Range.End = res.Range.End.UTC()
	return res, true, nil
}

func (x *PgxIndex) Overlapping(ctx context.Context, resourceID string, r timerange.Range, excludeBookingID string) ([]Reservation, error) {
	return overlapping(ctx, x.db, resourceID, r, excludeBookingID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func overlapping(ctx context.Context, q querier, resourceID string, r timerange.Range, exclude string) ([]Reservation, error) {
	builder := psql.Select("booking_id", "resource_id", "lower(during)", "upper(during)").
		From("public.reservations").
		Where(squirrel.Eq{"resource_id": resourceID}).
		Where(squirrel.Expr("during && tstzrange(?, ?, '[)')", r.Start, r.End)).
		OrderBy("lower(during)")
	if exclude != "" {
		builder = builder.Where(squirrel.NotEq{"booking_id": exclude})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build overlap query failed: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query overlapping reservations failed: %w", err)
	}
	defer rows.Close()

	var hits []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.BookingID, &res.ResourceID, &res.Range.Start, &res.Range.End); err != nil {
			return nil, fmt.Errorf("scan reservation failed: %w", err)
		}
		res.Range.Start = res.Range.Start.UTC()
		res.Range.End = res.Range.End.UTC()
		hits = append(hits, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations failed: %w", err)
	}
	return hits, nil
}

// lockResource takes the per-resource advisory lock. It is held until the outermost
// transaction ends, so a later commit of the surrounding booking write stays serialized too.
func lockResource(ctx context.Context, tx pgx.Tx, resourceID string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", resourceID); err != nil {
		return fmt.Errorf("lock resource %s failed: %w", resourceID, err)
	}
	return nil
}

func mapWriteError(err error, resourceID string, r timerange.Range) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.ExclusionViolation:
			return &ConflictError{ResourceID: resourceID, Requested: r}
		case pgerrcode.UniqueViolation:
			return ErrAlreadyReserved
		}
	}
	return fmt.Errorf("write reservation failed: %w", err)
}
