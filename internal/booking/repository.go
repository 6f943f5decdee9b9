package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nekogravitycat/event-booking-backend/internal/availability"
	"github.com/nekogravitycat/event-booking-backend/internal/db"
	"github.com/nekogravitycat/event-booking-backend/internal/notify"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var bookingColumns = []string{
	"id", "resource_id", "resource_kind", "owner_id", "client_id",
	"start_time", "end_time", "status", "metadata", "active_reschedule_id",
	"version", "created_at", "updated_at",
}

var rescheduleColumns = []string{
	"id", "booking_id", "proposer_id",
	"original_start", "original_end", "requested_start", "requested_end",
	"status", "created_at", "resolved_at", "resolved_by",
}

type pgxStore struct {
	pool  *pgxpool.Pool
	index *availability.PgxIndex
}

func NewPgxStore(pool *pgxpool.Pool) Store {
	return &pgxStore{pool: pool, index: availability.NewPgxIndex(pool)}
}

func (s *pgxStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgxTx{tx: tx})
	})
	if err != nil && db.IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

func (s *pgxStore) Availability() availability.Index {
	return s.index
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner, extra ...any) (*Booking, error) {
	var b Booking
	var metadata []byte
	var activeID *string
	dest := []any{
		&b.ID, &b.ResourceID, &b.ResourceKind, &b.OwnerID, &b.ClientID,
		&b.Range.Start, &b.Range.End, &b.Status, &metadata, &activeID,
		&b.Version, &b.CreatedAt, &b.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return nil, fmt.Errorf("decode booking metadata: %w", err)
		}
	}
	if activeID != nil {
		b.ActiveRescheduleID = *activeID
	}
	b.Range.Start = b.Range.Start.UTC()
	b.Range.End = b.Range.End.UTC()
	return &b, nil
}

func scanReschedule(row rowScanner) (*RescheduleRequest, error) {
	var r RescheduleRequest
	var resolvedBy *string
	if err := row.Scan(
		&r.ID, &r.BookingID, &r.ProposerID,
		&r.Original.Start, &r.Original.End, &r.Requested.Start, &r.Requested.End,
		&r.Status, &r.CreatedAt, &r.ResolvedAt, &resolvedBy,
	); err != nil {
		return nil, err
	}
	if resolvedBy != nil {
		r.ResolvedBy = *resolvedBy
	}
	r.Original.Start, r.Original.End = r.Original.Start.UTC(), r.Original.End.UTC()
	r.Requested.Start, r.Requested.End = r.Requested.Start.UTC(), r.Requested.End.UTC()
	return &r, nil
}

func (s *pgxStore) GetByID(ctx context.Context, id string) (*Booking, error) {
	query, args, err := psql.Select(bookingColumns...).
		From("public.bookings").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get booking query failed: %w", err)
	}

	b, err := scanBooking(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking failed: %w", err)
	}
	return b, nil
}

func (s *pgxStore) List(ctx context.Context, filter Filter) ([]*Booking, int, error) {
	query := psql.Select(append(bookingColumns, "count(*) OVER() AS total_count")...).
		From("public.bookings")

	if filter.ClientID != "" {
		query = query.Where(squirrel.Eq{"client_id": filter.ClientID})
	}
	if filter.OwnerID != "" {
		query = query.Where(squirrel.Eq{"owner_id": filter.OwnerID})
	}
	if filter.PartyID != "" {
		query = query.Where(squirrel.Or{
			squirrel.Eq{"client_id": filter.PartyID},
			squirrel.Eq{"owner_id": filter.PartyID},
		})
	}
	if filter.ResourceID != "" {
		query = query.Where(squirrel.Eq{"resource_id": filter.ResourceID})
	}
	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"status": string(filter.Status)})
	}

	// Pagination
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize

	query = query.OrderBy("created_at DESC", "id").
		Limit(uint64(filter.PageSize)).
		Offset(uint64(offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list bookings query failed: %w", err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings failed: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	var total int
	for rows.Next() {
		b, err := scanBooking(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan booking failed: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate bookings failed: %w", err)
	}
	return bookings, total, nil
}

func (s *pgxStore) GetReschedule(ctx context.Context, id string) (*RescheduleRequest, error) {
	query, args, err := psql.Select(rescheduleColumns...).
		From("public.reschedule_requests").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get reschedule query failed: %w", err)
	}

	r, err := scanReschedule(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRescheduleNotFound
		}
		return nil, fmt.Errorf("get reschedule failed: %w", err)
	}
	return r, nil
}

func (s *pgxStore) ListReschedules(ctx context.Context, bookingID string) ([]*RescheduleRequest, error) {
	query, args, err := psql.Select(rescheduleColumns...).
		From("public.reschedule_requests").
		Where(squirrel.Eq{"booking_id": bookingID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list reschedules query failed: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reschedules failed: %w", err)
	}
	defer rows.Close()

	var out []*RescheduleRequest
	for rows.Next() {
		r, err := scanReschedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reschedule failed: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reschedules failed: %w", err)
	}
	return out, nil
}

// pgxTx locks booking rows with SELECT ... FOR UPDATE. Reservation writes go through a PgxIndex
// bound to the same transaction, whose advisory lock is likewise held until commit.
type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) GetForUpdate(ctx context.Context, id string) (*Booking, error) {
	query, args, err := psql.Select(bookingColumns...).
		From("public.bookings").
		Where(squirrel.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lock booking query failed: %w", err)
	}

	b, err := scanBooking(t.tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock booking failed: %w", err)
	}
	return b, nil
}

func (t *pgxTx) Insert(ctx context.Context, b *Booking) error {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("encode booking metadata: %w", err)
	}
	query, args, err := psql.Insert("public.bookings").
		Columns("id", "resource_id", "resource_kind", "owner_id", "client_id",
			"start_time", "end_time", "status", "metadata").
		Values(b.ID, b.ResourceID, string(b.ResourceKind), b.OwnerID, b.ClientID,
			b.Range.Start, b.Range.End, string(b.Status), metadata).
		Suffix("RETURNING version, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create booking query failed: %w", err)
	}

	if err := t.tx.QueryRow(ctx, query, args...).Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return fmt.Errorf("create booking failed: %w", err)
	}
	return nil
}

func (t *pgxTx) Update(ctx context.Context, b *Booking) error {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("encode booking metadata: %w", err)
	}
	var activeID *string
	if b.ActiveRescheduleID != "" {
		activeID = &b.ActiveRescheduleID
	}

	query, args, err := psql.Update("public.bookings").
		Set("start_time", b.Range.Start).
		Set("end_time", b.Range.End).
		Set("status", string(b.Status)).
		Set("metadata", metadata).
		Set("active_reschedule_id", activeID).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": b.ID, "version": b.Version}).
		Suffix("RETURNING version, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update booking query failed: %w", err)
	}

	if err := t.tx.QueryRow(ctx, query, args...).Scan(&b.Version, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("booking %s changed concurrently: %w", b.ID, ErrTransient)
		}
		return fmt.Errorf("update booking failed: %w", err)
	}
	return nil
}

func (t *pgxTx) GetRescheduleForUpdate(ctx context.Context, id string) (*RescheduleRequest, error) {
	// Lock the parent booking first so every transaction locks bookings before anything else.
	var bookingID string
	err := t.tx.QueryRow(ctx,
		"SELECT b.id FROM public.bookings b JOIN public.reschedule_requests r ON r.booking_id = b.id WHERE r.id = $1 FOR UPDATE OF b",
		id,
	).Scan(&bookingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRescheduleNotFound
		}
		return nil, fmt.Errorf("lock reschedule booking failed: %w", err)
	}

	query, args, err := psql.Select(rescheduleColumns...).
		From("public.reschedule_requests").
		Where(squirrel.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lock reschedule query failed: %w", err)
	}

	r, err := scanReschedule(t.tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRescheduleNotFound
		}
		return nil, fmt.Errorf("lock reschedule failed: %w", err)
	}
	return r, nil
}

func (t *pgxTx) InsertReschedule(ctx context.Context, r *RescheduleRequest) error {
	query, args, err := psql.Insert("public.reschedule_requests").
		Columns(rescheduleColumns[:8]...).
		Values(r.ID, r.BookingID, r.ProposerID,
			r.Original.Start, r.Original.End, r.Requested.Start, r.Requested.End,
			string(r.Status)).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create reschedule query failed: %w", err)
	}

	if err := t.tx.QueryRow(ctx, query, args...).Scan(&r.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrRescheduleActive
		}
		return fmt.Errorf("create reschedule failed: %w", err)
	}
	return nil
}

func (t *pgxTx) UpdateReschedule(ctx context.Context, r *RescheduleRequest) error {
	var resolvedBy *string
	if r.ResolvedBy != "" {
		resolvedBy = &r.ResolvedBy
	}
	query, args, err := psql.Update("public.reschedule_requests").
		Set("status", string(r.Status)).
		Set("resolved_at", r.ResolvedAt).
		Set("resolved_by", resolvedBy).
		Where(squirrel.Eq{"id": r.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update reschedule query failed: %w", err)
	}

	ct, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update reschedule failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRescheduleNotFound
	}
	return nil
}

func (t *pgxTx) Availability() availability.Index {
	return availability.NewPgxIndex(t.tx)
}

func (t *pgxTx) AppendEvent(ctx context.Context, e notify.Event) error {
	return notify.Append(ctx, t.tx, e)
}
