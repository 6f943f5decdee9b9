package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Execer is satisfied by pgx.Tx, so events can be appended inside the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Append writes e to public.booking_events.
func Append(ctx context.Context, db Execer, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	query, args, err := psql.Insert("public.booking_events").
		Columns("event_type", "booking_id", "payload", "created_at").
		Values(string(e.Type), e.BookingID, payload, e.OccurredAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append event query failed: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("append event failed: %w", err)
	}
	return nil
}

// PgxOutbox relays public.booking_events. Rows are claimed with FOR UPDATE SKIP LOCKED so
// several relays can run side by side without emitting the same event concurrently.
type PgxOutbox struct {
	pool *pgxpool.Pool
}

func NewPgxOutbox(pool *pgxpool.Pool) *PgxOutbox {
	return &PgxOutbox{pool: pool}
}

func (o *PgxOutbox) Dispatch(ctx context.Context, limit int, fn func(context.Context, Event) error) (int, error) {
	var sent int
	var emitErr error
	err := pgx.BeginFunc(ctx, o.pool, func(tx pgx.Tx) error {
		query, args, err := psql.Select("id", "payload").
			From("public.booking_events").
			Where(squirrel.Eq{"dispatched_at": nil}).
			OrderBy("id").
			Limit(uint64(limit)).
			Suffix("FOR UPDATE SKIP LOCKED").
			ToSql()
		if err != nil {
			return fmt.Errorf("build claim events query failed: %w", err)
		}

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("claim events failed: %w", err)
		}
		var batch []Event
		for rows.Next() {
			var id int64
			var payload []byte
			if err := rows.Scan(&id, &payload); err != nil {
				rows.Close()
				return fmt.Errorf("scan event failed: %w", err)
			}
			var e Event
			if err := json.Unmarshal(payload, &e); err != nil {
				rows.Close()
				return fmt.Errorf("decode event %d failed: %w", id, err)
			}
			e.ID = id
			batch = append(batch, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate events failed: %w", err)
		}

		var done []int64
		for _, e := range batch {
			if emitErr = fn(ctx, e); emitErr != nil {
				break
			}
			done = append(done, e.ID)
		}

		if len(done) > 0 {
			query, args, err := psql.Update("public.booking_events").
				Set("dispatched_at", squirrel.Expr("now()")).
				Where(squirrel.Eq{"id": done}).
				ToSql()
			if err != nil {
				return fmt.Errorf("build mark dispatched query failed: %w", err)
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("mark events dispatched failed: %w", err)
			}
		}
		sent = len(done)
		// The marks are committed even if an emit failed; the failed event stays pending.
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, emitErr
}
