package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool   *pgxpool.Pool
	schema string
}

func NewRepo(pool *pgxpool.Pool, schema string) *Repo {
	return &Repo{pool: pool, schema: schema}
}

// Enqueue records that an item's photo needs (re-)indexing. Duplicate
// enqueues for the same item+model collapse into one task, pulled forward to
// run immediately.
func (r *Repo) Enqueue(ctx context.Context, itemID string, model string, reason string) error {
	if itemID == "" || model == "" {
		return fmt.Errorf("itemID and model are required")
	}
	q := fmt.Sprintf(`
		INSERT INTO %s.index_tasks (item_id, model, reason)
		VALUES ($1, $2, COALESCE($3, 'unknown'))
		ON CONFLICT (item_id, model) DO UPDATE SET
			reason = EXCLUDED.reason,
			next_run_at = LEAST(%s.index_tasks.next_run_at, now()),
			updated_at = now()
	`, r.schema, r.schema)
	_, err := r.pool.Exec(ctx, q, itemID, model, reason)
	return err
}

// ClaimBatch leases up to limit due tasks, pushing their next_run_at forward
// so concurrent workers skip them. A crashed worker's lease simply expires.
func (r *Repo) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	q := fmt.Sprintf(`
		UPDATE %s.index_tasks t SET
			attempts = t.attempts + 1,
			next_run_at = now() + $2::interval,
			updated_at = now()
		FROM (
			SELECT id FROM %s.index_tasks
			WHERE next_run_at <= now()
			ORDER BY next_run_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) due
		WHERE t.id = due.id
		RETURNING t.id, t.item_id, t.model, t.reason, t.attempts, t.next_run_at, t.created_at, t.updated_at
	`, r.schema, r.schema)

	rows, err := r.pool.Query(ctx, q, limit, lease)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ItemID, &t.Model, &t.Reason, &t.Attempts, &t.NextRunAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Complete removes a finished task.
func (r *Repo) Complete(ctx context.Context, id int64) error {
	q := fmt.Sprintf(`DELETE FROM %s.index_tasks WHERE id = $1`, r.schema)
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// Fail reschedules a task after backoff; retry policy beyond that is the
// host's concern.
func (r *Repo) Fail(ctx context.Context, id int64, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = time.Minute
	}
	q := fmt.Sprintf(`
		UPDATE %s.index_tasks SET
			next_run_at = now() + $2::interval,
			updated_at = now()
		WHERE id = $1
	`, r.schema)
	_, err := r.pool.Exec(ctx, q, id, backoff)
	return err
}
