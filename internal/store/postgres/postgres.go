// Package postgres implements store.Store on PostgreSQL via pgx. Lease
// transactions take a FOR UPDATE row claim, so two workers racing on the
// same job serialize inside the database and exactly one observes the
// pre-image.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

const jobColumns = `id, to_addrs, cc_addrs, bcc_addrs, subject, body_text, body_html,
reply_to, from_display_name, message_id_hint, status, attempts, last_error,
lease_owner, lease_expires_at, not_before, environment, delivery_id, sent_at,
created_at, updated_at`

func (s *Store) Create(ctx context.Context, j *domain.Job) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	notBefore := j.NotBefore
	if notBefore.IsZero() {
		notBefore = now
	}
	_, err := s.db.Exec(ctx, `insert into mail_jobs(
id, to_addrs, cc_addrs, bcc_addrs, subject, body_text, body_html,
reply_to, from_display_name, message_id_hint, status, attempts,
not_before, environment, created_at, updated_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'queued',0,$11,$12,$13,$13)`,
		id, j.Recipients.To, j.Recipients.Cc, j.Recipients.Bcc,
		j.Content.Subject, j.Content.Text, j.Content.HTML,
		j.Content.ReplyTo, j.Content.FromDisplayName, j.Content.MessageIDHint,
		notBefore, j.Environment, now,
	)
	if err != nil {
		return "", errors.Wrap(err, "insert mail job")
	}
	j.ID = id
	j.Status = domain.StatusQueued
	j.NotBefore = notBefore
	j.CreatedAt = now
	j.UpdatedAt = now
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `select `+jobColumns+` from mail_jobs where id = $1`, id)
	return scanJob(row)
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

type pgTx struct{ tx pgx.Tx }

// Get locks the row for the rest of the transaction. A concurrent lease
// transaction blocks here until the winner commits, then reads the
// post-image and fails its eligibility checks.
func (t *pgTx) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := t.tx.QueryRow(ctx, `select `+jobColumns+` from mail_jobs where id = $1 for update`, id)
	return scanJob(row)
}

func (t *pgTx) Update(ctx context.Context, id string, p store.Patch) error {
	set, args := buildPatch(p)
	args = append(args, id)
	tag, err := t.tx.Exec(ctx,
		fmt.Sprintf(`update mail_jobs set %s where id = $%d`, strings.Join(set, ", "), len(args)),
		args...)
	if err != nil {
		return errors.Wrap(err, "update mail job")
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func buildPatch(p store.Patch) ([]string, []any) {
	var set []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Attempts != nil {
		add("attempts", *p.Attempts)
	}
	if p.LastError != nil {
		add("last_error", *p.LastError)
	}
	if p.ClearLastError {
		set = append(set, "last_error = null")
	}
	if p.LeaseOwner != nil {
		add("lease_owner", *p.LeaseOwner)
	}
	if p.LeaseExpiresAt != nil {
		add("lease_expires_at", *p.LeaseExpiresAt)
	}
	if p.ClearLease {
		set = append(set, "lease_owner = null", "lease_expires_at = null")
	}
	if p.NotBefore != nil {
		add("not_before", *p.NotBefore)
	}
	if p.DeliveryID != nil {
		add("delivery_id", *p.DeliveryID)
	}
	if p.SentAt != nil {
		add("sent_at", *p.SentAt)
	}
	ua := p.UpdatedAt
	if ua.IsZero() {
		ua = time.Now().UTC()
	}
	add("updated_at", ua)
	return set, args
}

func (s *Store) ListDue(ctx context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from mail_jobs
where environment = $1 and status = 'queued' and not_before <= $2
order by created_at asc limit $3`, environment, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list due")
	}
	return scanJobs(rows)
}

func (s *Store) ListExpiredLeases(ctx context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from mail_jobs
where environment = $1 and status = 'processing'
  and lease_expires_at is not null and lease_expires_at < $2
order by created_at asc limit $3`, environment, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list expired leases")
	}
	return scanJobs(rows)
}

func (s *Store) ListByStatus(ctx context.Context, environment string, status domain.Status, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from mail_jobs
where environment = $1 and status = $2
order by created_at desc limit $3`, environment, string(status), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list by status")
	}
	return scanJobs(rows)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }
func (s *Store) Close() error                   { s.db.Close(); return nil }

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.Recipients.To, &j.Recipients.Cc, &j.Recipients.Bcc,
		&j.Content.Subject, &j.Content.Text, &j.Content.HTML,
		&j.Content.ReplyTo, &j.Content.FromDisplayName, &j.Content.MessageIDHint,
		&j.Status, &j.Attempts, &j.LastError,
		&j.LeaseOwner, &j.LeaseExpiresAt, &j.NotBefore, &j.Environment,
		&j.DeliveryID, &j.SentAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan mail job")
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()
	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
