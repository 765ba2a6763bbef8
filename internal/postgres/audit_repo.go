package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDuplicateAudit = errors.New("audit entry already exists")

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type AuditRepository struct {
	q   querier
	now func() time.Time
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return newAuditRepository(db)
}

func newAuditRepository(q querier) *AuditRepository {
	return &AuditRepository{q: q, now: time.Now}
}

// Insert writes e, assigning an id and timestamp when they are missing.
func (r *AuditRepository) Insert(ctx context.Context, e domain.AuditEntry) error {
	if e.UserID == "" {
		return errors.New("audit entry without user")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	_, err := r.q.Exec(ctx, queryInsertAudit,
		e.ID,
		e.UserID,
		string(e.Action),
		e.ResourceType,
		nullable(e.ResourceID),
		nullable(e.Details),
		nullable(e.IPAddress),
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return mapPgError(err)
	}
	return nil
}

// AuditFilter selects one user's entries; empty optional fields match all.
type AuditFilter struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	After        string // cursor from a previous page
	Limit        int
}

// List returns a page of entries newest first and the cursor of the next
// page, empty when there is none.
func (r *AuditRepository) List(ctx context.Context, f AuditFilter) ([]domain.AuditEntry, string, error) {
	cur, err := DecodeCursor(f.After)
	if err != nil {
		return nil, "", err
	}
	limit := clampLimit(f.Limit)

	var createdAt, id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.q.Query(ctx, queryListAudit,
		f.UserID,
		optional(f.Action),
		optional(f.ResourceType),
		optional(f.ResourceID),
		createdAt,
		id,
		limit,
	)
	if err != nil {
		return nil, "", mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e      domain.AuditEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.ResourceType, &e.ResourceID, &e.Details, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("scan audit: %w", err)
		}
		e.Action = domain.AuditAction(action)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapPgError(err)
	}

	var next string
	if len(out) == limit {
		last := out[len(out)-1]
		if c, e := EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 - unique violation
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateAudit, pgErr.ConstraintName)
		}
	}

	return err
}

func nullable(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}

	return &s
}

func optional(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
