package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
)

// Fixed-width UTC timestamp layout: lexicographic order equals chronological
// order, so expiry comparisons can happen inside SQL.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func dbTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func scanTime(stmt *sqlite.Stmt, col int) (*time.Time, error) {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(col))
	if err != nil {
		return nil, fmt.Errorf("%w: column %d: %v", domain.ErrReadDatabaseRow, col, err)
	}
	t = t.UTC()
	return &t, nil
}

func scanNullText(stmt *sqlite.Stmt, col int) *string {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	s := stmt.ColumnText(col)
	return &s
}

// Ensure implementation satisfies the interface.
var _ repository.ActivationCodeRepository = (*activationCodeRepo)(nil)

type activationCodeRepo struct {
	store *Store
}

func NewActivationCodeRepo(store *Store) repository.ActivationCodeRepository {
	return &activationCodeRepo{store: store}
}

const codeColumns = `id, code, tier, status, bound_device, activated_at, expires_at, created_at`

// Save creates or updates an activation code. ON CONFLICT covers both the
// insert path (generation, import) and the transition path (activate, renew,
// expire, revoke); the token, tier and creation time never change.
func (r *activationCodeRepo) Save(ctx context.Context, tx repository.Tx, code *model.ActivationCode) error {
	if code.ID == "" {
		code.ID = ulid.Make().String()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return err
	}
	defer release()

	const q = `
INSERT INTO activation_codes (id, code, tier, status, bound_device, activated_at, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  status = excluded.status,
  bound_device = excluded.bound_device,
  activated_at = excluded.activated_at,
  expires_at = excluded.expires_at;`
	err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []interface{}{
			code.ID, code.Code, string(code.Tier), string(code.Status),
			nullableArg(code.BoundDevice), dbTime(code.ActivatedAt), dbTime(code.ExpiresAt),
			code.CreatedAt.UTC().Format(timeFormat),
		},
	})
	if err != nil {
		if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// FindByCode returns the code in whatever status it is in; the authorization
// state machine decides what that status means.
func (r *activationCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return nil, err
	}
	defer release()

	var found *model.ActivationCode
	err = sqlitex.Execute(conn,
		`SELECT `+codeColumns+` FROM activation_codes WHERE code = ?;`,
		&sqlitex.ExecOptions{
			Args: []interface{}{code},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c, err := scanCode(stmt)
				if err != nil {
					return err
				}
				found = c
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r *activationCodeRepo) Exists(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return false, err
	}
	defer release()

	exists := false
	err = sqlitex.Execute(conn,
		`SELECT 1 FROM activation_codes WHERE code = ?;`,
		&sqlitex.ExecOptions{
			Args: []interface{}{code},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	return exists, err
}

// List returns one page of codes in creation order plus the total count of
// rows matching the filter.
func (r *activationCodeRepo) List(ctx context.Context, tx repository.Tx, filter repository.CodeFilter, offset, limit int) ([]*model.ActivationCode, int, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	where, args := buildCodeFilter(filter)

	total := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM activation_codes`+where+`;`,
		&sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return nil, 0, err
	}

	var items []*model.ActivationCode
	err = sqlitex.Execute(conn,
		`SELECT `+codeColumns+` FROM activation_codes`+where+` ORDER BY id LIMIT ? OFFSET ?;`,
		&sqlitex.ExecOptions{
			Args: append(append([]interface{}{}, args...), limit, offset),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c, err := scanCode(stmt)
				if err != nil {
					return err
				}
				items = append(items, c)
				return nil
			},
		})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *activationCodeRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.CodeStatus]int, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return nil, err
	}
	defer release()

	counts := make(map[model.CodeStatus]int)
	err = sqlitex.Execute(conn,
		`SELECT status, COUNT(*) FROM activation_codes GROUP BY status;`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				counts[model.CodeStatus(stmt.ColumnText(0))] = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// FindActiveExpiredBy returns codes still persisted as active whose validity
// window has passed. Used only for opportunistic persistence; correctness of
// answers never depends on it.
func (r *activationCodeRepo) FindActiveExpiredBy(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ActivationCode, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return nil, err
	}
	defer release()

	var items []*model.ActivationCode
	err = sqlitex.Execute(conn,
		`SELECT `+codeColumns+` FROM activation_codes
		  WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
		  ORDER BY id LIMIT ?;`,
		&sqlitex.ExecOptions{
			Args: []interface{}{string(model.CodeStatusActive), now.UTC().Format(timeFormat), limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c, err := scanCode(stmt)
				if err != nil {
					return err
				}
				items = append(items, c)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func scanCode(stmt *sqlite.Stmt) (*model.ActivationCode, error) {
	activatedAt, err := scanTime(stmt, 5)
	if err != nil {
		return nil, err
	}
	expiresAt, err := scanTime(stmt, 6)
	if err != nil {
		return nil, err
	}
	createdAt, err := scanTime(stmt, 7)
	if err != nil {
		return nil, err
	}
	c := &model.ActivationCode{
		ID:          stmt.ColumnText(0),
		Code:        stmt.ColumnText(1),
		Tier:        model.Tier(stmt.ColumnText(2)),
		Status:      model.CodeStatus(stmt.ColumnText(3)),
		BoundDevice: scanNullText(stmt, 4),
		ActivatedAt: activatedAt,
		ExpiresAt:   expiresAt,
	}
	if createdAt != nil {
		c.CreatedAt = *createdAt
	}
	return c, nil
}

func buildCodeFilter(filter repository.CodeFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Tier != "" {
		conditions = append(conditions, "tier = ?")
		args = append(args, string(filter.Tier))
	}
	if filter.Search != "" {
		conditions = append(conditions, "(code LIKE ? OR bound_device LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if filter.CreatedFrom != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.CreatedFrom.UTC().Format(timeFormat))
	}
	if filter.CreatedTo != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.CreatedTo.UTC().Format(timeFormat))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullableArg(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
