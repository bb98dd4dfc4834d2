package sqlite

import (
	"context"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
)

// Ensure implementation satisfies the interface.
var _ repository.DeviceRepository = (*deviceRepo)(nil)

type deviceRepo struct {
	store *Store
}

func NewDeviceRepo(store *Store) repository.DeviceRepository {
	return &deviceRepo{store: store}
}

const deviceColumns = `device_id, bound_code, last_seen_at, created_at`

// Save creates or updates a device. Devices are created implicitly on first
// activation and only ever rebound afterwards.
func (r *deviceRepo) Save(ctx context.Context, tx repository.Tx, device *model.Device) error {
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}

	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return err
	}
	defer release()

	const q = `
INSERT INTO devices (device_id, bound_code, last_seen_at, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (device_id) DO UPDATE SET
  bound_code = excluded.bound_code,
  last_seen_at = excluded.last_seen_at;`
	return sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []interface{}{
			device.DeviceID, nullableArg(device.BoundCode), dbTime(device.LastSeenAt),
			device.CreatedAt.UTC().Format(timeFormat),
		},
	})
}

func (r *deviceRepo) FindByID(ctx context.Context, tx repository.Tx, deviceID string) (*model.Device, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return nil, err
	}
	defer release()

	var found *model.Device
	err = sqlitex.Execute(conn,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?;`,
		&sqlitex.ExecOptions{
			Args: []interface{}{deviceID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				d, err := scanDevice(stmt)
				if err != nil {
					return err
				}
				found = d
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

// Touch records a successful status check. Unknown devices are ignored: the
// ledger only tracks devices that attempted activation.
func (r *deviceRepo) Touch(ctx context.Context, tx repository.Tx, deviceID string, at time.Time) error {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return err
	}
	defer release()

	return sqlitex.Execute(conn,
		`UPDATE devices SET last_seen_at = ? WHERE device_id = ?;`,
		&sqlitex.ExecOptions{
			Args: []interface{}{at.UTC().Format(timeFormat), deviceID},
		})
}

func (r *deviceRepo) List(ctx context.Context, tx repository.Tx, filter repository.DeviceFilter, offset, limit int) ([]*model.Device, int, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	where, args := buildDeviceFilter(filter)

	total := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM devices`+where+`;`,
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

	var items []*model.Device
	err = sqlitex.Execute(conn,
		`SELECT `+deviceColumns+` FROM devices`+where+` ORDER BY created_at, device_id LIMIT ? OFFSET ?;`,
		&sqlitex.ExecOptions{
			Args: append(append([]interface{}{}, args...), limit, offset),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				d, err := scanDevice(stmt)
				if err != nil {
					return err
				}
				items = append(items, d)
				return nil
			},
		})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *deviceRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	conn, release, err := getConn(ctx, r.store, tx)
	if err != nil {
		return 0, err
	}
	defer release()

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM devices;`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	return count, err
}

func scanDevice(stmt *sqlite.Stmt) (*model.Device, error) {
	lastSeen, err := scanTime(stmt, 2)
	if err != nil {
		return nil, err
	}
	createdAt, err := scanTime(stmt, 3)
	if err != nil {
		return nil, err
	}
	d := &model.Device{
		DeviceID:   stmt.ColumnText(0),
		BoundCode:  scanNullText(stmt, 1),
		LastSeenAt: lastSeen,
	}
	if createdAt != nil {
		d.CreatedAt = *createdAt
	}
	return d, nil
}

func buildDeviceFilter(filter repository.DeviceFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.Search != "" {
		conditions = append(conditions, "(device_id LIKE ? OR bound_code LIKE ?)")
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
