package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for DeviceStatus persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByIdx retrieves a device by its numeric index.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByIdx(ctx context.Context, idx int64) (*Device, error)

	// GetByIdentity retrieves a device by hardware, device id, unit and type.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByIdentity(ctx context.Context, id Identity) (*Device, error)

	// List retrieves devices matching the filter, ordered by idx.
	List(ctx context.Context, filter Filter) ([]Device, error)

	// Create inserts a device and assigns its Idx.
	// Returns ErrDeviceExists if the identity is already taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies the user-editable fields: name, switch type, used,
	// protected and options.
	Update(ctx context.Context, device *Device) error

	// UpdateValue stores a new reading and refreshes last_update.
	UpdateValue(ctx context.Context, idx int64, v Value) error

	// Delete removes a device by idx.
	Delete(ctx context.Context, idx int64) error

	// DeleteByHardware removes every device of a hardware instance.
	DeleteByHardware(ctx context.Context, hardwareID int) (int64, error)
}

// HistoryRepository stores meter and sensor samples.
type HistoryRepository interface {
	// Record appends a sample.
	Record(ctx context.Context, s *Sample) error

	// Range returns samples of a device recorded in [since, until), oldest
	// first. A zero until means "now"; limit <= 0 uses the default.
	Range(ctx context.Context, idx int64, since, until time.Time, limit int) ([]Sample, error)

	// Prune deletes samples recorded before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

const deviceColumns = `idx, hardware_id, device_id, unit, type, subtype, switch_type, name,
	used, protected, nvalue, svalue, battery_level, signal_level, options,
	last_update, created_at`

// SQLiteRepository implements Repository and HistoryRepository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByIdx retrieves a device by its numeric index.
func (r *SQLiteRepository) GetByIdx(ctx context.Context, idx int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE idx = ?`, idx)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by idx: %w", err)
	}
	return d, nil
}

// GetByIdentity retrieves a device by its natural key.
func (r *SQLiteRepository) GetByIdentity(ctx context.Context, id Identity) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE hardware_id = ? AND device_id = ? AND unit = ? AND type = ? AND subtype = ?`,
		id.HardwareID, id.DeviceID, id.Unit, int(id.Type), int(id.SubType))
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by identity: %w", err)
	}
	return d, nil
}

// List retrieves devices matching the filter.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Device, error) {
	var conditions []string
	var args []any

	if filter.HardwareID != 0 {
		conditions = append(conditions, "hardware_id = ?")
		args = append(args, filter.HardwareID)
	}
	if filter.Type != 0 {
		conditions = append(conditions, "type = ?")
		args = append(args, int(filter.Type))
	}
	if filter.UsedOnly {
		conditions = append(conditions, "used = 1")
	}

	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY idx"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a device and assigns its Idx.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	optionsJSON, err := marshalOptions(d.Options)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.LastUpdate.IsZero() {
		d.LastUpdate = now
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (
			hardware_id, device_id, unit, type, subtype, switch_type, name,
			used, protected, nvalue, svalue, battery_level, signal_level, options,
			last_update, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.HardwareID, d.DeviceID, d.Unit, int(d.Type), int(d.SubType), int(d.SwitchType), d.Name,
		boolToInt(d.Used), boolToInt(d.Protected), d.NValue, d.SValue, d.BatteryLevel, d.SignalLevel,
		optionsJSON,
		d.LastUpdate.UTC().Format(storedTimeLayout),
		d.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	idx, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device idx: %w", err)
	}
	d.Idx = idx
	return nil
}

// Update modifies the user-editable fields of a device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	optionsJSON, err := marshalOptions(d.Options)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, switch_type = ?, used = ?, protected = ?, options = ?
		WHERE idx = ?`,
		d.Name, int(d.SwitchType), boolToInt(d.Used), boolToInt(d.Protected), optionsJSON, d.Idx,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return expectOneRow(result)
}

// UpdateValue stores a new reading.
func (r *SQLiteRepository) UpdateValue(ctx context.Context, idx int64, v Value) error {
	at := v.At
	if at.IsZero() {
		at = time.Now()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET nvalue = ?, svalue = ?, battery_level = ?, signal_level = ?, last_update = ?
		WHERE idx = ?`,
		v.NValue, v.SValue, v.BatteryLevel, v.SignalLevel, at.UTC().Format(storedTimeLayout), idx,
	)
	if err != nil {
		return fmt.Errorf("updating device value: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a device by idx. Its history goes with it.
func (r *SQLiteRepository) Delete(ctx context.Context, idx int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE idx = ?", idx)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return expectOneRow(result)
}

// DeleteByHardware removes every device of a hardware instance.
func (r *SQLiteRepository) DeleteByHardware(ctx context.Context, hardwareID int) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE hardware_id = ?", hardwareID)
	if err != nil {
		return 0, fmt.Errorf("deleting hardware devices: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// storedTimeLayout is fixed-width so that timestamps compare correctly as
// text in SQL range queries.
const storedTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// defaultHistoryLimit caps Range when the caller passes no limit.
const defaultHistoryLimit = 2000

// Record appends a sample.
func (r *SQLiteRepository) Record(ctx context.Context, s *Sample) error {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO device_history (device_idx, nvalue, svalue, recorded_at) VALUES (?, ?, ?, ?)`,
		s.DeviceIdx, s.NValue, s.SValue, s.RecordedAt.UTC().Format(storedTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting history sample: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		s.ID = id
	}
	return nil
}

// Range returns samples of a device in [since, until), oldest first.
func (r *SQLiteRepository) Range(ctx context.Context, idx int64, since, until time.Time, limit int) ([]Sample, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	if until.IsZero() {
		until = time.Now().Add(time.Second)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_idx, nvalue, svalue, recorded_at FROM device_history
		WHERE device_idx = ? AND recorded_at >= ? AND recorded_at < ?
		ORDER BY recorded_at, id
		LIMIT ?`,
		idx, since.UTC().Format(storedTimeLayout), until.UTC().Format(storedTimeLayout), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		var s Sample
		var recordedAt string
		if err := rows.Scan(&s.ID, &s.DeviceIdx, &s.NValue, &s.SValue, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning history sample: %w", err)
		}
		if s.RecordedAt, err = time.Parse(storedTimeLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return samples, nil
}

// Prune deletes samples recorded before cutoff.
func (r *SQLiteRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_history WHERE recorded_at < ?", cutoff.UTC().Format(storedTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var typ, subtype, switchType, used, protected int
	var optionsJSON, lastUpdate, createdAt string

	err := row.Scan(
		&d.Idx, &d.HardwareID, &d.DeviceID, &d.Unit, &typ, &subtype, &switchType, &d.Name,
		&used, &protected, &d.NValue, &d.SValue, &d.BatteryLevel, &d.SignalLevel, &optionsJSON,
		&lastUpdate, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = Type(typ)
	d.SubType = SubType(subtype)
	d.SwitchType = SwitchType(switchType)
	d.Used = used != 0
	d.Protected = protected != 0

	if d.LastUpdate, err = time.Parse(storedTimeLayout, lastUpdate); err != nil {
		return nil, fmt.Errorf("parsing last_update: %w", err)
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if optionsJSON != "" && optionsJSON != "{}" {
		if err := json.Unmarshal([]byte(optionsJSON), &d.Options); err != nil {
			return nil, fmt.Errorf("unmarshalling options: %w", err)
		}
	}
	return &d, nil
}

func marshalOptions(opts map[string]string) (string, error) {
	if len(opts) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("marshalling options: %w", err)
	}
	return string(b), nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
