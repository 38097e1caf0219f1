package notify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Record is a sent (or attempted) notification.
type Record struct {
	ID         int64     `json:"id"`
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	Priority   int       `json:"priority"`
	Source     string    `json:"source"`
	Transports []string  `json:"transports"`
	Error      *string   `json:"error,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Comparator is the direction of a threshold.
type Comparator string

const (
	Above Comparator = ">"
	Below Comparator = "<"
)

// Threshold notifies when a device value crosses a limit.
type Threshold struct {
	ID        int64      `json:"id"`
	DeviceIdx int64      `json:"device_idx"`
	Field     int        `json:"field"` // svalue field, or -1 for the nvalue
	Op        Comparator `json:"comparator"`
	Value     float64    `json:"value"`
	Message   string     `json:"message"`
	Priority  int        `json:"priority"`

	// SendAlways notifies on every matching update instead of only when the
	// value crosses the limit.
	SendAlways bool      `json:"send_always"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks a threshold before it is stored.
func (t *Threshold) Validate() error {
	if t.DeviceIdx <= 0 {
		return fmt.Errorf("%w: device_idx is required", ErrInvalidThreshold)
	}
	if t.Op != Above && t.Op != Below {
		return fmt.Errorf("%w: comparator must be > or <", ErrInvalidThreshold)
	}
	if t.Field < -1 {
		return fmt.Errorf("%w: field must be -1 or a field index", ErrInvalidThreshold)
	}
	return nil
}

// Store persists notification history and thresholds.
type Store interface {
	Log(ctx context.Context, r *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Trim(ctx context.Context, keep int) (int64, error)

	CreateThreshold(ctx context.Context, t *Threshold) error
	ListThresholds(ctx context.Context) ([]Threshold, error)
	DeleteThreshold(ctx context.Context, id int64) error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Log inserts a notification record.
func (s *SQLiteStore) Log(ctx context.Context, r *Record) error {
	if r.SentAt.IsZero() {
		r.SentAt = time.Now().UTC()
	}
	var errText sql.NullString
	if r.Error != nil {
		errText = sql.NullString{String: *r.Error, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (subject, message, priority, source, transports, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Subject, r.Message, r.Priority, r.Source,
		strings.Join(r.Transports, ","), errText,
		r.SentAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	if r.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading notification id: %w", err)
	}
	return nil
}

// Recent returns the newest notifications first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, message, priority, source, transports, error, sent_at
		FROM notifications ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var transports, sentAt string
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Subject, &r.Message, &r.Priority, &r.Source, &transports, &errText, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if transports != "" {
			r.Transports = strings.Split(transports, ",")
		}
		if errText.Valid {
			r.Error = &errText.String
		}
		if t, parseErr := time.Parse(time.RFC3339Nano, sentAt); parseErr == nil {
			r.SentAt = t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return records, nil
}

// Trim keeps only the newest keep notifications.
func (s *SQLiteStore) Trim(ctx context.Context, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE id NOT IN (SELECT id FROM notifications ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("trimming notifications: %w", err)
	}
	return result.RowsAffected()
}

// CreateThreshold inserts a threshold.
func (s *SQLiteStore) CreateThreshold(ctx context.Context, t *Threshold) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	sendAlways := 0
	if t.SendAlways {
		sendAlways = 1
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO device_notifications (device_idx, field, comparator, value, message, priority, send_always, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.DeviceIdx, t.Field, string(t.Op), t.Value, t.Message, t.Priority, sendAlways,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting threshold: %w", err)
	}
	if t.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading threshold id: %w", err)
	}
	return nil
}

// ListThresholds returns every threshold ordered by device.
func (s *SQLiteStore) ListThresholds(ctx context.Context) ([]Threshold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_idx, field, comparator, value, message, priority, send_always, created_at
		FROM device_notifications ORDER BY device_idx, id`)
	if err != nil {
		return nil, fmt.Errorf("querying thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []Threshold
	for rows.Next() {
		var t Threshold
		var op, createdAt string
		var sendAlways int
		if err := rows.Scan(&t.ID, &t.DeviceIdx, &t.Field, &op, &t.Value, &t.Message, &t.Priority, &sendAlways, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning threshold: %w", err)
		}
		t.Op = Comparator(op)
		t.SendAlways = sendAlways != 0
		if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			t.CreatedAt = ts
		}
		thresholds = append(thresholds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thresholds: %w", err)
	}
	return thresholds, nil
}

// DeleteThreshold removes a threshold.
func (s *SQLiteStore) DeleteThreshold(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM device_notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting threshold: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrThresholdNotFound
	}
	return nil
}
