package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/futursched/scheduler/internal/model"
	"github.com/futursched/scheduler/internal/outbox"
	"github.com/futursched/scheduler/libs/db"
)

var (
	ErrNotFound  = errors.New("appointment not found")
	ErrSlotTaken = errors.New("time slot already booked")
)

// DB is the slice of pgxpool.Pool the repository needs. db.Pool satisfies it
// in production; tests substitute a mock pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*db.Pool)(nil)

// Repository is the single source of truth for appointments. Every mutation
// runs in its own transaction and writes its outbox event in that same
// transaction, so state and events cannot diverge.
type Repository struct {
	db     DB
	outbox *outbox.Repository
}

func NewRepository(database DB, outboxRepo *outbox.Repository) *Repository {
	return &Repository{db: database, outbox: outboxRepo}
}

// Patch carries the client-editable fields of a partial update. Notification
// flags are deliberately absent: only MarkNotificationSent may set them.
type Patch struct {
	Name        *string
	Email       *string
	Phone       *string
	Date        *string
	Time        *string
	ServiceType *string
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil &&
		p.Date == nil && p.Time == nil && p.ServiceType == nil
}

func (p Patch) TouchesSlot() bool {
	return p.Date != nil || p.Time != nil
}

const appointmentColumns = `
	id, name, email, COALESCE(phone, ''),
	to_char(appointment_date, 'YYYY-MM-DD'),
	to_char(appointment_time, 'HH24:MI'),
	service_type, status, email_notification_sent, sms_notification_sent,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&a.Phone,
		&a.Date,
		&a.Time,
		&a.ServiceType,
		&a.Status,
		&a.EmailNotificationSent,
		&a.SMSNotificationSent,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Create inserts a new scheduled appointment. A concurrent insert into the
// same active slot loses on the partial unique index and surfaces as
// ErrSlotTaken, which closes the check-then-insert race without any
// application-level locking.
func (r *Repository) Create(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, name, email, phone, appointment_date, appointment_time, service_type, status)
		VALUES ($1::uuid, $2, $3, NULLIF($4, ''), $5::date, $6::time, $7, $8)
		RETURNING `+appointmentColumns,
		appt.ID, appt.Name, appt.Email, appt.Phone, appt.Date, appt.Time,
		appt.ServiceType, model.StatusScheduled)

	stored, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Appointment{}, ErrSlotTaken
		}
		return model.Appointment{}, err
	}

	payload, err := appointmentPayload(stored)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   stored.ID,
		EventType:     outbox.EventAppointmentBooked,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return stored, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1::uuid
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

func (r *Repository) ListAll(ctx context.Context) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY appointment_date DESC, appointment_time DESC
	`)
}

// ListUpcoming returns scheduled appointments starting within 24 hours of now.
func (r *Repository) ListUpcoming(ctx context.Context, now time.Time) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
			AND (appointment_date + appointment_time) >= $1::timestamp
			AND (appointment_date + appointment_time) <= $2::timestamp
		ORDER BY appointment_date, appointment_time
	`, pgTimestamp(now), pgTimestamp(now.Add(24*time.Hour)))
}

func (r *Repository) ListByDateRange(ctx context.Context, start, end string) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date BETWEEN $1::date AND $2::date
		ORDER BY appointment_date, appointment_time
	`, start, end)
}

// ListDueForReminder returns scheduled, not-yet-emailed appointments whose
// start falls inside (now, now+window]. An appointment exactly at now is past
// due and excluded, matching the reminder-window contract.
func (r *Repository) ListDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]model.Appointment, error) {
	after, until := reminderWindow(now, window)
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
			AND email_notification_sent = false
			AND (appointment_date + appointment_time) > $1::timestamp
			AND (appointment_date + appointment_time) <= $2::timestamp
		ORDER BY appointment_date, appointment_time
	`, after, until)
}

// reminderWindow computes the half-open due window (after, until]: strictly
// after now, up to and including now+window. The query's > / <= operators
// apply these bounds; the pair here pins them for tests.
func reminderWindow(now time.Time, window time.Duration) (after, until string) {
	return pgTimestamp(now), pgTimestamp(now.Add(window))
}

// SlotAvailable reports whether no active appointment occupies (date, time).
// excludeID ignores one appointment, for re-checking a record's own slot
// during an update. The answer is advisory: the unique index is the authority.
func (r *Repository) SlotAvailable(ctx context.Context, date, timeOfDay, excludeID string) (bool, error) {
	return r.slotAvailable(ctx, r.db, date, timeOfDay, excludeID)
}

func (r *Repository) slotAvailable(ctx context.Context, q querier, date, timeOfDay, excludeID string) (bool, error) {
	var exclude *string
	if excludeID != "" {
		exclude = &excludeID
	}
	var count int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE appointment_date = $1::date
			AND appointment_time = $2::time
			AND status <> 'cancelled'
			AND ($3::uuid IS NULL OR id <> $3::uuid)
	`, date, timeOfDay, exclude).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// Update applies the given fields and refreshes updated_at. When the patch
// moves the appointment to another slot, availability is re-checked inside
// the same transaction while the row is locked, with the unique index as the
// final backstop.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, ErrNotFound
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1::uuid
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}

	if patch.TouchesSlot() {
		date := existing.Date
		if patch.Date != nil {
			date = *patch.Date
		}
		timeOfDay := existing.Time
		if patch.Time != nil {
			timeOfDay = *patch.Time
		}
		free, err := r.slotAvailable(ctx, tx, date, timeOfDay, existing.ID)
		if err != nil {
			return model.Appointment{}, err
		}
		if !free {
			return model.Appointment{}, ErrSlotTaken
		}
	}

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			phone = CASE WHEN $4::text IS NULL THEN phone ELSE NULLIF($4, '') END,
			appointment_date = COALESCE($5::date, appointment_date),
			appointment_time = COALESCE($6::time, appointment_time),
			service_type = COALESCE($7, service_type),
			updated_at = now()
		WHERE id = $1::uuid
		RETURNING `+appointmentColumns,
		id, patch.Name, patch.Email, patch.Phone, patch.Date, patch.Time, patch.ServiceType))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Appointment{}, ErrSlotTaken
		}
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

// Cancel marks the appointment cancelled, freeing its slot for rebooking.
// Notification flags are left untouched. Cancelling twice is a no-op.
func (r *Repository) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	if !validID(id) {
		return model.Appointment{}, ErrNotFound
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cancelled, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1::uuid
		RETURNING `+appointmentColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}

	payload, err := appointmentPayload(cancelled)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   cancelled.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return cancelled, nil
}

// Delete physically removes the row. Unknown ids fail with ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1::uuid`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkNotificationSent flips one notification flag false->true. The guard on
// the current flag value makes the transition idempotent: a second caller
// finds no row to update and no event is emitted. Flags are never reset.
func (r *Repository) MarkNotificationSent(ctx context.Context, id, channel string) error {
	if !validID(id) {
		return ErrNotFound
	}

	var column string
	switch channel {
	case model.ChannelEmail:
		column = "email_notification_sent"
	case model.ChannelSMS:
		column = "sms_notification_sent"
	default:
		return errors.New("unknown notification channel " + channel)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var marked string
	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET `+column+` = true, updated_at = now()
		WHERE id = $1::uuid AND `+column+` = false
		RETURNING id
	`, id).Scan(&marked)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already marked or deleted meanwhile; either way there is nothing to do.
		return nil
	}
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": id,
		"channel":        channel,
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     outbox.EventReminderSent,
		Payload:       payload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func appointmentPayload(appt model.Appointment) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id":   appt.ID,
		"name":             appt.Name,
		"email":            appt.Email,
		"phone":            appt.Phone,
		"appointment_date": appt.Date,
		"appointment_time": appt.Time,
		"service_type":     appt.ServiceType,
		"status":           appt.Status,
	})
}

func pgTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
