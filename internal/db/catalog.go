package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beautybot/internal/model"
)

const serviceColumns = `id, title, description, price, duration_minutes, created_at`
const specialistColumns = `id, name, description, is_active, work_start, work_end`

// CreateService inserts a service unless one with the same title (case-insensitive)
// exists. The returned bool is false for a duplicate, in which case the existing row is returned.
func (db *DB) CreateService(ctx context.Context, title string, price float64) (*model.Service, bool, error) {
	id, created, err := db.EnsureService(ctx, model.Service{Title: title, Price: price})
	if err != nil {
		return nil, false, err
	}
	svc, err := db.GetService(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return svc, created, nil
}

// EnsureService inserts a service unless its case-folded title exists. An existing
// row is returned as is, so duration or price changes made by staff stay in place.
func (db *DB) EnsureService(ctx context.Context, svc model.Service) (int64, bool, error) {
	if svc.DurationMinutes <= 0 {
		svc.DurationMinutes = 60
	}
	var id int64
	err := db.QueryRowxContext(ctx, db.Rebind(`
		INSERT INTO services (title, title_key, description, price, duration_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (title_key) DO NOTHING
		RETURNING id`),
		svc.Title, nameKey(svc.Title), svc.Description, svc.Price, svc.DurationMinutes, time.Now().UTC(),
	).Scan(&id)

	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = db.get(ctx, &id, `SELECT id FROM services WHERE title_key = ?`, nameKey(svc.Title))
	}
	if err != nil {
		return 0, false, fmt.Errorf("ensure service %q: %w", svc.Title, err)
	}
	return id, created, nil
}

func (db *DB) GetService(ctx context.Context, id int64) (*model.Service, error) {
	var svc model.Service
	err := db.get(ctx, &svc, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (db *DB) ListServices(ctx context.Context) ([]model.Service, error) {
	var out []model.Service
	if err := db.list(ctx, &out, `SELECT `+serviceColumns+` FROM services ORDER BY id`); err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) SetServiceDuration(ctx context.Context, id int64, minutes int) error {
	res, err := db.exec(ctx, `UPDATE services SET duration_minutes = ? WHERE id = ?`, minutes, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSpecialist inserts a specialist unless the name is already taken (case-insensitive).
func (db *DB) CreateSpecialist(ctx context.Context, sp model.Specialist) (*model.Specialist, bool, error) {
	sp.IsActive = true
	id, created, err := db.EnsureSpecialist(ctx, sp)
	if err != nil {
		return nil, false, err
	}
	out, err := db.GetSpecialist(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// EnsureSpecialist inserts a specialist unless the case-folded name exists.
// An existing row is returned unchanged.
func (db *DB) EnsureSpecialist(ctx context.Context, sp model.Specialist) (int64, bool, error) {
	var id int64
	err := db.QueryRowxContext(ctx, db.Rebind(`
		INSERT INTO specialists (name, name_key, description, is_active, work_start, work_end)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name_key) DO NOTHING
		RETURNING id`),
		sp.Name, nameKey(sp.Name), sp.Description, sp.IsActive, sp.WorkStart, sp.WorkEnd,
	).Scan(&id)

	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = db.get(ctx, &id, `SELECT id FROM specialists WHERE name_key = ?`, nameKey(sp.Name))
	}
	if err != nil {
		return 0, false, fmt.Errorf("ensure specialist %q: %w", sp.Name, err)
	}
	return id, created, nil
}

func (db *DB) GetSpecialist(ctx context.Context, id int64) (*model.Specialist, error) {
	var sp model.Specialist
	err := db.get(ctx, &sp, `SELECT `+specialistColumns+` FROM specialists WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// ListSpecialists returns active specialists linked to serviceID, or all active
// specialists when serviceID is zero.
func (db *DB) ListSpecialists(ctx context.Context, serviceID int64) ([]model.Specialist, error) {
	var out []model.Specialist
	var err error
	if serviceID == 0 {
		err = db.list(ctx, &out, `SELECT `+specialistColumns+` FROM specialists WHERE is_active = TRUE ORDER BY id`)
	} else {
		err = db.list(ctx, &out, `
			SELECT sp.id, sp.name, sp.description, sp.is_active, sp.work_start, sp.work_end
			FROM specialists sp
			JOIN specialist_services ss ON ss.specialist_id = sp.id
			WHERE ss.service_id = ? AND sp.is_active = TRUE
			ORDER BY sp.id`, serviceID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LinkSpecialistService records that a specialist provides a service.
// It returns false when the link already existed.
func (db *DB) LinkSpecialistService(ctx context.Context, specialistID, serviceID int64) (bool, error) {
	if _, err := db.GetSpecialist(ctx, specialistID); err != nil {
		return false, err
	}
	if _, err := db.GetService(ctx, serviceID); err != nil {
		return false, err
	}

	res, err := db.exec(ctx, `
		INSERT INTO specialist_services (specialist_id, service_id)
		VALUES (?, ?)
		ON CONFLICT (specialist_id, service_id) DO NOTHING`,
		specialistID, serviceID,
	)
	if err != nil {
		return false, fmt.Errorf("link specialist %d to service %d: %w", specialistID, serviceID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (db *DB) isLinked(ctx context.Context, specialistID, serviceID int64) (bool, error) {
	var n int
	err := db.get(ctx, &n, `
		SELECT COUNT(*) FROM specialist_services WHERE specialist_id = ? AND service_id = ?`,
		specialistID, serviceID,
	)
	return n > 0, err
}
