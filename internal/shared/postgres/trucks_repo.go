package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/domain/trucks"
	"mixfleet/internal/ports"
)

// TrucksRepo implements persistence for trucks and their status rows.
type TrucksRepo struct{}

// NewTrucksRepo constructs a new TrucksRepo.
func NewTrucksRepo() ports.TruckRepository {
	return &TrucksRepo{}
}

const statusColumns = `id, truck_id, status, current_order_id, updated_at`

func scanStatus(row pgx.Row, ts *trucks.TruckStatus) error {
	return row.Scan(&ts.ID, &ts.TruckID, &ts.Status, &ts.CurrentOrderID, &ts.UpdatedAt)
}

// GetTruck retrieves a truck by id.
func (r *TrucksRepo) GetTruck(ctx context.Context, id int64) (*trucks.Truck, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var t trucks.Truck
	err = tx.QueryRow(ctx, `
		SELECT id, driver_name, created_at FROM trucks WHERE id = $1`, id,
	).Scan(&t.ID, &t.DriverName, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetStatus retrieves the status row for a truck.
func (r *TrucksRepo) GetStatus(ctx context.Context, truckID int64) (*trucks.TruckStatus, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var ts trucks.TruckStatus
	err = scanStatus(tx.QueryRow(ctx, `
		SELECT `+statusColumns+` FROM truck_status WHERE truck_id = $1`, truckID), &ts)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// GetStatusForOrder finds the truck currently bound to an order.
func (r *TrucksRepo) GetStatusForOrder(ctx context.Context, orderID int64) (*trucks.TruckStatus, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var ts trucks.TruckStatus
	err = scanStatus(tx.QueryRow(ctx, `
		SELECT `+statusColumns+` FROM truck_status WHERE current_order_id = $1`, orderID), &ts)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// LowestAvailable picks the available truck with the smallest id.
// Deterministic first-available matching, not load- or distance-aware.
func (r *TrucksRepo) LowestAvailable(ctx context.Context) (*trucks.Truck, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var t trucks.Truck
	err = tx.QueryRow(ctx, `
		SELECT t.id, t.driver_name, t.created_at
		FROM trucks t
		JOIN truck_status ts ON ts.truck_id = t.id
		WHERE ts.status = 'available' AND ts.current_order_id IS NULL
		ORDER BY t.id ASC
		LIMIT 1`,
	).Scan(&t.ID, &t.DriverName, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListAvailable returns all available trucks ordered by id.
func (r *TrucksRepo) ListAvailable(ctx context.Context) ([]trucks.Truck, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT t.id, t.driver_name, t.created_at
		FROM trucks t
		JOIN truck_status ts ON ts.truck_id = t.id
		WHERE ts.status = 'available' AND ts.current_order_id IS NULL
		ORDER BY t.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trucks.Truck
	for rows.Next() {
		var t trucks.Truck
		if err := rows.Scan(&t.ID, &t.DriverName, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListInFlight returns status rows for trucks mid-cycle. Recovery scans
// these for work interrupted by a crash.
func (r *TrucksRepo) ListInFlight(ctx context.Context) ([]trucks.TruckStatus, error) {
	return r.queryStatuses(ctx, `
		SELECT `+statusColumns+` FROM truck_status
		WHERE status IN ('loading', 'en_route', 'at_job_site', 'delivering', 'returning', 'washing')
		ORDER BY truck_id ASC`)
}

// ListAll returns every truck's status row ordered by truck id.
func (r *TrucksRepo) ListAll(ctx context.Context) ([]trucks.TruckStatus, error) {
	return r.queryStatuses(ctx, `
		SELECT `+statusColumns+` FROM truck_status ORDER BY truck_id ASC`)
}

// AssignCAS claims an available truck for an order.
func (r *TrucksRepo) AssignCAS(ctx context.Context, truckID, orderID int64) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE truck_status
		SET status = 'assigned', current_order_id = $2, updated_at = now()
		WHERE truck_id = $1 AND status = 'available'`,
		truckID, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStateCAS moves a truck from expected to next, keeping its order
// linkage. Replays of the same transition are no-ops.
func (r *TrucksRepo) UpdateStateCAS(ctx context.Context, truckID int64, expected, next trucks.TruckState) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE truck_status
		SET status = $2, updated_at = now()
		WHERE truck_id = $1 AND status = $3`,
		truckID, next, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetState forces a truck state without a guard; recovery paths only.
func (r *TrucksRepo) SetState(ctx context.Context, truckID int64, state trucks.TruckState) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE truck_status
		SET status = $2, updated_at = now()
		WHERE truck_id = $1`,
		truckID, state)
	return err
}

// Release returns the truck to available with no current order.
func (r *TrucksRepo) Release(ctx context.Context, truckID int64) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE truck_status
		SET status = 'available', current_order_id = NULL, updated_at = now()
		WHERE truck_id = $1`,
		truckID)
	return err
}

// queryStatuses runs a multi-row truck_status select.
func (r *TrucksRepo) queryStatuses(ctx context.Context, sql string, args ...any) ([]trucks.TruckStatus, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trucks.TruckStatus
	for rows.Next() {
		var ts trucks.TruckStatus
		if err := scanStatus(rows, &ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
