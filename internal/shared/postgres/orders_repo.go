package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"mixfleet/internal/domain/orders"
	"mixfleet/internal/ports"
)

// OrdersRepo implements persistence for orders using pgx and SQL.
type OrdersRepo struct{}

// NewOrdersRepo constructs a new OrdersRepo.
func NewOrdersRepo() ports.OrderRepository {
	return &OrdersRepo{}
}

const orderColumns = `id, customer_name, distance_miles, status, plant_id, truck_id, created_at, updated_at`

func scanOrder(row pgx.Row, o *orders.Order) error {
	return row.Scan(&o.ID, &o.CustomerName, &o.DistanceMiles, &o.Status,
		&o.PlantID, &o.TruckID, &o.CreatedAt, &o.UpdatedAt)
}

// Create inserts a new pending order and fills in id and timestamps.
func (r *OrdersRepo) Create(ctx context.Context, o *orders.Order) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	return tx.QueryRow(ctx, `
		INSERT INTO orders (customer_name, distance_miles, status, plant_id)
		VALUES ($1, $2, 'pending', $3)
		RETURNING id, status, created_at, updated_at`,
		o.CustomerName, o.DistanceMiles, o.PlantID,
	).Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
}

// GetByID retrieves a single order.
func (r *OrdersRepo) GetByID(ctx context.Context, id int64) (*orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var o orders.Order
	err = scanOrder(tx.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1`, id), &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// List returns the most recent orders, newest first.
func (r *OrdersRepo) List(ctx context.Context, limit int) ([]orders.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC
		LIMIT $1`, limit)
}

// OldestPending returns the longest-waiting pending order.
func (r *OrdersRepo) OldestPending(ctx context.Context) (*orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var o orders.Order
	err = scanOrder(tx.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1`), &o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListPending returns all pending orders, oldest first. Startup
// reconciliation replays the live pairing logic over this list.
func (r *OrdersRepo) ListPending(ctx context.Context) ([]orders.Order, error) {
	return r.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending'
		ORDER BY created_at ASC`)
}

// ListAssigned returns orders stuck in assigned, oldest first.
func (r *OrdersRepo) ListAssigned(ctx context.Context) ([]orders.Order, error) {
	return r.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'assigned'
		ORDER BY created_at ASC`)
}

// AssignCAS binds a truck to a pending order.
func (r *OrdersRepo) AssignCAS(ctx context.Context, orderID, truckID int64) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'assigned', truck_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		orderID, truckID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatusCAS moves an order from expected to next, returning
// whether the update applied. Replays of the same transition are no-ops.
func (r *OrdersRepo) UpdateStatusCAS(ctx context.Context, id int64, expected, next orders.OrderStatus) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, next, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelCAS cancels any non-terminal order and clears its truck linkage.
func (r *OrdersRepo) CancelCAS(ctx context.Context, id int64) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'cancelled', truck_id = NULL, updated_at = now()
		WHERE id = $1 AND status NOT IN ('delivered', 'cancelled')`,
		id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// query runs a multi-row order select.
func (r *OrdersRepo) query(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		var o orders.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
