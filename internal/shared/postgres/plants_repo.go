package postgres

import (
	"context"

	"mixfleet/internal/domain/plants"
	"mixfleet/internal/ports"
)

// PlantsRepo implements persistence for plants and their inventories.
type PlantsRepo struct{}

// NewPlantsRepo constructs a new PlantsRepo.
func NewPlantsRepo() ports.PlantRepository {
	return &PlantsRepo{}
}

// GetPlant retrieves a plant by id.
func (r *PlantsRepo) GetPlant(ctx context.Context, id int64) (*plants.Plant, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var p plants.Plant
	err = tx.QueryRow(ctx, `SELECT id, name FROM plants WHERE id = $1`, id).Scan(&p.ID, &p.Name)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultPlant returns the lowest-id plant.
func (r *PlantsRepo) DefaultPlant(ctx context.Context) (*plants.Plant, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var p plants.Plant
	err = tx.QueryRow(ctx, `SELECT id, name FROM plants ORDER BY id ASC LIMIT 1`).Scan(&p.ID, &p.Name)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetInventory retrieves the inventory row for a plant.
func (r *PlantsRepo) GetInventory(ctx context.Context, plantID int64) (*plants.Inventory, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var inv plants.Inventory
	err = tx.QueryRow(ctx, `
		SELECT id, plant_id, sand_quantity, gravel_quantity, concrete_quantity, updated_at
		FROM plant_inventory
		WHERE plant_id = $1`, plantID,
	).Scan(&inv.ID, &inv.PlantID, &inv.SandQuantity, &inv.GravelQuantity, &inv.ConcreteQuantity, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Deduct removes amount units of sand, gravel and concrete in one
// guarded update. Zero rows affected means a shortfall; nothing changes
// and quantities can never go negative.
func (r *PlantsRepo) Deduct(ctx context.Context, plantID, amount int64) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE plant_inventory
		SET sand_quantity     = sand_quantity - $2,
		    gravel_quantity   = gravel_quantity - $2,
		    concrete_quantity = concrete_quantity - $2,
		    updated_at        = now()
		WHERE plant_id = $1
		  AND sand_quantity >= $2
		  AND gravel_quantity >= $2
		  AND concrete_quantity >= $2`,
		plantID, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
