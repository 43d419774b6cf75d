package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"mixfleet/internal/ports"
)

// Store caches the live fleet and order views in Redis. Values are
// JSON snapshots keyed per entity; a set tracks which trucks have a
// cached view so FleetStatus can enumerate without a scan.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func truckKey(truckID int64) string {
	return fmt.Sprintf("mixfleet:truck:%d", truckID)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("mixfleet:order:%d", orderID)
}

const allTrucksKey = "mixfleet:trucks"

func (r *Store) SetTruck(ctx context.Context, view ports.TruckView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, truckKey(view.TruckID), data, 0)
	pipe.SAdd(ctx, allTrucksKey, view.TruckID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Store) GetTruck(ctx context.Context, truckID int64) (*ports.TruckView, error) {
	data, err := r.client.Get(ctx, truckKey(truckID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var view ports.TruckView
	return &view, json.Unmarshal(data, &view)
}

func (r *Store) SetOrder(ctx context.Context, view ports.OrderView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, orderKey(view.OrderID), data, 0).Err()
}

func (r *Store) GetOrder(ctx context.Context, orderID int64) (*ports.OrderView, error) {
	data, err := r.client.Get(ctx, orderKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var view ports.OrderView
	return &view, json.Unmarshal(data, &view)
}

func (r *Store) AllTruckIDs(ctx context.Context) ([]int64, error) {
	members, err := r.client.SMembers(ctx, allTrucksKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
