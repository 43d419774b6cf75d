package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"mixfleet/internal/shared/contracts"
	"mixfleet/internal/shared/rabbitmq"
)

// HandleMessage routes one dispatch_queue delivery. Backlog conditions
// ack the message; the periodic sweep retries later.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	env, err := contracts.DecodeEnvelope(body)
	if err != nil {
		return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
	}

	switch env.Kind {
	case contracts.KindOrderCreated:
		var p contracts.OrderCreated
		if err := env.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
		}
		return s.mapBacklog(ctx, s.AssignOrder(ctx, p.OrderID), p.OrderID)

	case contracts.KindTruckIdle:
		var p contracts.TruckIdle
		if err := env.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
		}
		err := s.AssignToTruck(ctx, p.TruckID)
		if errors.Is(err, ErrNoPendingOrder) {
			return nil
		}
		return s.retryable(err)

	case contracts.KindOrderAssignRequest:
		var p contracts.OrderAssignRequest
		if err := env.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", rabbitmq.ErrDrop, err)
		}
		return s.retryable(s.AssignPinned(ctx, p.OrderID, p.TruckID))

	default:
		// tracking_queue kinds can leak here if bindings are edited by
		// hand; not ours to process
		return fmt.Errorf("%w: unexpected kind %s", rabbitmq.ErrDrop, env.Kind)
	}
}

// mapBacklog treats a full fleet as an expected condition: the order
// stays pending and a later truck.idle or sweep picks it up.
func (s *Service) mapBacklog(ctx context.Context, err error, orderID int64) error {
	if errors.Is(err, ErrNoAvailableTruck) {
		s.logger.Warn(ctx, "assignment_backlog", "No truck available, order stays pending", map[string]any{
			"order_id": orderID,
		})
		return nil
	}
	return s.retryable(err)
}

// retryable marks infrastructure errors for redelivery.
func (s *Service) retryable(err error) error {
	if err == nil {
		return nil
	}
	return rabbitmq.Retryable(err)
}
