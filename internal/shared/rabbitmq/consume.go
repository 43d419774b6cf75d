package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mixfleet/internal/shared/logger"
)

// HandlerFunc processes one message body. Its error decides the ack:
// nil acks, ErrDrop (or a decode failure wrapped in it) dead-letters
// without requeue, Retryable errors requeue, anything else dead-letters.
type HandlerFunc func(ctx context.Context, body []byte) error

// ErrDrop marks a message as unprocessable (malformed payload, unknown
// kind). It goes to the DLX instead of looping through redelivery.
var ErrDrop = errors.New("rabbitmq: drop message")

// retryableError wraps an error to signal requeue=true on the broker.
type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable wraps an error to mark it as retryable (requeue=true).
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable returns true if the error is marked as retryable.
func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// ConsumeLoop consumes a queue until ctx is cancelled, re-opening the
// channel with exponential backoff after broker hiccups. Messages are
// acked manually based on the handler's error classification.
func ConsumeLoop(ctx context.Context, client *Client, log *logger.Logger, queue, consumerTag string, prefetch int, handle HandlerFunc) {
	const (
		retryBaseDelay = time.Second
		retryMaxDelay  = 30 * time.Second
	)

	backoff := retryBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ch, err := client.NewConsumerChannel(prefetch)
		if err != nil {
			log.Error(ctx, "rabbitmq_channel_failed", "Failed to open consumer channel", err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, retryMaxDelay)
			continue
		}

		deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			log.Error(ctx, "rabbitmq_consume_failed", "Failed to start consuming "+queue, err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, retryMaxDelay)
			continue
		}

		// reset backoff after a successful subscribe
		backoff = retryBaseDelay

		closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	read:
		for {
			select {
			case <-ctx.Done():
				// stop consuming; broker requeues any in-flight deliveries
				_ = ch.Cancel(consumerTag, false)
				_ = ch.Close()
				return
			case amqpErr := <-closed:
				if amqpErr != nil {
					log.Error(ctx, "rabbitmq_channel_closed", "Consumer channel closed", amqpErr)
				}
				break read
			case d, ok := <-deliveries:
				if !ok {
					_ = ch.Close()
					break read
				}
				settle(ctx, log, d, handle)
			}
		}

		// small delay before recreating the channel (avoid hot loop)
		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, retryMaxDelay)
	}
}

// settle runs the handler for one delivery and acks/nacks accordingly.
func settle(ctx context.Context, log *logger.Logger, d amqp.Delivery, handle HandlerFunc) {
	err := handle(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrDrop):
		log.Error(ctx, "message_dropped", "Unprocessable message sent to DLX", err)
		_ = d.Nack(false, false)
	case IsRetryable(err):
		log.Error(ctx, "processing_retryable", "Processing failed; requeuing for retry", err)
		_ = d.Nack(false, true)
	default:
		log.Error(ctx, "processing_failed", "Processing failed; nacking to DLX", err)
		_ = d.Nack(false, false)
	}
}

// sleepWithContext sleeps for d or returns false early if ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff doubles the delay up to cap.
func nextBackoff(curr, cap time.Duration) time.Duration {
	n := curr * 2
	if n > cap {
		return cap
	}
	return n
}
