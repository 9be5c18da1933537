package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hypothesis/h-sub005/errors"
)

// messageIterator is the slice of jetstream.MessagesContext the consume
// loop uses.
type messageIterator interface {
	Next() (jetstream.Msg, error)
	Stop()
}

// runConsumer subscribes to one bus topic and feeds the work queue. The
// consumer name carries a random suffix so every worker process gets its
// own full copy of the stream instead of sharing deliveries.
func (s *Streamer) runConsumer(ctx context.Context, topic string, parse func([]byte) (Message, error)) error {
	name := consumerName(topic)
	logger := s.logger.With("topic", topic, "consumer", name)

	consumer, err := s.nats.EphemeralConsumer(ctx, s.stream, topic, name)
	if err != nil {
		return errors.WrapFatal(err, "streamer", "runConsumer", "create bus consumer")
	}

	iter, err := consumer.Messages()
	if err != nil {
		return errors.WrapFatal(err, "streamer", "runConsumer", "open message iterator")
	}

	logger.Info("bus consumer running")

	return s.consumeLoop(ctx, logger, topic, iter, parse)
}

// consumeLoop drains iter into the work queue. Returns only on
// cancellation or on a dead read loop; the latter is fatal because a
// consumer that stops consuming is silent data loss.
func (s *Streamer) consumeLoop(ctx context.Context, logger *slog.Logger, topic string, iter messageIterator, parse func([]byte) (Message, error)) error {
	// Unblocks Next when the context is cancelled. The watcher must
	// also exit when the loop returns on its own, or the deferred
	// join below would wait on a cancellation that never comes.
	loopDone := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			iter.Stop()
		case <-loopDone:
		}
	}()
	defer func() {
		close(loopDone)
		iter.Stop()
		<-watcherDone
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.WrapFatal(
				fmt.Errorf("%w: %w", errors.ErrSubscriptionClosed, err),
				"streamer", "consumeLoop", "read from bus")
		}

		parsed, err := parse(msg.Data())
		if err != nil {
			logger.Warn("dropping undecodable bus message", "error", err)
			s.ack(logger, msg.Ack)
			continue
		}

		if err := s.queue.Put(parsed); err != nil {
			logger.Warn("work queue full, dropping bus message")
			s.metrics.droppedMessage(topic)
		} else {
			s.metrics.receivedMessage(topic)
		}

		// Delivery is at-least-once and handlers re-fetch by id, so
		// acking after a drop is acceptable loss under overload.
		s.ack(logger, msg.Ack)
	}
}

func (s *Streamer) ack(logger *slog.Logger, ack func() error) {
	if err := ack(); err != nil {
		logger.Warn("bus ack failed", "error", err)
	}
}

// consumerName builds the per-instance subscription identifier. NATS
// consumer names cannot contain dots.
func consumerName(topic string) string {
	sanitized := strings.ReplaceAll(topic, ".", "-")
	return fmt.Sprintf("streamer-%s-%s", sanitized, uuid.NewString()[:8])
}
