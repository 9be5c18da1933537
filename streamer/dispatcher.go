package streamer

import (
	"context"
	"fmt"

	"github.com/hypothesis/h-sub005/errors"
)

// Dispatch drains the work queue one message at a time until ctx is
// cancelled. Each message is handled inside its own read-only
// serializable transaction; a handler fault rolls back, logs a warning
// and the loop continues. One bad message never kills the dispatcher.
func (s *Streamer) Dispatch(ctx context.Context) error {
	s.logger.Info("dispatcher running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.queue.C():
			if err := s.dispatchOne(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				class := errors.Classify(err).String()
				s.logger.Warn("message handling failed", "error", err, "class", class)
				s.metrics.handlerFailure(class)
			}
		}
	}
}

// dispatchOne handles a single message inside its own transactional
// scope. The transaction is released on every exit path: commit on
// success, rollback on fault.
func (s *Streamer) dispatchOne(ctx context.Context, msg Message) (err error) {
	tx, err := s.txf.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "streamer", "dispatchOne", "begin transaction")
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Debug("rollback failed", "error", rbErr)
			}
		}
	}()

	switch m := msg.(type) {
	case *AnnotationEvent:
		err = s.handleAnnotationEvent(ctx, tx, m)
	case *UserEvent:
		err = s.handleUserEvent(m)
	case *ClientMessage:
		err = m.Conn.HandleMessage(m.Raw)
	default:
		err = errors.WrapInvalid(
			fmt.Errorf("%w: %T", errors.ErrUnknownType, msg),
			"streamer", "dispatchOne", "route message")
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "streamer", "dispatchOne", "commit transaction")
	}
	committed = true
	return nil
}
