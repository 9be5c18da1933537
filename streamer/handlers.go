package streamer

import (
	"context"

	"github.com/hypothesis/h-sub005/errors"
	"github.com/hypothesis/h-sub005/pkg/uri"
)

// handleAnnotationEvent fans one annotation lifecycle event out to every
// matching, authorized connection. The annotation is re-fetched by id so
// duplicate bus deliveries and stale event snapshots are harmless.
func (s *Streamer) handleAnnotationEvent(ctx context.Context, tx Tx, ev *AnnotationEvent) error {
	ann, err := s.annotations.Fetch(ctx, tx, ev.AnnotationID)
	if err != nil {
		return errors.Wrap(err, "streamer", "handleAnnotationEvent", "fetch annotation")
	}
	if ann == nil {
		// Expected under delete races; not an error.
		s.logger.Warn("annotation not found, skipping notification",
			"annotation_id", ev.AnnotationID, "action", ev.Action)
		return nil
	}

	uris, err := s.annotations.ExpandURIs(ctx, tx, ann.TargetURI)
	if err != nil {
		return errors.Wrap(err, "streamer", "handleAnnotationEvent", "expand target uri")
	}

	target := FilterTarget{
		ID:         ann.ID,
		Group:      ann.GroupID,
		URIs:       uri.NormalizeAll(uris),
		References: ann.References,
	}

	var matched []*Connection
	for _, conn := range s.registry.Snapshot() {
		if conn.Terminated() {
			continue
		}
		if conn.Filter().Matches(target) {
			matched = append(matched, conn)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	// One flag lookup per event, not per connection.
	authorFlagged, err := s.flags.Flagged(ctx, tx, ann.UserID)
	if err != nil {
		return errors.Wrap(err, "streamer", "handleAnnotationEvent", "check author flags")
	}

	var recipients []*Connection
	for _, conn := range matched {
		if ev.SrcClientID != "" && conn.ClientID() == ev.SrcClientID {
			continue
		}
		if authorFlagged && conn.Identity().UserID != ann.UserID {
			continue
		}
		if !s.permissions.Permits(conn.Identity(), ann) {
			continue
		}
		recipients = append(recipients, conn)
	}
	if len(recipients) == 0 {
		return nil
	}

	// Presentation is the expensive step; it runs once per event, after
	// the recipient set is known to be non-empty, and the one payload is
	// shared by every recipient.
	var payload map[string]any
	if ev.Action == ActionDelete {
		payload = map[string]any{"id": ann.ID}
	} else {
		payload, err = s.presenter.Present(ann, Identity{})
		if err != nil {
			return errors.Wrap(err, "streamer", "handleAnnotationEvent", "present annotation")
		}
	}

	notification := map[string]any{
		"type":    "annotation-notification",
		"options": map[string]any{"action": ev.Action},
		"payload": []any{payload},
	}

	for _, conn := range recipients {
		if err := conn.Send(notification); err != nil {
			s.logger.Debug("notification delivery failed",
				"connection_id", conn.ID(), "error", err)
			continue
		}
		s.metrics.sentNotification()
	}
	return nil
}

// handleUserEvent pushes a session-change to every connection owned by
// the affected user. No filter or authorization gate applies; a user
// always sees their own session state.
func (s *Streamer) handleUserEvent(ev *UserEvent) error {
	notification := map[string]any{
		"type":   "session-change",
		"action": ev.Type,
		"model":  ev.SessionModel,
	}

	for _, conn := range s.registry.Snapshot() {
		identity := conn.Identity()
		if !identity.Authenticated() || identity.UserID != ev.UserID {
			continue
		}
		if err := conn.Send(notification); err != nil {
			s.logger.Debug("session change delivery failed",
				"connection_id", conn.ID(), "error", err)
			continue
		}
		s.metrics.sentNotification()
	}
	return nil
}
