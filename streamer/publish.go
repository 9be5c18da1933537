package streamer

import (
	"context"
	"encoding/json"

	"github.com/hypothesis/h-sub005/errors"
	"github.com/hypothesis/h-sub005/natsclient"
)

// PublishAnnotationEvent emits one annotation lifecycle event onto the
// bus. Used by the write path and by integration tooling.
func PublishAnnotationEvent(ctx context.Context, client *natsclient.Client, topic string, ev *AnnotationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "streamer", "PublishAnnotationEvent", "encode event")
	}
	if err := client.PublishToStream(ctx, topic, data); err != nil {
		return errors.Wrap(err, "streamer", "PublishAnnotationEvent", "publish event")
	}
	return nil
}

// PublishUserEvent emits one user session change onto the bus.
func PublishUserEvent(ctx context.Context, client *natsclient.Client, topic string, ev *UserEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "streamer", "PublishUserEvent", "encode event")
	}
	if err := client.PublishToStream(ctx, topic, data); err != nil {
		return errors.Wrap(err, "streamer", "PublishUserEvent", "publish event")
	}
	return nil
}
