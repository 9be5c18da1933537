// Package streamer implements the realtime annotation fan-out core: bus
// consumers feed a bounded work queue, a single dispatcher goroutine
// drains it, and annotation/user events are matched against each live
// connection's filter before delivery.
package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hypothesis/h-sub005/errors"
	"github.com/hypothesis/h-sub005/metric"
	"github.com/hypothesis/h-sub005/natsclient"
)

// Annotation is the storage-layer view of one annotation, as consumed by
// the event handlers and the presentation collaborator.
type Annotation struct {
	ID         string
	UserID     string
	GroupID    string
	TargetURI  string
	Text       string
	Tags       []string
	References []string
	Shared     bool
	Deleted    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Tx is one read-only transactional scope, opened per dispatched message
// and always released before the next message is handled.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxFactory opens per-message transactions.
type TxFactory interface {
	Begin(ctx context.Context) (Tx, error)
}

// AnnotationStore fetches annotations and expands a URI into its set of
// document-equivalent URIs.
type AnnotationStore interface {
	Fetch(ctx context.Context, tx Tx, id string) (*Annotation, error)
	ExpandURIs(ctx context.Context, tx Tx, target string) ([]string, error)
}

// FlagStore reports whether a user's content is shadow-hidden.
type FlagStore interface {
	Flagged(ctx context.Context, tx Tx, userID string) (bool, error)
}

// PermissionChecker authorizes a viewer to receive realtime updates for
// an annotation.
type PermissionChecker interface {
	Permits(identity Identity, ann *Annotation) bool
}

// Presenter renders an annotation into its client-facing JSON document.
type Presenter interface {
	Present(ann *Annotation, viewer Identity) (map[string]any, error)
}

// Options configures a Streamer. NATS, TxFactory, Annotations, Flags,
// Permissions and Presenter are required.
type Options struct {
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry

	NATS            *natsclient.Client
	Stream          string
	AnnotationTopic string
	UserTopic       string

	QueueCapacity  int
	EnqueueTimeout time.Duration
	SampleInterval time.Duration

	TxFactory   TxFactory
	Annotations AnnotationStore
	Flags       FlagStore
	Permissions PermissionChecker
	Presenter   Presenter

	Registry *Registry
}

// Streamer owns the work queue, the connection registry and the
// dispatcher loop. One instance per worker process.
type Streamer struct {
	logger  *slog.Logger
	metrics *streamerMetrics

	nats            *natsclient.Client
	stream          string
	annotationTopic string
	userTopic       string

	queue          *WorkQueue
	registry       *Registry
	sampleInterval time.Duration

	txf         TxFactory
	annotations AnnotationStore
	flags       FlagStore
	permissions PermissionChecker
	presenter   Presenter
}

// New validates opts and constructs a Streamer.
func New(opts Options) (*Streamer, error) {
	if opts.NATS == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: NATS client", errors.ErrMissingConfig),
			"streamer", "New", "validate options")
	}
	if opts.TxFactory == nil || opts.Annotations == nil || opts.Flags == nil ||
		opts.Permissions == nil || opts.Presenter == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: storage and authorization collaborators", errors.ErrMissingConfig),
			"streamer", "New", "validate options")
	}
	if opts.Stream == "" || opts.AnnotationTopic == "" || opts.UserTopic == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: stream and topics", errors.ErrMissingConfig),
			"streamer", "New", "validate options")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 4096
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 250 * time.Millisecond
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 10 * time.Second
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Streamer{
		logger:          logger.With("component", "streamer"),
		metrics:         newStreamerMetrics(opts.Metrics),
		nats:            opts.NATS,
		stream:          opts.Stream,
		annotationTopic: opts.AnnotationTopic,
		userTopic:       opts.UserTopic,
		queue:           NewWorkQueue(opts.QueueCapacity, opts.EnqueueTimeout),
		registry:        registry,
		sampleInterval:  opts.SampleInterval,
		txf:             opts.TxFactory,
		annotations:     opts.Annotations,
		flags:           opts.Flags,
		permissions:     opts.Permissions,
		presenter:       opts.Presenter,
	}, nil
}

// Registry returns the live connection registry for the transport layer.
func (s *Streamer) Registry() *Registry {
	return s.registry
}

// QueueDepth returns the current work queue depth.
func (s *Streamer) QueueDepth() int {
	return s.queue.Len()
}

// EnqueueClientMessage places one client control message on the work
// queue. Called from transport read loops; on overflow the message is
// dropped with a warning rather than blocking the socket read.
func (s *Streamer) EnqueueClientMessage(conn *Connection, raw []byte) error {
	err := s.queue.Put(&ClientMessage{Conn: conn, Raw: raw})
	if err != nil {
		s.logger.Warn("work queue full, dropping client message",
			"connection_id", conn.ID())
		s.metrics.droppedMessage("client")
		return errors.Wrap(err, "streamer", "EnqueueClientMessage", "enqueue message")
	}
	s.metrics.receivedMessage("client")
	return nil
}

// Run starts the bus consumers, the dispatcher and the metrics sampler
// and blocks until ctx is cancelled or any of them fails. A consumer or
// dispatcher exiting is fatal: the error propagates so the process
// terminates rather than running with silent data loss.
func (s *Streamer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.runConsumer(ctx, s.annotationTopic, func(data []byte) (Message, error) {
			return ParseAnnotationEvent(data)
		})
	})
	g.Go(func() error {
		return s.runConsumer(ctx, s.userTopic, func(data []byte) (Message, error) {
			return ParseUserEvent(data)
		})
	})
	g.Go(func() error {
		return s.Dispatch(ctx)
	})
	g.Go(func() error {
		return s.sampleLoop(ctx)
	})

	return g.Wait()
}
