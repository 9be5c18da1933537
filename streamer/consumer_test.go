package streamer

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypothesis/h-sub005/errors"
)

type fakeBusMsg struct {
	jetstream.Msg
	data []byte
	acks int
}

func (m *fakeBusMsg) Data() []byte { return m.data }
func (m *fakeBusMsg) Ack() error   { m.acks++; return nil }

// fakeIterator yields its messages in order, optionally blocks until
// Stop, then returns err from Next.
type fakeIterator struct {
	mu    sync.Mutex
	msgs  []*fakeBusMsg
	err   error
	block chan struct{}
	stop  sync.Once
}

func (it *fakeIterator) Next() (jetstream.Msg, error) {
	it.mu.Lock()
	if len(it.msgs) > 0 {
		msg := it.msgs[0]
		it.msgs = it.msgs[1:]
		it.mu.Unlock()
		return msg, nil
	}
	it.mu.Unlock()

	if it.block != nil {
		<-it.block
	}
	return nil, it.err
}

func (it *fakeIterator) Stop() {
	it.stop.Do(func() {
		if it.block != nil {
			close(it.block)
		}
	})
}

func parseAnnotation(data []byte) (Message, error) {
	return ParseAnnotationEvent(data)
}

func (f *streamerFixture) consume(t *testing.T, ctx context.Context, iter *fakeIterator) error {
	t.Helper()
	return f.streamer.consumeLoop(ctx, f.streamer.logger, "realtime.annotation", iter, parseAnnotation)
}

func TestConsumeLoopAcksUndecodableMessages(t *testing.T) {
	f := newStreamerFixture(t, nil)

	bad := &fakeBusMsg{data: []byte(`{"action":"explode"}`)}
	good := &fakeBusMsg{data: []byte(`{"action":"create","annotation_id":"a1"}`)}
	iter := &fakeIterator{
		msgs: []*fakeBusMsg{bad, good},
		err:  stderrors.New("consumer deleted"),
	}

	err := f.consume(t, t.Context(), iter)
	require.Error(t, err)

	// The undecodable message is acked and skipped; the decodable one
	// behind it still reaches the queue.
	assert.Equal(t, 1, bad.acks)
	assert.Equal(t, 1, good.acks)
	assert.Equal(t, 1, f.streamer.queue.Len())
}

func TestConsumeLoopDropsAndAcksOnOverflow(t *testing.T) {
	f := newStreamerFixture(t, nil)

	s, err := New(Options{
		NATS:            f.streamer.nats,
		Stream:          "realtime",
		AnnotationTopic: "realtime.annotation",
		UserTopic:       "realtime.user",
		QueueCapacity:   1,
		EnqueueTimeout:  5 * time.Millisecond,
		TxFactory:       f.txf,
		Annotations:     f.store,
		Flags:           f.flags,
		Permissions:     permitAll,
		Presenter:       f.presenter,
	})
	require.NoError(t, err)

	first := &fakeBusMsg{data: []byte(`{"action":"create","annotation_id":"a1"}`)}
	second := &fakeBusMsg{data: []byte(`{"action":"update","annotation_id":"a2"}`)}
	iter := &fakeIterator{
		msgs: []*fakeBusMsg{first, second},
		err:  stderrors.New("consumer deleted"),
	}

	err = s.consumeLoop(t.Context(), s.logger, "realtime.annotation", iter, parseAnnotation)
	require.Error(t, err)

	// The overflowing message is dropped but still acked; redelivery
	// would only overflow again.
	assert.Equal(t, 1, s.queue.Len())
	assert.Equal(t, 1, first.acks)
	assert.Equal(t, 1, second.acks)
}

func TestConsumeLoopDeadReadLoopIsFatal(t *testing.T) {
	f := newStreamerFixture(t, nil)

	iter := &fakeIterator{err: stderrors.New("consumer deleted")}

	err := f.consume(t, t.Context(), iter)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSubscriptionClosed)
	assert.True(t, errors.IsFatal(err))
}

func TestConsumeLoopStopsOnCancel(t *testing.T) {
	f := newStreamerFixture(t, nil)

	iter := &fakeIterator{
		err:   stderrors.New("iterator stopped"),
		block: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- f.consume(t, ctx, iter)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consume loop did not stop on cancellation")
	}
}

func TestConsumerNameIsUniquePerInstance(t *testing.T) {
	a := consumerName("realtime.annotation")
	b := consumerName("realtime.annotation")

	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "streamer-realtime-annotation-")
	assert.NotContains(t, a, ".")
}
