package stream

import (
	"CheatDetServer/annotate"
	"CheatDetServer/decision"
	iface "CheatDetServer/interface"
	"CheatDetServer/mock"
	"CheatDetServer/pipeline"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

type memStore struct {
	mu     sync.Mutex
	frames map[string]*Frame
}

func (m *memStore) ReadFrame(ctx context.Context, id string) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, id)
	}
	cp := *f
	cp.Payload = append([]byte(nil), f.Payload...)
	return &cp, nil
}

func (m *memStore) Close() error { return nil }

func blackFrame(id string, seq int32) *Frame {
	const rows, cols = 480, 640
	return &Frame{
		FrameMeta: FrameMeta{
			JobID:     "job-1",
			ID:        id,
			Sequence:  seq,
			Rows:      rows,
			Cols:      cols,
			FrameType: int32(gocv.MatTypeCV8UC3),
		},
		Payload: make([]byte, rows*cols*3),
	}
}

func metaMessage(t *testing.T, f *Frame) *sarama.ConsumerMessage {
	b, err := json.Marshal(f.FrameMeta)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "inference", Value: b}
}

func newTestPipeline(t *testing.T, persons []iface.Person) *pipeline.Pipeline {
	det := &mock.Detector{Persons: persons}
	cls := &mock.Classifier{Rows: [][iface.NumClasses]float32{{0.99999, 0.00001, 0}}}
	return pipeline.New(det, cls, decision.NewRule(), annotate.DefaultStyle(), zaptest.NewLogger(t))
}

func TestHandleFrame(t *testing.T) {
	t.Run("publishes verdict", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var v Verdict
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			if v.ID != "f1" || v.JobID != "job-1" || v.Sequence != 7 || !v.CheatingDetected || len(v.Persons) != 1 {
				return fmt.Errorf("unexpected verdict %s", val)
			}
			return nil
		})
		defer func() { require.NoError(t, producer.Close()) }()

		w := NewWorker(newTestPipeline(t, []iface.Person{mock.Person(20, 20)}), &memStore{}, nil, producer, "verdict", 1, zaptest.NewLogger(t))
		published, err := w.HandleFrame(blackFrame("f1", 7))
		require.NoError(t, err)
		assert.True(t, published)
	})

	t.Run("no persons is not published", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		defer func() { require.NoError(t, producer.Close()) }()

		w := NewWorker(newTestPipeline(t, nil), &memStore{}, nil, producer, "verdict", 1, zaptest.NewLogger(t))
		published, err := w.HandleFrame(blackFrame("f2", 1))
		require.NoError(t, err)
		assert.False(t, published)
	})

	t.Run("producer failure", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		defer func() { require.NoError(t, producer.Close()) }()

		w := NewWorker(newTestPipeline(t, []iface.Person{mock.Person(20, 20)}), &memStore{}, nil, producer, "verdict", 1, zaptest.NewLogger(t))
		_, err := w.HandleFrame(blackFrame("f3", 1))
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	})
}

func TestCheckFrame(t *testing.T) {
	assert.NoError(t, checkFrame(blackFrame("ok", 0)))
	assert.ErrorIs(t, checkFrame(nil), ErrBadFrame)

	short := blackFrame("short", 0)
	short.Payload = short.Payload[:10]
	assert.ErrorIs(t, checkFrame(short), ErrBadFrame)

	float := blackFrame("float", 0)
	float.FrameType = int32(gocv.MatTypeCV32F)
	assert.ErrorIs(t, checkFrame(float), ErrBadFrame)

	zero := blackFrame("zero", 0)
	zero.Rows = 0
	assert.ErrorIs(t, checkFrame(zero), ErrBadFrame)
}

func TestRun(t *testing.T) {
	store := &memStore{frames: map[string]*Frame{
		"a": blackFrame("a", 1),
		"b": blackFrame("b", 2),
	}}

	consumer := mocks.NewConsumer(t, nil)
	pcMock := consumer.ExpectConsumePartition("inference", 0, sarama.OffsetOldest)
	pcMock.YieldMessage(metaMessage(t, store.frames["a"]))
	pcMock.YieldMessage(&sarama.ConsumerMessage{Topic: "inference", Value: []byte("{not json")})
	pcMock.YieldMessage(metaMessage(t, blackFrame("missing", 3)))
	pcMock.YieldMessage(metaMessage(t, store.frames["b"]))

	partConsumer, err := consumer.ConsumePartition("inference", 0, sarama.OffsetOldest)
	require.NoError(t, err)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	w := NewWorker(newTestPipeline(t, []iface.Person{mock.Person(20, 20)}), store, partConsumer, producer, "verdict", 2, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s := w.Stats()
		return s.Published == 2 && s.Dropped == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, Stats{Processed: 2, Published: 2, Dropped: 2}, w.Stats())
	require.NoError(t, producer.Close())
	require.NoError(t, partConsumer.Close())
	require.NoError(t, consumer.Close())
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
