// Package stream consumes frame references from Kafka, loads the frames from
// Redis, runs them through the pipeline and publishes verdicts.
package stream

import (
	"CheatDetServer/config"
	"CheatDetServer/pipeline"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var ErrBadFrame = errors.New("bad frame")

func ConnectProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 2

	return sarama.NewSyncProducer(brokers, cfg)
}

// Connect opens the consumer on partition 0 of the frames topic and the
// verdict producer.
func Connect(cfg config.Stream) (sarama.Consumer, sarama.PartitionConsumer, sarama.SyncProducer, error) {
	consumer, err := sarama.NewConsumer(cfg.Brokers, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create consumer: %w", err)
	}
	partConsumer, err := consumer.ConsumePartition(cfg.FramesTopic, 0, sarama.OffsetOldest)
	if err != nil {
		_ = consumer.Close()
		return nil, nil, nil, fmt.Errorf("consume partition: %w", err)
	}
	producer, err := ConnectProducer(cfg.Brokers)
	if err != nil {
		_ = partConsumer.Close()
		_ = consumer.Close()
		return nil, nil, nil, fmt.Errorf("create producer: %w", err)
	}
	return consumer, partConsumer, producer, nil
}

type Stats struct {
	Processed int64
	Published int64
	Dropped   int64
}

type Worker struct {
	pipeline     *pipeline.Pipeline
	store        FrameStore
	partConsumer sarama.PartitionConsumer
	producer     sarama.SyncProducer
	verdictTopic string
	workersCount int
	logger       *zap.Logger

	processed atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
}

func NewWorker(p *pipeline.Pipeline, store FrameStore, partConsumer sarama.PartitionConsumer, producer sarama.SyncProducer, verdictTopic string, workers int, logger *zap.Logger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		pipeline:     p,
		store:        store,
		partConsumer: partConsumer,
		producer:     producer,
		verdictTopic: verdictTopic,
		workersCount: workers,
		logger:       logger.Named("stream"),
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Published: w.published.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// Run reads messages until ctx is done or the partition consumer closes.
func (w *Worker) Run(ctx context.Context) {
	ch := make(chan *Frame)
	var wg sync.WaitGroup
	for i := 0; i < w.workersCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range ch {
				w.handleFrame(frame)
			}
		}()
	}
	w.logger.Info("started stream worker", zap.Int("workers", w.workersCount))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-w.partConsumer.Messages():
			if !ok {
				break loop
			}
			frame, err := w.loadFrame(ctx, msg.Value)
			if err != nil {
				w.dropped.Add(1)
				w.logger.Warn("drop message", zap.Int64("offset", msg.Offset), zap.Error(err))
				continue
			}
			select {
			case ch <- frame:
			case <-ctx.Done():
				break loop
			}
		}
	}

	close(ch)
	wg.Wait()
}

func (w *Worker) loadFrame(ctx context.Context, value []byte) (*Frame, error) {
	meta := new(FrameMeta)
	if err := json.Unmarshal(value, meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if meta.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrBadFrame)
	}
	frame, err := w.store.ReadFrame(ctx, meta.ID)
	if err != nil {
		return nil, fmt.Errorf("read frame from redis: %w", err)
	}
	return frame, nil
}

func (w *Worker) handleFrame(frame *Frame) {
	defer func() {
		if r := recover(); r != nil {
			w.dropped.Add(1)
			w.logger.Error("frame panic", zap.String("id", frame.ID), zap.Any("panic", r))
		}
	}()
	published, err := w.HandleFrame(frame)
	if err != nil {
		w.dropped.Add(1)
		w.logger.Error("handle frame", zap.String("id", frame.ID), zap.Error(err))
		return
	}
	w.processed.Add(1)
	if published {
		w.published.Add(1)
	}
}

// HandleFrame runs one frame and publishes its verdict. Frames without any
// classified person are not published.
func (w *Worker) HandleFrame(frame *Frame) (bool, error) {
	if err := checkFrame(frame); err != nil {
		return false, err
	}
	img, err := gocv.NewMatFromBytes(int(frame.Rows), int(frame.Cols), gocv.MatType(frame.FrameType), frame.Payload)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	defer img.Close()
	if img.Empty() {
		return false, fmt.Errorf("%w: empty image", ErrBadFrame)
	}

	res := w.pipeline.Process(&img)
	if len(res.Verdicts) == 0 {
		return false, nil
	}

	persons, _ := res.Summary()["persons"].([]any)
	b, err := json.Marshal(Verdict{
		ID:               frame.ID,
		JobID:            frame.JobID,
		Sequence:         frame.Sequence,
		CheatingDetected: res.CheatingDetected,
		Persons:          persons,
	})
	if err != nil {
		return false, fmt.Errorf("marshal verdict: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: w.verdictTopic,
		Key:   sarama.StringEncoder(frame.JobID),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err = w.producer.SendMessage(msg); err != nil {
		return false, fmt.Errorf("send verdict: %w", err)
	}
	return true, nil
}

func checkFrame(frame *Frame) error {
	if frame == nil {
		return fmt.Errorf("%w: nil frame", ErrBadFrame)
	}
	if frame.Rows <= 0 || frame.Cols <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrBadFrame, frame.Cols, frame.Rows)
	}
	var channels int
	switch gocv.MatType(frame.FrameType) {
	case gocv.MatTypeCV8UC1:
		channels = 1
	case gocv.MatTypeCV8UC3:
		channels = 3
	case gocv.MatTypeCV8UC4:
		channels = 4
	default:
		return fmt.Errorf("%w: unsupported frame type %d", ErrBadFrame, frame.FrameType)
	}
	if want := int(frame.Rows) * int(frame.Cols) * channels; len(frame.Payload) != want {
		return fmt.Errorf("%w: payload is %d bytes, want %d", ErrBadFrame, len(frame.Payload), want)
	}
	return nil
}
