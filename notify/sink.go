package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tcriess/stride-chat/types"
)

// CommittedEvent is the record emitted for every committed message.
type CommittedEvent struct {
	Type      string     `json:"type"`
	RoomId    string     `json:"roomId"`
	MessageId string     `json:"messageId"`
	Seq       int64      `json:"seq"`
	AuthorId  string     `json:"authorId"`
	Kind      types.Kind `json:"kind"`
	CreatedAt time.Time  `json:"createdAt"`
}

const EventMessageCommitted = "message.committed"

func NewCommittedEvent(msg *types.Message) CommittedEvent {
	return CommittedEvent{
		Type:      EventMessageCommitted,
		RoomId:    msg.RoomId,
		MessageId: msg.Id,
		Seq:       msg.Seq,
		AuthorId:  msg.AuthorId,
		Kind:      msg.Kind,
		CreatedAt: msg.CreatedAt,
	}
}

// Sink receives committed events for consumers outside the chat core, like
// push notification or search indexing services.
type Sink interface {
	Publish(ctx context.Context, ev CommittedEvent) error
	Close() error
}

type NopSink struct{}

func (NopSink) Publish(context.Context, CommittedEvent) error { return nil }
func (NopSink) Close() error                                  { return nil }

// KafkaSink writes events keyed by room id, so one room's events stay in one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Publish(ctx context.Context, ev CommittedEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RoomId),
		Value: b,
		Time:  time.Now(),
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// MemorySink keeps events in memory; tests read them back.
type MemorySink struct {
	sync.Mutex
	Events []CommittedEvent
}

func (m *MemorySink) Publish(_ context.Context, ev CommittedEvent) error {
	m.Lock()
	defer m.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MemorySink) Close() error { return nil }

func (m *MemorySink) Seqs(roomId string) []int64 {
	m.Lock()
	defer m.Unlock()
	seqs := make([]int64, 0)
	for _, ev := range m.Events {
		if ev.RoomId == roomId {
			seqs = append(seqs, ev.Seq)
		}
	}
	return seqs
}
