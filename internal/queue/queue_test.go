package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func TestTransitionMessageValidate(t *testing.T) {
	t.Parallel()

	base := TransitionMessage{Kind: KindScheduleEntry, EntityID: "e1", To: "SENT"}

	tests := []struct {
		name    string
		mutate  func(*TransitionMessage)
		wantErr bool
	}{
		{name: "valid", mutate: func(m *TransitionMessage) {}},
		{name: "unknown kind", mutate: func(m *TransitionMessage) { m.Kind = "invoice" }, wantErr: true},
		{name: "missing entity", mutate: func(m *TransitionMessage) { m.EntityID = " " }, wantErr: true},
		{name: "missing target", mutate: func(m *TransitionMessage) { m.To = "" }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := base
			tt.mutate(&msg)
			err := msg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestTransitionRoutingKeyAndDLQ(t *testing.T) {
	t.Parallel()

	msg := TransitionMessage{Kind: KindScheduleEntry, To: "DELIVERED"}
	if got := msg.RoutingKey(); got != "schedule_entry.delivered" {
		t.Fatalf("RoutingKey() = %q", got)
	}
	if got := DLQName(DefaultAbandonmentQueue); got != "dlq.attendance.abandoned" {
		t.Fatalf("DLQName() = %q", got)
	}
}

func TestAbandonmentMessageValidate(t *testing.T) {
	t.Parallel()

	msg := AbandonmentMessage{RecipientID: "r1", Email: "ada@example.com", Stage: "cart-abandoned", TotalValue: 150}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	bad := msg
	bad.Stage = "wishlist"
	if err := bad.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	bad = msg
	bad.Email = ""
	if err := bad.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Validate() without contact error = %v, want ErrValidation", err)
	}
}

func TestSplitBrokers(t *testing.T) {
	t.Parallel()

	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("SplitBrokers() = %v", got)
	}
}

func TestNextBackoffCaps(t *testing.T) {
	t.Parallel()

	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Fatalf("nextBackoff(20s) = %s, want %s", got, maxBackoff)
	}
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByEntity(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	p := &KafkaPublisher{writer: writer}

	at := time.Unix(1_700_000_000, 0).UTC()
	msg := TransitionMessage{Kind: KindScheduleEntry, EntityID: "entry-1", From: "SCHEDULED", To: "SENT", OccurredAt: at}
	if err := p.PublishTransition(context.Background(), msg); err != nil {
		t.Fatalf("PublishTransition() error = %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("written = %d, want 1", len(writer.messages))
	}
	got := writer.messages[0]
	if string(got.Key) != "entry-1" {
		t.Fatalf("Key = %q, want entry-1", got.Key)
	}
	var decoded TransitionMessage
	if err := json.Unmarshal(got.Value, &decoded); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if decoded.To != "SENT" || !decoded.OccurredAt.Equal(at) {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestKafkaPublisherRejectsInvalidAndWrapsWriterErrors(t *testing.T) {
	t.Parallel()

	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	if err := p.PublishTransition(context.Background(), TransitionMessage{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid message error = %v, want ErrValidation", err)
	}

	err := p.PublishTransition(context.Background(), TransitionMessage{Kind: KindEvent, EntityID: "ev", To: "ACTIVE"})
	if err == nil {
		t.Fatal("expected writer error")
	}
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(nil, "t"); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"b:9092"}, " "); err == nil {
		t.Fatal("expected error without topic")
	}
}

type fakeAcknowledger struct {
	acked    int
	rejected int
	nacked   int
	requeue  bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error { a.acked++; return nil }

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { a.rejected++; return nil }

func TestRabbitMQConsumerHandleDelivery(t *testing.T) {
	t.Parallel()

	valid, _ := json.Marshal(AbandonmentMessage{RecipientID: "r1", Phone: "+1555", Stage: "PAYMENT_FAILED", TotalValue: 80})

	tests := []struct {
		name       string
		body       []byte
		handlerErr error
		check      func(t *testing.T, ack *fakeAcknowledger, called bool)
	}{
		{
			name: "valid message is acked",
			body: valid,
			check: func(t *testing.T, ack *fakeAcknowledger, called bool) {
				if !called || ack.acked != 1 {
					t.Fatalf("called=%v acked=%d, want handler call and ack", called, ack.acked)
				}
			},
		},
		{
			name: "invalid json is dead-lettered",
			body: []byte("{"),
			check: func(t *testing.T, ack *fakeAcknowledger, called bool) {
				if called || ack.rejected != 1 {
					t.Fatalf("called=%v rejected=%d", called, ack.rejected)
				}
			},
		},
		{
			name: "invalid stage is dead-lettered",
			body: []byte(`{"recipientId":"r1","email":"a@b.c","stage":"browsing"}`),
			check: func(t *testing.T, ack *fakeAcknowledger, called bool) {
				if called || ack.rejected != 1 {
					t.Fatalf("called=%v rejected=%d", called, ack.rejected)
				}
			},
		},
		{
			name:       "handler failure is requeued",
			body:       valid,
			handlerErr: errors.New("store unavailable"),
			check: func(t *testing.T, ack *fakeAcknowledger, called bool) {
				if !called || ack.nacked != 1 || !ack.requeue {
					t.Fatalf("called=%v nacked=%d requeue=%v", called, ack.nacked, ack.requeue)
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			consumer := NewRabbitMQConsumer(nil, 1, zap.NewNop())
			ack := &fakeAcknowledger{}
			called := false
			err := consumer.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tt.body},
				func(_ context.Context, msg AbandonmentMessage) error {
					called = true
					return tt.handlerErr
				})
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}
			tt.check(t, ack, called)
		})
	}
}
