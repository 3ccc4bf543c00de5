package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"alertdesk/internal/config"
	"alertdesk/internal/model"
)

// Kafka carries the same JSON envelopes over topics. Each session reads the
// inbound topic in its own consumer group so every client sees every event.
type Kafka struct {
	cfg config.KafkaConfig
}

func NewKafka(cfg config.KafkaConfig) *Kafka {
	return &Kafka{cfg: cfg}
}

func (k *Kafka) groupID(s model.Session) string {
	prefix := strings.TrimSpace(k.cfg.GroupPrefix)
	if prefix == "" {
		prefix = "alertdesk"
	}
	return prefix + "-" + s.UserID
}

func (k *Kafka) Dial(ctx context.Context, s model.Session) (Conn, error) {
	if len(k.cfg.Brokers) == 0 {
		return nil, errors.New("kafka transport needs brokers")
	}
	probe, err := kafka.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return nil, err
	}
	probe.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.cfg.Brokers,
		Topic:    k.cfg.InboundTopic,
		GroupID:  k.groupID(s),
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	var writer *kafka.Writer
	if k.cfg.OutboundTopic != "" {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(k.cfg.Brokers...),
			Topic:        k.cfg.OutboundTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &kafkaConn{reader: reader, writer: writer, key: []byte(s.UserID)}, nil
}

type kafkaConn struct {
	reader *kafka.Reader
	writer *kafka.Writer
	key    []byte
}

func (c *kafkaConn) Read(ctx context.Context) (model.Envelope, error) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return model.Envelope{}, err
		}
		env, ok := decodeMessage(m)
		if !ok {
			continue
		}
		return env, nil
	}
}

// decodeMessage accepts a JSON envelope value, or a raw payload with the
// event name in the "event" header.
func decodeMessage(m kafka.Message) (model.Envelope, bool) {
	at := m.Time
	if at.IsZero() {
		at = time.Now()
	}
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err == nil && env.Event != "" {
		env.ReceivedAt = at.UTC()
		return env, true
	}
	for _, h := range m.Headers {
		if h.Key == "event" && len(h.Value) > 0 {
			return model.Envelope{Event: string(h.Value), Data: m.Value, ReceivedAt: at.UTC()}, true
		}
	}
	return model.Envelope{}, false
}

func (c *kafkaConn) Write(ctx context.Context, event string, payload any) error {
	if c.writer == nil {
		return errors.New("kafka outbound topic not configured")
	}
	data, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:     c.key,
		Value:   data,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
	})
}

func (c *kafkaConn) Close() error {
	err := c.reader.Close()
	if c.writer != nil {
		err = errors.Join(err, c.writer.Close())
	}
	return err
}
