package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"alertdesk/internal/config"
	"alertdesk/internal/model"
)

// MQTTListener delivers simulated email notifications published on a topic
// into the notification store.
type MQTTListener struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	sink     Sink
	observer Observer
	logger   *slog.Logger
}

func NewMQTTListener(cfg config.MQTTConfig, sink Sink, observer Observer, logger *slog.Logger) *MQTTListener {
	l := &MQTTListener{cfg: cfg, sink: sink, observer: observer, logger: logger}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "alertdesk-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	// Subscriptions are not kept across a clean-session reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(cfg.Topic, cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			l.handle(msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil && logger != nil {
			logger.Error("mqtt subscribe failed", "topic", cfg.Topic, "err", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})
	l.client = mqtt.NewClient(opts)
	return l
}

// StartMQTT connects in the background, retrying with backoff until ctx ends.
func StartMQTT(ctx context.Context, cfg config.MQTTConfig, sink Sink, observer Observer, logger *slog.Logger) *MQTTListener {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("mqtt side channel disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("mqtt side channel enabled", "broker", cfg.Broker, "topic", cfg.Topic)
	}
	l := NewMQTTListener(cfg, sink, observer, logger)
	go func() {
		delay := time.Second
		for {
			if err := l.connect(); err == nil {
				break
			} else if logger != nil {
				logger.Warn("mqtt connect failed", "err", err, "retry_in", delay)
			}
			if !BackoffSleep(ctx, delay) {
				return
			}
			delay = min(delay*2, 30*time.Second)
		}
		<-ctx.Done()
		l.Close()
	}()
	return l
}

func (l *MQTTListener) connect() error {
	token := l.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("connect to %s: timed out", l.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", l.cfg.Broker, err)
	}
	return nil
}

func (l *MQTTListener) handle(topic string, payload []byte) int {
	items, failed, err := decodeNotifications(payload, model.SourceEmail)
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("mqtt payload rejected", "topic", topic, "err", err)
		}
		return 0
	}
	accepted := 0
	for _, n := range items {
		if _, ok := l.sink.AddEmail(n); ok {
			accepted++
		}
	}
	if failed > 0 && l.logger != nil {
		l.logger.Warn("mqtt entries rejected", "topic", topic, "failed", failed)
	}
	if accepted > 0 && l.observer != nil {
		l.observer.SideChannelAccepted("mqtt", accepted)
	}
	return accepted
}

func (l *MQTTListener) Connected() bool {
	return l != nil && l.client.IsConnected()
}

func (l *MQTTListener) Close() {
	if l != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
}
