package outbound

import (
	"context"
	"fmt"
	"time"

	"alertdesk/internal/dedup"
	"alertdesk/internal/model"
	"alertdesk/internal/sequencer"
)

// StreamSender is the live connection's outbound side.
type StreamSender interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Emitter sends client frames over the live stream. Identical frames in
// flight at the same time are sent once.
type Emitter struct {
	stream StreamSender
	group  *dedup.Group
}

func NewEmitter(stream StreamSender, group *dedup.Group) *Emitter {
	if group == nil {
		group = dedup.New(nil)
	}
	return &Emitter{stream: stream, group: group}
}

func (e *Emitter) emit(ctx context.Context, event string, payload any) error {
	_, _, err := e.group.Do(ctx, "EMIT", event, payload, func(ctx context.Context) (any, error) {
		return nil, e.stream.Emit(ctx, event, payload)
	})
	if err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (e *Emitter) LocationUpdate(ctx context.Context, loc Location) error {
	return e.emit(ctx, model.EmitLocationUpdate, map[string]any{"location": loc})
}

func (e *Emitter) StatusUpdate(ctx context.Context, status string) error {
	return e.emit(ctx, model.EmitStatusUpdate, map[string]any{"status": status})
}

func (e *Emitter) ReportIncident(ctx context.Context, inc model.Incident) error {
	return e.emit(ctx, model.EmitIncidentReport, inc)
}

func (e *Emitter) UpdateIncident(ctx context.Context, inc model.Incident) error {
	return e.emit(ctx, model.EmitIncidentUpdate, inc)
}

type Message struct {
	ID        string    `json:"id,omitempty"`
	Room      string    `json:"room,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Emitter) SendMessage(ctx context.Context, msg Message) error {
	return e.emit(ctx, model.EmitMessage, msg)
}

// AcknowledgeAlert sends alert-acknowledged for the sequencer.
func (e *Emitter) AcknowledgeAlert(ctx context.Context, ack sequencer.Ack) error {
	return e.emit(ctx, model.EmitAlertAcknowledge, ack)
}
