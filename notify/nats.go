/*
Package notify delivers approval events to NATS for the notification
dispatcher.

SUBJECTS:
  <prefix>.approval_advanced   a level opened; recipients are its deciders
  <prefix>.approval_finalized  the chain ended; recipient is the requester

  The prefix defaults to notifications.approval.

Publishing is fire-and-forget from the engine's point of view: the engine
logs a failed publish and carries on.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/directory"
)

const DefaultSubjectPrefix = "notifications.approval"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON published per event.
type Envelope struct {
	EventType    string            `json:"event_type"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Recipients   []string          `json:"recipients"`
	ActorID      string            `json:"actor_id,omitempty"`
	IsActionable bool              `json:"is_actionable"`
	Category     string            `json:"category"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Payload      map[string]string `json:"payload,omitempty"`
}

// Publisher implements approval.Publisher over NATS.
type Publisher struct {
	conn      Conn
	prefix    string
	employees directory.Employees
	log       zerolog.Logger
}

func NewPublisher(conn Conn, prefix string, employees directory.Employees, log zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, employees: employees, log: log}
}

// Publish sends ev. Events with nobody to tell are skipped.
func (p *Publisher) Publish(ctx context.Context, ev approval.Event) error {
	env, err := p.Envelope(ctx, ev)
	if err != nil {
		return err
	}
	if len(env.Recipients) == 0 {
		p.log.Debug().Str("event", ev.EventName()).Str("approvable", ev.Subject().String()).Msg("notification: no recipients")
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.EventName(), err)
	}
	subject := p.prefix + "." + ev.EventName()
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("approvable", ev.Subject().String()).
		Int("recipients", len(env.Recipients)).
		Msg("notification: event published")
	return nil
}

// Envelope builds the message for ev.
func (p *Publisher) Envelope(ctx context.Context, ev approval.Event) (Envelope, error) {
	ref := ev.Subject()
	env := Envelope{
		EventType:    ev.EventName(),
		ResourceType: string(ref.Kind),
		ResourceID:   ref.ID,
		Category:     "approval",
	}

	switch e := ev.(type) {
	case approval.ApprovalAdvanced:
		env.Recipients = e.Recipients
		env.IsActionable = true
		env.OccurredAt = e.At
		env.Payload = map[string]string{
			"level":    fmt.Sprint(e.NewLevel),
			"approver": e.Approver.String(),
		}

	case approval.ApprovalFinalized:
		env.ActorID = e.DecidedBy
		env.OccurredAt = e.At
		env.Payload = map[string]string{
			"outcome": string(e.Outcome),
			"level":   fmt.Sprint(e.Level),
		}
		if e.Auto {
			env.Payload["auto"] = "true"
		}
		if user, ok := p.requesterUser(ctx, e.RequesterID); ok {
			env.Recipients = []string{user}
		}

	default:
		return Envelope{}, fmt.Errorf("unsupported event %T", ev)
	}
	return env, nil
}

func (p *Publisher) requesterUser(ctx context.Context, employeeID string) (string, bool) {
	if p.employees == nil || employeeID == "" {
		return "", false
	}
	emp, err := p.employees.Employee(ctx, employeeID)
	if err != nil {
		p.log.Warn().Err(err).Str("employee_id", employeeID).Msg("notification: requester lookup failed")
		return "", false
	}
	return emp.UserID, emp.UserID != ""
}

// Connect dials NATS with reconnect handling logged through log.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("approval-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}

var (
	_ approval.Publisher = (*Publisher)(nil)
	_ Conn               = (*nats.Conn)(nil)
)
