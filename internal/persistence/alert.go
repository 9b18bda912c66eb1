package persistence

import (
	"context"
	"errors"
	"time"

	"annotation-collab-be/pkg/events"
)

// Alert tells an operator that a document keeps failing to persist, or that
// it recovered.
type Alert struct {
	DocumentID string
	Failures   int
	LastError  string
	Recovered  bool
	At         time.Time
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// EventAlerter publishes alerts as PERSISTENCE_ALERT / PERSISTENCE_RECOVERED events.
type EventAlerter struct {
	publisher EventPublisher
}

func NewEventAlerter(publisher EventPublisher) *EventAlerter {
	return &EventAlerter{publisher: publisher}
}

func (a *EventAlerter) Alert(ctx context.Context, alert Alert) error {
	eventType := events.PersistenceAlert
	if alert.Recovered {
		eventType = events.PersistenceRecovered
	}
	return a.publisher.Publish(ctx, events.BaseEvent{
		Type: eventType,
		Data: map[string]interface{}{
			"document_id": alert.DocumentID,
			"failures":    alert.Failures,
			"last_error":  alert.LastError,
		},
		OccurredAt: alert.At,
	})
}

type AlertMailer interface {
	SendPersistenceAlert(toEmail, documentID string, failures int, lastError string, recovered bool) error
}

// MailAlerter mails alerts to a fixed operator address.
type MailAlerter struct {
	mailer AlertMailer
	to     string
}

func NewMailAlerter(mailer AlertMailer, to string) *MailAlerter {
	return &MailAlerter{mailer: mailer, to: to}
}

func (a *MailAlerter) Alert(_ context.Context, alert Alert) error {
	return a.mailer.SendPersistenceAlert(a.to, alert.DocumentID, alert.Failures, alert.LastError, alert.Recovered)
}

// MultiAlerter delivers to every alerter and joins their errors.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, a := range m {
		if err := a.Alert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
