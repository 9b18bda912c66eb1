package service

import (
	"context"
	"fmt"

	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/internal/pkg/mailer"
	"annotation-collab-be/pkg/events"
	pktNats "annotation-collab-be/pkg/nats"
)

// AlertConsumer mails operators when persistence alert events arrive.
type AlertConsumer struct {
	subscriber *pktNats.Subscriber
	mailer     mailer.IEmailService
	to         string
	logger     logger.ILogger
}

func NewAlertConsumer(subscriber *pktNats.Subscriber, mailer mailer.IEmailService, to string, log logger.ILogger) *AlertConsumer {
	return &AlertConsumer{subscriber: subscriber, mailer: mailer, to: to, logger: log}
}

func (c *AlertConsumer) Start(ctx context.Context) error {
	if err := c.subscriber.Subscribe(ctx, events.PersistenceAlert, "alert-mailer", c.handle); err != nil {
		return err
	}
	return c.subscriber.Subscribe(ctx, events.PersistenceRecovered, "alert-mailer-recovered", c.handle)
}

func (c *AlertConsumer) handle(_ context.Context, evt events.Event) error {
	data := evt.Payload()
	documentID, _ := data["document_id"].(string)
	lastError, _ := data["last_error"].(string)
	// JSON numbers decode as float64.
	failures, _ := data["failures"].(float64)

	if documentID == "" {
		c.logger.Warn("AlertConsumer", "Alert without document id", map[string]interface{}{"type": evt.EventType()})
		return nil
	}
	if err := c.mailer.SendPersistenceAlert(c.to, documentID, int(failures), lastError, evt.EventType() == events.PersistenceRecovered); err != nil {
		return fmt.Errorf("mail alert for %s: %w", documentID, err)
	}
	return nil
}
