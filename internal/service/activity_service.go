package service

import (
	"context"
	"encoding/json"

	"annotation-collab-be/internal/dto"
	"annotation-collab-be/internal/pkg/logger"
	internalWS "annotation-collab-be/internal/websocket"
	"annotation-collab-be/pkg/events"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const ActivityTopic = "annotation.activity"

type IActivityService interface {
	internalWS.ActivityPublisher
	Consume(ctx context.Context) error
}

// activityService decouples rooms from the event bus: rooms publish onto an
// in-process topic and a single consumer forwards to NATS.
type activityService struct {
	pubSub    *gochannel.GoChannel
	publisher EventPublisher
	logger    logger.ILogger
}

func NewActivityService(pubSub *gochannel.GoChannel, publisher EventPublisher, log logger.ILogger) IActivityService {
	return &activityService{
		pubSub:    pubSub,
		publisher: publisher,
		logger:    log,
	}
}

func highlightIDs(delta shareddoc.Delta) []string {
	var ids []string
	for _, op := range delta {
		switch o := op.(type) {
		case shareddoc.HighlightInsert:
			ids = append(ids, o.Highlight.ID)
		case shareddoc.HighlightDelete:
			ids = append(ids, o.ID)
		case shareddoc.TagSet:
			ids = append(ids, o.HighlightID)
		}
	}
	return ids
}

func (s *activityService) PublishActivity(_ context.Context, a internalWS.Activity) {
	payload, err := json.Marshal(dto.ActivityMessage{
		Kind:         string(a.Kind),
		DocumentID:   a.DocumentID,
		ClientID:     a.ClientID,
		UserID:       a.UserID,
		Seq:          a.Seq,
		Ops:          len(a.Delta),
		HighlightIDs: highlightIDs(a.Delta),
		At:           a.At,
	})
	if err != nil {
		return
	}
	if err := s.pubSub.Publish(ActivityTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		s.logger.Warn("ActivityService", "Failed to queue activity", map[string]interface{}{
			"document_id": a.DocumentID,
			"error":       err.Error(),
		})
	}
}

func (s *activityService) Consume(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, ActivityTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(ctx, msg)
		}
	}()
	return nil
}

var activityEventTypes = map[string]string{
	string(internalWS.ActivityUpdate): events.AnnotationUpdated,
	string(internalWS.ActivityJoined): events.ParticipantJoined,
	string(internalWS.ActivityLeft):   events.ParticipantLeft,
}

func (s *activityService) processMessage(ctx context.Context, msg *message.Message) {
	// Invalid or unroutable messages are acked; retrying cannot fix them.
	defer msg.Ack()

	var activity dto.ActivityMessage
	if err := json.Unmarshal(msg.Payload, &activity); err != nil {
		s.logger.Error("ActivityService", "Failed to unmarshal activity", map[string]interface{}{"error": err.Error()})
		return
	}
	eventType, ok := activityEventTypes[activity.Kind]
	if !ok || s.publisher == nil {
		return
	}

	evt := events.BaseEvent{
		Type: eventType,
		Data: map[string]interface{}{
			"document_id":   activity.DocumentID,
			"client_id":     activity.ClientID,
			"user_id":       activity.UserID,
			"seq":           activity.Seq,
			"ops":           activity.Ops,
			"highlight_ids": activity.HighlightIDs,
		},
		OccurredAt: activity.At,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("ActivityService", "Failed to publish activity event", map[string]interface{}{
			"type":        eventType,
			"document_id": activity.DocumentID,
			"error":       err.Error(),
		})
	}
}
