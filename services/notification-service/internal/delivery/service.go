// Package delivery turns a notification request into email and push
// deliveries, one row and one outcome event per channel.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/contacts"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/push"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/storage"
)

const (
	ChannelEmail = "email"
	ChannelPush  = "push"
	ChannelNone  = "none"

	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Request is the payload of consult.notification.requested.v1.
type Request struct {
	NotificationID string            `json:"notification_id"`
	RecipientID    string            `json:"recipient_id"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

var ErrInvalidRequest = errors.New("invalid notification request")

func (r Request) Validate() error {
	if strings.TrimSpace(r.NotificationID) == "" || strings.TrimSpace(r.RecipientID) == "" {
		return fmt.Errorf("%w: notification_id and recipient_id are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidRequest)
	}
	return nil
}

type Contacts interface {
	Get(ctx context.Context, partyID string) (contacts.Contact, error)
}

type Store interface {
	Save(ctx context.Context, ns []storage.Notification, events []outbox.Event) error
}

type Service struct {
	contacts Contacts
	email    email.Sender
	push     push.Sender
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(c Contacts, e email.Sender, p push.Sender, store Store, logger *slog.Logger) *Service {
	return &Service{contacts: c, email: e, push: p, store: store, logger: logger, now: time.Now}
}

// Deliver sends req on every channel the recipient has configured. Channel
// failures are recorded, not returned; only lookup and storage errors are.
func (s *Service) Deliver(ctx context.Context, req Request) ([]storage.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contact, err := s.contacts.Get(ctx, req.RecipientID)
	if err != nil && !errors.Is(err, contacts.ErrNotFound) {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}

	var rows []storage.Notification
	if addr := strings.TrimSpace(contact.Email); addr != "" {
		rows = append(rows, s.sendEmail(req, addr))
	}
	if url := strings.TrimSpace(contact.PushURL); url != "" {
		rows = append(rows, s.sendPush(ctx, req, url))
	}
	if len(rows) == 0 {
		rows = append(rows, s.row(req, ChannelNone, "", "", errors.New("no contact channel for recipient")))
	}

	events := make([]outbox.Event, 0, len(rows))
	for _, n := range rows {
		evt, err := s.outcomeEvent(n)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := s.store.Save(ctx, rows, events); err != nil {
		return nil, fmt.Errorf("save notifications: %w", err)
	}

	for _, n := range rows {
		s.logger.Info("notification processed",
			"notification_id", n.NotificationID,
			"recipient_id", n.RecipientID,
			"channel", n.Channel,
			"status", n.Status,
		)
	}
	return rows, nil
}

func (s *Service) sendEmail(req Request, to string) storage.Notification {
	subject := req.Title
	if subject == "" {
		subject = "Consultation update"
	}
	err := s.email.Send(to, subject, req.Body)
	if err != nil {
		s.logger.Warn("email send failed", "notification_id", req.NotificationID, "err", err)
	}
	return s.row(req, ChannelEmail, to, s.email.ProviderID(), err)
}

func (s *Service) sendPush(ctx context.Context, req Request, url string) storage.Notification {
	err := s.push.Send(ctx, url, push.Message{Title: req.Title, Body: req.Body, Data: req.Metadata})
	if err != nil {
		s.logger.Warn("push send failed", "notification_id", req.NotificationID, "err", err)
	}
	return s.row(req, ChannelPush, url, s.push.ProviderID(), err)
}

func (s *Service) row(req Request, channel, recipient, providerID string, err error) storage.Notification {
	n := storage.Notification{
		NotificationID: req.NotificationID,
		RecipientID:    req.RecipientID,
		Channel:        channel,
		Recipient:      recipient,
		Title:          req.Title,
		Payload:        req.Metadata,
		Status:         StatusSent,
		ProviderID:     providerID,
	}
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	}
	return n
}

func (s *Service) outcomeEvent(n storage.Notification) (outbox.Event, error) {
	at := s.now().UTC().Format(time.RFC3339)
	body := map[string]any{
		"notification_id": n.NotificationID,
		"recipient_id":    n.RecipientID,
		"channel":         n.Channel,
	}
	eventType := outbox.TopicNotificationSent
	if n.Status == StatusFailed {
		eventType = outbox.TopicNotificationFailed
		body["error_reason"] = n.Error
		body["failed_at"] = at
	} else {
		body["provider_id"] = n.ProviderID
		body["sent_at"] = at
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "notification",
		AggregateID:   n.NotificationID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
