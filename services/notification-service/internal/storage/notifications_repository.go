package storage

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/libs/outbox"
)

type Notification struct {
	NotificationID string
	RecipientID    string
	Channel        string
	Recipient      string
	Title          string
	Payload        map[string]string
	Status         string
	ProviderID     string
	Error          string
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// Save persists the delivery rows and their outcome events atomically.
func (r *Repository) Save(ctx context.Context, ns []Notification, events []outbox.Event) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		for _, n := range ns {
			if err := insert(ctx, tx, n); err != nil {
				return err
			}
		}
		for _, evt := range events {
			if err := r.outbox.EmitTx(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func insert(ctx context.Context, tx pgx.Tx, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO notifications (notification_id, recipient_id, channel, recipient, title, payload, status, provider_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.NotificationID, n.RecipientID, n.Channel, n.Recipient, n.Title, payload, n.Status, n.ProviderID, n.Error)
	return err
}
