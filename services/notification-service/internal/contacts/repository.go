// Package contacts stores where each party wants to be reached.
package contacts

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/consultslot/libs/db"
)

var ErrNotFound = errors.New("contact not found")

type Contact struct {
	PartyID string `json:"party_id"`
	Email   string `json:"email,omitempty"`
	PushURL string `json:"push_url,omitempty"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, partyID string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT party_id, email, push_url
		FROM contacts
		WHERE party_id = $1
	`, partyID).Scan(&c.PartyID, &c.Email, &c.PushURL)
	if db.IsNoRows(err) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) Upsert(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contacts (party_id, email, push_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (party_id) DO UPDATE
		SET email = EXCLUDED.email, push_url = EXCLUDED.push_url, updated_at = now()
	`, c.PartyID, c.Email, c.PushURL)
	return err
}
