package identity

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/model"
)

// Postgres resolves parties from the persisted parties table. There is no
// in-process cache; every call reads the table.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) ResolveOwner(ctx context.Context, userID string) (string, error) {
	return p.resolve(ctx, userID, model.RoleOwner, model.ErrOwnerNotFound)
}

func (p *Postgres) ResolveRequester(ctx context.Context, userID string) (string, error) {
	return p.resolve(ctx, userID, model.RoleRequester, model.ErrRequesterNotFound)
}

func (p *Postgres) resolve(ctx context.Context, userID string, role model.Role, notFound error) (string, error) {
	if userID == "" {
		return "", notFound
	}
	var id string
	err := p.pool.QueryRow(ctx, `
		SELECT id
		FROM parties
		WHERE user_id = $1 AND role = $2
	`, userID, string(role)).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return "", notFound
		}
		return "", fmt.Errorf("resolve %s %s: %w", role, userID, err)
	}
	return id, nil
}
