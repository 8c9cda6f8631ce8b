// Package journal records relayed ride-lifecycle events for operational
// audit. The backend remains the source of truth for ride state; the journal
// is append-only and best-effort.
package journal

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/lib/pq"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
)

// Journal appends one relayed lifecycle event.
type Journal interface {
	Append(ctx context.Context, ev models.RideEvent) error
}

type Memory struct {
	mu     sync.Mutex
	events []models.RideEvent
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, ev models.RideEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (m *Memory) Events() []models.RideEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RideEvent, len(m.events))
	copy(out, m.events)
	return out
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Append(ctx context.Context, ev models.RideEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_events(ride_id, kind, driver_id, user_id, reason, occurred_at) VALUES($1,$2,$3,$4,$5,$6)`,
		ev.RideID, ev.Kind, ev.DriverID, ev.UserID, ev.Reason, ev.OccurredAt)
	return err
}

func (p *Postgres) Close() error { return p.db.Close() }
