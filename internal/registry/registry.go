// Package registry records running player sessions in Redis so other
// processes can discover them. Records expire unless refreshed by a
// heartbeat.
package registry

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is the registry record of one player.
type Session struct {
	ID        string `json:"id"`
	Host      string `json:"host"`
	URL       string `json:"url"`
	ChannelID int    `json:"channel_id"`

	State            string `json:"state"`
	Started          bool   `json:"started"`
	Connected        bool   `json:"connected"`
	Codec            string `json:"codec,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	PacketsPerSecond int    `json:"packets_per_second"`
	RetriesLeft      int    `json:"retries_left"`

	CreatedAt     time.Time `json:"created_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Registry is the session store contract.
type Registry interface {
	// Register adds s, or refreshes it keeping its CreatedAt.
	Register(ctx context.Context, s *Session) error
	Unregister(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Session, error)
	// List returns live sessions, pruning expired ones from the index.
	List(ctx context.Context) ([]*Session, error)
	Close() error
}
