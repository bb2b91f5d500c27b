package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ksawyer/wirehub/internal/config"
)

// Postgres is the pgx-backed Store. Expected schema:
//
//	CREATE TABLE messages (
//	    id      UUID PRIMARY KEY,
//	    channel TEXT NOT NULL,
//	    sender  TEXT NOT NULL,
//	    body    TEXT NOT NULL,
//	    sent_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX messages_channel_sent_at ON messages (channel, sent_at DESC);
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a connection pool and verifies it with a ping.
func NewPostgres(ctx context.Context, cfg config.DBConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// SaveMessage inserts a message, filling ID and SentAt when zero.
func (p *Postgres) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (id, channel, sender, body, sent_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.Channel, msg.Sender, msg.Body, msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for a channel, newest first.
func (p *Postgres) RecentMessages(ctx context.Context, channel string, limit int) ([]Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, channel, sender, body, sent_at FROM messages
		 WHERE channel = $1 ORDER BY sent_at DESC LIMIT $2`,
		channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Channel, &m.Sender, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// DeleteMessage removes a message by id.
func (p *Postgres) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
