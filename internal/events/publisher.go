// Package events publishes entitlement changes over NATS so other services can
// react to a refreshed receipt set.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject receipt updates are published on.
const DefaultSubject = "entitlements.receipts.updated"

// ReceiptsUpdated is the payload of a receipt update.
type ReceiptsUpdated struct {
	Platform  models.Platform  `json:"platform"`
	Receipts  []models.Receipt `json:"receipts"`
	Active    []string         `json:"active"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	conn     Conn
	subject  string
	platform models.Platform
	logger   *logger.Logger
	now      func() time.Time
}

// NewPublisher returns nil when conn is nil, so callers can skip wiring.
func NewPublisher(conn Conn, subject string, platform models.Platform, log *logger.Logger) *Publisher {
	if conn == nil {
		return nil
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		platform: platform,
		logger:   log.WithComponent("events"),
		now:      time.Now,
	}
}

// Publish sends the receipt set. Publishing is fire-and-forget.
func (p *Publisher) Publish(ctx context.Context, receipts []models.Receipt) error {
	now := p.now().UTC()
	event := ReceiptsUpdated{
		Platform:  p.platform,
		Receipts:  receipts,
		Active:    activeSKUs(receipts, now),
		UpdatedAt: now,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal receipts event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}

	p.logger.WithContext(ctx).Debug("receipts published",
		slog.String("subject", p.subject),
		slog.Int("receipts", len(receipts)),
		slog.Int("active", len(event.Active)))
	return nil
}

// OnReceipts is a receipt listener for the purchase orchestrator. Errors are logged.
func (p *Publisher) OnReceipts(ctx context.Context, receipts []models.Receipt) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, receipts); err != nil {
		p.logger.LogError(ctx, err, "publishing receipts failed")
	}
}

func activeSKUs(receipts []models.Receipt, now time.Time) []string {
	active := make([]string, 0, len(receipts))
	for _, r := range receipts {
		if r.Active(now) {
			active = append(active, r.SKU)
		}
	}
	return active
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Subscribe calls handler for every receipt update on subject. Undecodable
// messages are dropped.
func Subscribe(nc *nats.Conn, subject string, handler func(ReceiptsUpdated)) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var event ReceiptsUpdated
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}
