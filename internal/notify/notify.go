// Package notify delivers ledger notices (liquidation, clawback) to the
// external messaging collaborator.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Notice is one human-readable event attached to an account.
type Notice struct {
	Group   string `json:"group"`
	Entity  string `json:"entity"`
	Kind    string `json:"kind"` // "liquidation" | "clawback"
	Message string `json:"message"`
}

// Notifier publishes notices. Delivery is best-effort; the ledger never
// fails an operation because a notice could not be sent.
type Notifier interface {
	Publish(n Notice)
	Close()
}

// NATSNotifier publishes notices as JSON on petmarket.notice.<kind>.
type NATSNotifier struct {
	conn *nats.Conn
	log  *slog.Logger
}

func NewNATSNotifier(url string, logger *slog.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn, log: logger}, nil
}

func (n *NATSNotifier) Publish(notice Notice) {
	raw, err := json.Marshal(notice)
	if err != nil {
		n.log.Error("notice encode failed", "err", err)
		return
	}
	subject := "petmarket.notice." + notice.Kind
	if err := n.conn.Publish(subject, raw); err != nil {
		n.log.Error("notice publish failed", "subject", subject, "err", err)
	}
}

func (n *NATSNotifier) Close() {
	n.conn.Close()
}

// LogNotifier writes notices to the log; the default when no NATS URL is
// configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) Publish(n Notice) {
	logger := l.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("ledger notice", "group", n.Group, "entity", n.Entity, "kind", n.Kind, "message", n.Message)
}

func (l LogNotifier) Close() {}
