package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/claimflow/claimflow/internal/domain/claims"
)

// DefaultSubjectPrefix is the NATS subject root for claim events. The
// event type's colon form maps to dotted subjects, e.g. "claim:claimed"
// publishes on "claims.events.claim.claimed".
const DefaultSubjectPrefix = "claims.events"

// NATSBridge mirrors every event published on a Bus onto NATS subjects
// so external consumers (dashboards, other coordinators) can follow the
// audit stream. Delivery is best effort: a NATS error is logged, never
// propagated back to the claim operation.
type NATSBridge struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	subID  string
	bus    *Bus
}

// NewNATSBridge connects to the given NATS URL and attaches to the bus.
func NewNATSBridge(bus *Bus, url, prefix string, logger *slog.Logger) (*NATSBridge, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("claimflow"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}

	bridge := &NATSBridge{conn: conn, prefix: prefix, logger: logger, bus: bus}
	bridge.subID = bus.Subscribe(Wildcard, bridge.forward)
	return bridge, nil
}

func (n *NATSBridge) forward(event *claims.ClaimEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("nats bridge: marshal event",
			"eventId", event.ID, "type", event.Type, "error", err)
		return
	}

	subject := n.subjectFor(event.Type)
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error("nats bridge: publish",
			"subject", subject, "eventId", event.ID, "error", err)
	}
}

func (n *NATSBridge) subjectFor(eventType claims.ClaimEventType) string {
	return n.prefix + "." + strings.ReplaceAll(string(eventType), ":", ".")
}

// Close detaches from the bus and drains the connection.
func (n *NATSBridge) Close() error {
	n.bus.Unsubscribe(Wildcard, n.subID)
	if err := n.conn.Drain(); err != nil {
		return fmt.Errorf("nats: drain: %w", err)
	}
	return nil
}
