package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBridge mirrors every event published on a Bus onto a NATS subject for
// out-of-process observers. It never receives from NATS and never gates the
// in-process fan-out — a failed publish to NATS is logged, not propagated.
type NATSBridge struct {
	conn    *nats.Conn
	subject string
	bus     *Bus
	token   Token
}

// NewNATSBridge subscribes bus to forward every event to subject on conn.
func NewNATSBridge(bus *Bus, conn *nats.Conn, subject string) *NATSBridge {
	br := &NATSBridge{conn: conn, subject: subject, bus: bus}
	br.token = bus.Subscribe("*", br.forward)
	return br
}

func (br *NATSBridge) forward(event Event) error {
	payload, err := json.Marshal(struct {
		Type      string         `json:"type"`
		Data      map[string]any `json:"data"`
		Timestamp int64          `json:"timestamp_ms"`
	}{
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal event for nats: %w", err)
	}
	return br.conn.Publish(br.subject, payload)
}

// Close unsubscribes the bridge from its bus. It does not close conn, which
// the caller owns.
func (br *NATSBridge) Close() {
	br.bus.Unsubscribe("*", br.token)
}
