package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/nats-io/nats.go"
)

// BusMessage is a room event relayed between server processes.
type BusMessage struct {
	NodeID       string      `json:"nodeId"`
	RoomID       string      `json:"roomId"`
	ExceptConnID string      `json:"exceptConnId,omitempty"`
	Envelope     v1.Envelope `json:"envelope"`
}

// Bus fans room events out to other server processes. Each process delivers
// received events to the connections it holds locally.
type Bus interface {
	Publish(ctx context.Context, roomID string, env v1.Envelope, exceptConnID string) error
	Subscribe(handler func(BusMessage)) error
	Close() error
}

// NATSBus implements Bus over core NATS subjects "<prefix>.room.<roomID>".
type NATSBus struct {
	log    *slog.Logger
	nc     *nats.Conn
	prefix string
	nodeID string

	mu   sync.Mutex
	subs []*nats.Subscription
}

var subjectTokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// NewNATSBus wraps an established connection. The bus does not own nc unless
// Close is called.
func NewNATSBus(log *slog.Logger, nc *nats.Conn, prefix, nodeID string) (*NATSBus, error) {
	if nc == nil {
		return nil, errors.New("realtime: nil nats connection")
	}
	if log == nil {
		log = slog.Default()
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "messenger"
	}
	return &NATSBus{log: log, nc: nc, prefix: prefix, nodeID: nodeID}, nil
}

// Subject returns the subject carrying events for roomID.
func (b *NATSBus) Subject(roomID string) string {
	return b.prefix + ".room." + subjectTokenReplacer.Replace(roomID)
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, roomID string, env v1.Envelope, exceptConnID string) error {
	data, err := json.Marshal(BusMessage{
		NodeID:       b.nodeID,
		RoomID:       roomID,
		ExceptConnID: exceptConnID,
		Envelope:     env,
	})
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	return b.nc.Publish(b.Subject(roomID), data)
}

// Subscribe implements Bus. handler runs on the NATS delivery goroutine.
func (b *NATSBus) Subscribe(handler func(BusMessage)) error {
	if handler == nil {
		return errors.New("realtime: nil bus handler")
	}
	sub, err := b.nc.Subscribe(b.prefix+".room.*", func(msg *nats.Msg) {
		var m BusMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			b.log.Warn("bus.decode.fail", "subject", msg.Subject, "err", err)
			return
		}
		handler(m)
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close unsubscribes and drains the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return b.nc.Drain()
}

var _ Bus = (*NATSBus)(nil)
