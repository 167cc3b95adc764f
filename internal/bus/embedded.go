package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EmbeddedReadyTimeout bounds how long NewEmbeddedBus waits for the server.
const EmbeddedReadyTimeout = 10 * time.Second

// NewEmbeddedBus starts an in-process NATS server on a loopback port and
// connects a NATSBus to it. Closing the bus shuts the server down.
func NewEmbeddedBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "harrier-embedded",
		Host:       "127.0.0.1",
		Port:       server.RANDOM_PORT,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 8 * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(EmbeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", EmbeddedReadyTimeout)
	}

	cfg.NATSUrl = ns.ClientURL()
	b, err := NewNATSBus(cfg)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	b.onClose = func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}
	return b, nil
}
