package stream

import (
	"fmt"
	"strings"

	"github.com/missioncontrol/core/internal/common/logger"
)

// Provided wraps the active Stream Broker implementation, mirroring the
// sibling event bus's ProvidedBus shape.
type Provided struct {
	Broker Broker
	Memory *MemoryBroker
	NATS   *NATSBroker
}

// Provide builds the configured broker: BROKER_URL empty selects the
// bounded in-memory log; a nats:// URL selects the JetStream broker.
func Provide(brokerURL string, capacity int, log *logger.Logger) (*Provided, func() error, error) {
	if strings.TrimSpace(brokerURL) != "" {
		natsBroker, err := NewNATSBroker(brokerURL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize nats stream broker: %w", err)
		}
		cleanup := func() error { return natsBroker.Close() }
		return &Provided{Broker: natsBroker, NATS: natsBroker}, cleanup, nil
	}

	memBroker := NewMemoryBroker(capacity)
	return &Provided{Broker: memBroker, Memory: memBroker}, func() error { return memBroker.Close() }, nil
}
