package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/odvcencio/qaflow/pkg/storage"
)

// StorageBridge publishes storage events on the bus so that live views of a
// project can follow writes made by any server instance.
type StorageBridge struct {
	bus     MessageBus
	prefix  string
	logger  *slog.Logger
	timeout time.Duration
}

// NewStorageBridge creates a bridge publishing under prefix.
func NewStorageBridge(b MessageBus, prefix string, logger *slog.Logger) *StorageBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBridge{bus: b, prefix: prefix, logger: logger, timeout: 5 * time.Second}
}

// HandleStorageEvent implements storage.Observer.
func (br *StorageBridge) HandleStorageEvent(e storage.Event) {
	if e.ProjectID == "" {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		br.logger.Warn("encode storage event", "type", e.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), br.timeout)
	defer cancel()
	subject := ProjectSubject(br.prefix, e.ProjectID) + "." + string(e.Type)
	if err := br.bus.Publish(ctx, subject, data); err != nil {
		br.logger.Warn("publish storage event", "subject", subject, "error", err)
	}
}

var _ storage.Observer = (*StorageBridge)(nil)
