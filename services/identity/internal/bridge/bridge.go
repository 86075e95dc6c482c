// Package bridge answers user-lookup requests arriving over the durable
// queue pair, so other services never need a direct network path to the
// identity service.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nexom/backend/pkg/logger"
	"github.com/nexom/backend/pkg/lookup"
	"github.com/nexom/backend/pkg/queue"
	"github.com/nexom/backend/services/identity/internal/repository"
)

const consumerName = "identity-bridge"

type Bridge struct {
	bus   *queue.Bus
	users repository.UserRepository
}

func New(bus *queue.Bus, users repository.UserRepository) *Bridge {
	return &Bridge{bus: bus, users: users}
}

// Start declares both queues and begins consuming lookup requests. The
// durable consumer picks up where it left off across restarts.
func (b *Bridge) Start() error {
	if err := lookup.DeclareQueues(b.bus); err != nil {
		return err
	}

	if _, err := b.bus.Consume(lookup.RequestQueue, consumerName, b.handle); err != nil {
		return fmt.Errorf("failed to consume %s: %w", lookup.RequestQueue, err)
	}

	logger.Info("Lookup bridge listening", "queue", lookup.RequestQueue)
	return nil
}

// handle processes one delivery. The message is acked only after the
// response has been published; any failure naks it back to the queue, whose
// redelivery policy is the sole retry mechanism. The lookup is a pure read,
// so a redelivered request is harmless.
func (b *Bridge) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := b.processRequest(ctx, msg.Data)
	if err != nil {
		logger.Error("Failed to process lookup request", "error", err)
		if err := msg.Nak(); err != nil {
			logger.Error("Failed to nak lookup request", "error", err)
		}
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Failed to marshal lookup response", "error", err)
		_ = msg.Nak()
		return
	}

	correlationID := msg.Header.Get(queue.HeaderCorrelationID)
	if err := b.bus.Publish(lookup.ResponseQueue, payload, correlationID); err != nil {
		logger.Error("Failed to publish lookup response", "error", err)
		_ = msg.Nak()
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error("Failed to ack lookup request", "error", err)
	}
}

// processRequest resolves a request payload into a response. A returned
// error means the delivery must be naked; an unknown user is a normal
// not-found response, not an error.
func (b *Bridge) processRequest(ctx context.Context, data []byte) (*lookup.Response, error) {
	var req lookup.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("malformed lookup request: %w", err)
	}

	id, err := strconv.ParseInt(req.RequestedID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed requestedId %q: %w", req.RequestedID, err)
	}

	user, err := b.users.FindPublicByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	if user == nil {
		return lookup.NotFoundResponse(), nil
	}

	return &lookup.Response{
		User: &lookup.User{
			ID:        user.ID,
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.UpdatedAt,
		},
	}, nil
}
