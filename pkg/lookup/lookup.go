// Package lookup defines the cross-service user lookup protocol: a service
// publishes a request for user details to a durable queue and the identity
// service answers on the response queue with the same correlation id.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexom/backend/pkg/queue"
)

const (
	RequestQueue  = "USER_DETAILS_REQUEST"
	ResponseQueue = "USER_DETAILS_RESPONSE"
)

// ErrNotFound is returned when the identity service reports no user for the
// requested id.
var ErrNotFound = errors.New("user not found")

type Request struct {
	RequestedID string `json:"requestedId"`
}

// User is the public projection of an identity record. The OTP columns are
// owned by the identity service and never cross the queue.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Response struct {
	User  *User  `json:"user,omitempty"`
	Error string `json:"error,omitempty"`
}

const errNotFound = "not_found"

func NotFoundResponse() *Response {
	return &Response{Error: errNotFound}
}

func (r *Response) IsNotFound() bool {
	return r.Error == errNotFound
}

// DeclareQueues ensures both protocol queues exist. Safe to call from every
// participant at startup.
func DeclareQueues(bus *queue.Bus) error {
	if err := bus.DeclareQueue(RequestQueue, time.Hour); err != nil {
		return err
	}
	return bus.DeclareQueue(ResponseQueue, time.Hour)
}

// Requester asks the identity service for user details over the queue pair.
type Requester struct {
	bus     *queue.Bus
	timeout time.Duration
}

func NewRequester(bus *queue.Bus, timeout time.Duration) *Requester {
	return &Requester{bus: bus, timeout: timeout}
}

// FetchUser publishes a lookup request and waits for the response carrying
// the same correlation id. Responses for other requesters are skipped.
func (r *Requester) FetchUser(ctx context.Context, userID string) (*User, error) {
	correlationID := uuid.NewString()

	sub, err := r.bus.Observe(ResponseQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to response queue: %w", err)
	}
	defer sub.Unsubscribe()

	payload, err := json.Marshal(Request{RequestedID: userID})
	if err != nil {
		return nil, err
	}
	if err := r.bus.Publish(RequestQueue, payload, correlationID); err != nil {
		return nil, fmt.Errorf("failed to publish lookup request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup timed out: %w", err)
		}
		if msg.Header.Get(queue.HeaderCorrelationID) != correlationID {
			continue
		}

		var resp Response
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return nil, fmt.Errorf("malformed lookup response: %w", err)
		}
		if resp.IsNotFound() {
			return nil, ErrNotFound
		}
		if resp.User == nil {
			return nil, fmt.Errorf("lookup response missing user: %s", resp.Error)
		}
		return resp.User, nil
	}
}
