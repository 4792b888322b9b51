package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/wire"
)

// Router dispatches an authenticated client's inbound event (§6 client→server surface) to the component responsible
// for it (Room Policy Engine, Ciphertext Relay, WebRTC Signaling Relay, friend graph, presence, anti-abuse governor)
// and returns any reply that should be sent back over this connection alone. Side effects visible to other
// connections (broadcasts, forced leaves, presence fan-out) are the Router implementation's responsibility, typically
// via the same EventPublisher the Hub uses for cross-worker fan-out.
//
// Route must not block longer than the context's deadline; it runs on the client's readPump goroutine, so a slow
// handler stalls that connection's ability to read further frames.
type Router interface {
	Route(ctx context.Context, userID uuid.UUID, event wire.DispatchEvent, data json.RawMessage) (replyEvent wire.DispatchEvent, replyData any, err error)
}

// route invokes the Hub's Router and translates its outcome into either a reply frame or a structured error
// event delivered to the originating client only.
func (h *Hub) route(ctx context.Context, client *Client, event wire.DispatchEvent, data json.RawMessage) {
	if h.router == nil {
		client.sendError(event, apierrors.Internal, "event routing is not configured")
		return
	}

	replyEvent, replyData, err := h.router.Route(ctx, client.UserID(), event, data)
	if err != nil {
		code, message := classifyRouteError(err)
		client.sendError(event, code, message)
		return
	}
	if replyEvent != "" {
		client.sendEvent(replyEvent, replyData)
	}
}

// classifyRouteError extracts the apierrors.Code from a Router error, defaulting to Internal for errors that were not
// raised as *apierrors.Error (a handler bug, not a client mistake — logged by the caller, not detailed to the client).
func classifyRouteError(err error) (apierrors.Code, string) {
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message
	}
	return apierrors.Internal, "internal error"
}
