package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// eventsReadLimit bounds a single event frame.
const eventsReadLimit = 64 << 10

// Watch subscribes to gateway push events for the authenticated user.
// The returned channel is closed when ctx ends or the connection drops.
func (c *Client) Watch(ctx context.Context) (<-chan domain.Event, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/events"

	header := http.Header{}
	c.applyCredentials(header)

	// The handshake needs a writable response body, which the instrumented transport hides.
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, errorFromResponse(resp.StatusCode, nil)
		}
		return nil, networkError("GET /events", err)
	}
	conn.SetReadLimit(eventsReadLimit)

	events := make(chan domain.Event, 16)
	go func() {
		defer close(events)
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

		for {
			var ev domain.Event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) &&
					websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					c.logger.Debug("Event stream closed", "error", err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
