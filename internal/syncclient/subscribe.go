package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/remote"
)

// ChangeMessage is one push frame on the subscribe websocket.
type ChangeMessage struct {
	Collection string         `json:"collection"`
	Changes    []ChangeRecord `json:"changes"`
}

// ChangeRecord is one changed document inside a ChangeMessage.
type ChangeRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	UpdatedAt  time.Time `json:"updated_at"`
	ServerTime time.Time `json:"server_time"`
}

// Subscribe opens the change feed for one collection. Each frame is delivered
// as one batch; the channel closes when the connection ends.
func (c *Client) Subscribe(ctx context.Context, userID string, t models.RecordType) (<-chan []remote.ChangeEvent, func(), error) {
	wsURL, err := c.websocketURL("/v1/users/" + url.PathEscape(userID) + "/subscribe?" +
		url.Values{"collection": {t.RemoteCollection()}}.Encode())
	if err != nil {
		return nil, nil, err
	}

	header := http.Header{}
	if b := c.bearer(); b != "" {
		header.Set("Authorization", b)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, nil, fmt.Errorf("subscribe %s: %w", t.RemoteCollection(), statusError(resp.StatusCode, nil))
		}
		return nil, nil, fmt.Errorf("subscribe %s: %w: %v", t.RemoteCollection(), remote.ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []remote.ChangeEvent, 16)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("subscribe: read", "collection", t.RemoteCollection(), "err", err)
				}
				return
			}
			var msg ChangeMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("subscribe: bad frame", "collection", t.RemoteCollection(), "err", err)
				continue
			}
			batch := toChangeEvents(t, msg)
			if len(batch) == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func toChangeEvents(t models.RecordType, msg ChangeMessage) []remote.ChangeEvent {
	if msg.Collection != t.RemoteCollection() {
		return nil
	}
	batch := make([]remote.ChangeEvent, 0, len(msg.Changes))
	for _, ch := range msg.Changes {
		batch = append(batch, remote.ChangeEvent{
			Type:       t,
			Kind:       events.ChangeKind(ch.Kind),
			ID:         ch.ID,
			UpdatedAt:  ch.UpdatedAt,
			ServerTime: ch.ServerTime,
		})
	}
	return batch
}

func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}
