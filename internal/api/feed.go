package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/serverdb"
)

// feedBuffer is how many undelivered frames a subscriber may hold before it is
// disconnected as too slow.
const feedBuffer = 16

// ChangeFrame is one push on the subscribe websocket: every change a single
// commit made to one collection.
type ChangeFrame struct {
	Collection string        `json:"collection"`
	Changes    []ChangeEntry `json:"changes"`
}

// ChangeEntry is one changed document inside a ChangeFrame.
type ChangeEntry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	UpdatedAt  time.Time `json:"updated_at"`
	ServerTime time.Time `json:"server_time"`
}

type feedKey struct {
	userID     string
	collection string
}

type subscriber struct {
	key    feedKey
	frames chan []byte
}

// Hub fans committed changes out to the websocket subscribers of each
// user's collections.
type Hub struct {
	mu      sync.Mutex
	subs    map[feedKey]map[*subscriber]struct{}
	closed  bool
	metrics *Metrics
}

// NewHub creates an empty Hub.
func NewHub(m *Metrics) *Hub {
	return &Hub{subs: make(map[feedKey]map[*subscriber]struct{}), metrics: m}
}

func (h *Hub) subscribe(userID, collection string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &subscriber{key: feedKey{userID, collection}, frames: make(chan []byte, feedBuffer)}
	if h.closed {
		close(sub.frames)
		return sub
	}
	if h.subs[sub.key] == nil {
		h.subs[sub.key] = make(map[*subscriber]struct{})
	}
	h.subs[sub.key][sub] = struct{}{}
	if h.metrics != nil {
		h.metrics.SubscriptionOpened()
	}
	return sub
}

// unsubscribe is safe to call more than once.
func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(sub)
}

// drop must be called with h.mu held.
func (h *Hub) drop(sub *subscriber) {
	set := h.subs[sub.key]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.key)
	}
	close(sub.frames)
	if h.metrics != nil {
		h.metrics.SubscriptionClosed()
	}
}

// Subscribers returns the number of live subscriptions for a user's collection.
func (h *Hub) Subscribers(userID, collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[feedKey{userID, collection}])
}

// Publish sends one frame per touched collection to that collection's
// subscribers. A subscriber whose buffer is full is disconnected; its client
// resubscribes and catches up with a fetch.
func (h *Hub) Publish(userID string, docs []serverdb.Document) {
	byCollection := make(map[string][]ChangeEntry)
	var order []string
	for _, d := range docs {
		if _, ok := byCollection[d.Collection]; !ok {
			order = append(order, d.Collection)
		}
		byCollection[d.Collection] = append(byCollection[d.Collection], ChangeEntry{
			ID:         d.ID,
			Kind:       string(changeKind(d)),
			UpdatedAt:  d.UpdatedAt,
			ServerTime: d.ServerUpdatedAt,
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, coll := range order {
		set := h.subs[feedKey{userID, coll}]
		if len(set) == 0 {
			continue
		}
		data, err := json.Marshal(ChangeFrame{Collection: coll, Changes: byCollection[coll]})
		if err != nil {
			slog.Error("marshal change frame", "collection", coll, "err", err)
			continue
		}
		for sub := range set {
			select {
			case sub.frames <- data:
			default:
				slog.Warn("change feed: dropping slow subscriber", "uid", userID, "collection", coll)
				h.drop(sub)
			}
		}
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			h.drop(sub)
		}
	}
}

func changeKind(d serverdb.Document) events.ChangeKind {
	switch {
	case d.Deleted:
		return events.ChangeDeleted
	case d.Created:
		return events.ChangeCreated
	default:
		return events.ChangeUpdated
	}
}

// handleSubscribe handles GET /v1/users/{uid}/subscribe?collection=...
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	collection := r.URL.Query().Get("collection")
	if _, ok := models.TypeForRemoteCollection(collection); !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "unknown collection: "+collection)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(s.config.CORSAllowedOrigins),
	})
	if err != nil {
		logFor(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := s.hub.subscribe(uid, collection)
	defer s.hub.unsubscribe(sub)
	logFor(r.Context()).Info("subscribed", "collection", collection)

	// Clients never send; CloseRead notices when they go away.
	ctx := conn.CloseRead(context.Background())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data, ok := <-sub.frames:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logFor(r.Context()).Debug("change feed write", "collection", collection, "err", err)
				conn.CloseNow()
				return
			}
			s.metrics.RecordPush()
		}
	}
}
