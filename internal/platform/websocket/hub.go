// Package websocket streams run progress to browsers. Clients subscribe to
// topics and receive every run event published on them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/events"
)

// TopicAll receives every run event.
const TopicAll = "runs"

// RunTopic is the topic of a single run.
func RunTopic(runID string) string { return "run:" + runID }

// ScenarioTopic is the topic of every run of a scenario.
func ScenarioTopic(key string) string { return "scenario:" + key }

// Topics lists the topics an event is delivered on.
func Topics(ev events.Event) []string {
	topics := []string{TopicAll, RunTopic(ev.RunID)}
	if ev.ScenarioKey != "" {
		topics = append(topics, ScenarioTopic(ev.ScenarioKey))
	}
	return topics
}

// ClientMessage is sent by clients to change their subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected browser.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

func NewClient(topics ...string) *Client {
	return &Client{ID: uuid.NewString(), Topics: topics, Send: make(chan []byte, 256)}
}

// Hub tracks clients by topic. It implements events.Publisher so the
// executor can publish to it directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "run-stream").Logger(),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	h.subscribe(client, client.Topics)
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.unsubscribe(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

// ProcessMessage applies a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		h.subscribe(client, msg.Topics)
		client.Topics = append(client.Topics, msg.Topics...)
	case "unsubscribe":
		h.unsubscribe(client, msg.Topics)
		drop := make(map[string]bool, len(msg.Topics))
		for _, t := range msg.Topics {
			drop[t] = true
		}
		kept := client.Topics[:0]
		for _, t := range client.Topics {
			if !drop[t] {
				kept = append(kept, t)
			}
		}
		client.Topics = kept
	}
}

func (h *Hub) subscribe(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

func (h *Hub) unsubscribe(client *Client, topics []string) {
	for _, topic := range topics {
		if subs, ok := h.clients[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, topic)
			}
		}
	}
}

// Forward delivers ev once to every client subscribed to one of its topics.
// Slow clients whose buffer is full miss the event.
func (h *Hub) Forward(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal run event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := make(map[*Client]bool)
	for _, topic := range Topics(ev) {
		for client := range h.clients[topic] {
			if delivered[client] {
				continue
			}
			delivered[client] = true
			select {
			case client.Send <- data:
			default:
				h.logger.Warn().Str("client", client.ID).Str("run_id", ev.RunID).Msg("client buffer full, event dropped")
			}
		}
	}
}

func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.Forward(ev)
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.Unregister(c)
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

const writeTimeout = 10 * time.Second

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the stream endpoint.
//
//	GET /runs/stream?run_id=...&scenario=...
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/runs/stream", h.Connect)
}

// Connect upgrades the request and subscribes the client to the run and
// scenario named in the query, or to every run when neither is given.
func (h *Handler) Connect(c echo.Context) error {
	var topics []string
	if id := c.QueryParam("run_id"); id != "" {
		topics = append(topics, RunTopic(id))
	}
	if key := c.QueryParam("scenario"); key != "" {
		topics = append(topics, ScenarioTopic(key))
	}
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	client := NewClient(topics...)
	h.hub.Register(client)
	h.hub.logger.Debug().Str("client", client.ID).Strs("topics", topics).Msg("stream client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for message := range client.Send {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
