package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/npcforge/npcforge/pkg/api/events"
	"github.com/npcforge/npcforge/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32
	maxControlMessage       = 64 << 10
)

// Message types the server sends in reply to control messages.
const (
	MessageSubscription = "subscription"
	MessageError        = "error"
)

// ErrHubFull is returned when the hub already holds its maximum number of
// watchers.
var ErrHubFull = errors.New("websocket connection limit reached")

// WebSocketConfig configures the event stream.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SendBuffer     int
}

// EventMessage is one frame sent to a watcher.
type EventMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// controlMessage is what a watcher sends to change its filter:
//
//	{"type":"subscribe","npc_ids":["npc_1"],"event_types":["turn.*"]}
//
// "unsubscribe" removes the listed NPCs and types, "reset" clears both.
type controlMessage struct {
	Type       string   `json:"type"`
	NPCID      string   `json:"npc_id,omitempty"`
	NPCIDs     []string `json:"npc_ids,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

func (m controlMessage) npcIDs() []string {
	ids := append([]string(nil), m.NPCIDs...)
	if m.NPCID != "" {
		ids = append(ids, m.NPCID)
	}
	return cleanList(ids)
}

// eventFilter selects events by NPC and by type. An empty dimension matches
// everything. Type patterns ending in ".*" match a whole family such as
// "turn.*".
type eventFilter struct {
	npcs  map[string]struct{}
	types map[string]struct{}
}

func newEventFilter() eventFilter {
	return eventFilter{npcs: map[string]struct{}{}, types: map[string]struct{}{}}
}

func (f eventFilter) matches(eventType, npcID string) bool {
	if len(f.npcs) > 0 {
		if _, ok := f.npcs[npcID]; !ok {
			return false
		}
	}
	if len(f.types) == 0 {
		return true
	}
	if _, ok := f.types[eventType]; ok {
		return true
	}
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		_, ok := f.types[eventType[:i]+".*"]
		return ok
	}
	return false
}

// validEventType accepts a known event type or a family pattern that covers
// at least one of them.
func validEventType(pattern string) bool {
	for _, typ := range events.Types {
		if typ == pattern {
			return true
		}
		if family, ok := strings.CutSuffix(pattern, ".*"); ok && strings.HasPrefix(typ, family+".") {
			return true
		}
	}
	return false
}

func checkEventTypes(types []string) error {
	for _, typ := range types {
		if !validEventType(typ) {
			return fmt.Errorf("unknown event type %q", typ)
		}
	}
	return nil
}

// watcher is one connected websocket client.
type watcher struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter eventFilter
	closed bool
}

func newWatcher(conn *websocket.Conn, buffer int) *watcher {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &watcher{conn: conn, send: make(chan []byte, buffer), filter: newEventFilter()}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.send)
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

func (w *watcher) subscribe(npcIDs, types []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range npcIDs {
		w.filter.npcs[id] = struct{}{}
	}
	for _, typ := range types {
		w.filter.types[typ] = struct{}{}
	}
}

func (w *watcher) unsubscribe(npcIDs, types []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range npcIDs {
		delete(w.filter.npcs, id)
	}
	for _, typ := range types {
		delete(w.filter.types, typ)
	}
}

func (w *watcher) reset() {
	w.mu.Lock()
	w.filter = newEventFilter()
	w.mu.Unlock()
}

func (w *watcher) wants(eventType, npcID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.filter.matches(eventType, npcID)
}

// subscription reports the current filter with sorted lists.
func (w *watcher) subscription() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return map[string]any{
		"npc_ids":     sortedKeys(w.filter.npcs),
		"event_types": sortedKeys(w.filter.types),
	}
}

// offer queues a frame without blocking. It reports false when the watcher
// is too slow to keep up.
func (w *watcher) offer(frame []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return true
	}
	select {
	case w.send <- frame:
		return true
	default:
		return false
	}
}

// Hub tracks connected watchers and routes events to the ones whose filter
// matches.
type Hub struct {
	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	limit    int
}

// NewHub creates a hub that accepts at most limit watchers.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultWSMaxConnections
	}
	return &Hub{watchers: make(map[*watcher]struct{}), limit: limit}
}

func (h *Hub) add(w *watcher) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.watchers) >= h.limit {
		return ErrHubFull
	}
	h.watchers[w] = struct{}{}
	return nil
}

func (h *Hub) remove(w *watcher) {
	h.mu.Lock()
	_, ok := h.watchers[w]
	delete(h.watchers, w)
	h.mu.Unlock()
	if ok {
		w.close()
	}
}

// Count returns the number of connected watchers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

func (h *Hub) full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers) >= h.limit
}

// Publish sends event to every matching watcher. Watchers whose buffer is
// full are disconnected.
func (h *Hub) Publish(event EventMessage) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	npcID := npcIDFromPayload(event.Payload)

	h.mu.RLock()
	targets := make([]*watcher, 0, len(h.watchers))
	for w := range h.watchers {
		if w.wants(event.Type, npcID) {
			targets = append(targets, w)
		}
	}
	h.mu.RUnlock()

	for _, w := range targets {
		if !w.offer(frame) {
			h.remove(w)
		}
	}
	return nil
}

// Close disconnects every watcher.
func (h *Hub) Close() {
	h.mu.Lock()
	watchers := h.watchers
	h.watchers = make(map[*watcher]struct{})
	h.mu.Unlock()
	for w := range watchers {
		w.close()
	}
}

// WebSocketHandler serves /ws/events. Clients pick NPCs and event types
// with the npc_id and type query parameters at connect time, and may change
// them later with control messages.
type WebSocketHandler struct {
	log          logger.Logger
	hub          *Hub
	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates the event stream handler.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	origins := append([]string(nil), cfg.AllowedOrigins...)
	return &WebSocketHandler{
		log:          log,
		hub:          NewHub(cfg.MaxConnections),
		sendBuffer:   cfg.SendBuffer,
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(r, origins) },
		},
	}
}

// ServeHTTP validates the initial filter, upgrades the connection and runs
// the client until it disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	npcIDs := splitParams(query["npc_id"])
	types := splitParams(query["type"])
	if err := checkEventTypes(types); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.hub.full() {
		http.Error(w, ErrHubFull.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.warn("websocket upgrade failed", "error", err)
		return
	}

	wt := newWatcher(conn, h.sendBuffer)
	wt.subscribe(npcIDs, types)
	if err := h.hub.add(wt); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.writeTimeout))
		_ = conn.Close()
		return
	}

	go h.write(wt)
	h.read(wt)
}

func (h *WebSocketHandler) read(wt *watcher) {
	defer h.hub.remove(wt)

	wait := h.pingInterval + h.pongTimeout
	wt.conn.SetReadLimit(maxControlMessage)
	_ = wt.conn.SetReadDeadline(time.Now().Add(wait))
	wt.conn.SetPongHandler(func(string) error {
		return wt.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := wt.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.warn("websocket read failed", "error", err)
			}
			return
		}
		h.control(wt, data)
	}
}

func (h *WebSocketHandler) write(wt *watcher) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	defer h.hub.remove(wt)

	for {
		select {
		case frame, ok := <-wt.send:
			if !ok {
				_ = wt.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout))
				return
			}
			_ = wt.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := wt.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := wt.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// control applies one control message and answers with the resulting
// subscription, or with an error frame when the message is rejected.
func (h *WebSocketHandler) control(wt *watcher, raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(wt, MessageError, map[string]any{"error": "invalid control message"})
		return
	}
	types := cleanList(msg.EventTypes)
	if err := checkEventTypes(types); err != nil {
		h.reply(wt, MessageError, map[string]any{"error": err.Error()})
		return
	}

	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "subscribe":
		wt.subscribe(msg.npcIDs(), types)
	case "unsubscribe":
		wt.unsubscribe(msg.npcIDs(), types)
	case "reset":
		wt.reset()
	default:
		h.reply(wt, MessageError, map[string]any{"error": fmt.Sprintf("unknown control message %q", msg.Type)})
		return
	}
	h.reply(wt, MessageSubscription, wt.subscription())
}

func (h *WebSocketHandler) reply(wt *watcher, typ string, payload map[string]any) {
	frame, err := json.Marshal(EventMessage{Type: typ, Timestamp: time.Now().UTC(), Payload: payload})
	if err != nil {
		return
	}
	if !wt.offer(frame) {
		h.hub.remove(wt)
	}
}

// Broadcast stamps event and publishes it to matching watchers.
func (h *WebSocketHandler) Broadcast(event EventMessage) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return h.hub.Publish(event)
}

// Forward relays broadcaster events until ch is closed or done is
// signalled.
func (h *WebSocketHandler) Forward(done <-chan struct{}, ch <-chan events.Event) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			msg := EventMessage{Type: event.Type, Timestamp: event.Timestamp, Payload: event.Payload}
			if err := h.Broadcast(msg); err != nil {
				h.warn("websocket broadcast failed", "type", event.Type, "error", err)
			}
		}
	}
}

// Count returns the number of connected clients.
func (h *WebSocketHandler) Count() int { return h.hub.Count() }

// Close disconnects all clients.
func (h *WebSocketHandler) Close() { h.hub.Close() }

func (h *WebSocketHandler) warn(msg string, kv ...any) {
	if h.log != nil {
		h.log.Warn(msg, kv...)
	}
}

func npcIDFromPayload(payload any) string {
	switch p := payload.(type) {
	case map[string]any:
		id, _ := p["npc_id"].(string)
		return id
	case map[string]string:
		return p["npc_id"]
	}
	return ""
}

// splitParams accepts both repeated and comma separated query values.
func splitParams(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, ",")...)
	}
	return cleanList(out)
}

func cleanList(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func originAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSpace(a), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
