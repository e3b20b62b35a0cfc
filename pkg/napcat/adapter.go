package napcat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
	"github.com/linxiaolu/xiaolubot/pkg/config"
	"github.com/linxiaolu/xiaolubot/pkg/correlator"
)

// ChannelName identifies this transport on the bus.
const ChannelName = "napcat"

// Adapter is the NapCat transport: a WebSocket server that NapCat
// connects to. Inbound frames with post_type "message" become envelopes
// on the bus; frames without a post_type are delivery reports resolved
// into the correlator by echo token.
type Adapter struct {
	Config *config.AdapterConfig

	bus        *bus.MessageBus
	correlator *correlator.Correlator
	upgrader   websocket.Upgrader
	httpClient *http.Client
	server     *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewAdapter creates a new Adapter.
func NewAdapter(cfg *config.AdapterConfig, messageBus *bus.MessageBus, corr *correlator.Correlator) *Adapter {
	return &Adapter{
		Config:     cfg,
		bus:        messageBus,
		correlator: corr,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		httpClient: &http.Client{Timeout: 60 * time.Second},
		conns:      make(map[*websocket.Conn]struct{}),
	}
}

func (a *Adapter) Name() string {
	return ChannelName
}

// Start begins listening for NapCat connections.
func (a *Adapter) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleUpgrade)

	addr := fmt.Sprintf("%s:%d", a.Config.Host, a.Config.Port)
	a.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("NapCat adapter listening on ws://%s", addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("NapCat adapter server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the listener down and closes all live connections.
func (a *Adapter) Stop() error {
	var err error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = a.server.Shutdown(ctx)
	}

	a.mu.Lock()
	for conn := range a.conns {
		conn.Close()
	}
	a.conns = make(map[*websocket.Conn]struct{})
	a.mu.Unlock()
	return err
}

func (a *Adapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("NapCat upgrade failed: %v", err)
		return
	}

	a.mu.Lock()
	a.conns[conn] = struct{}{}
	a.mu.Unlock()
	log.Printf("NapCat connected from %s", conn.RemoteAddr())

	go a.readLoop(conn)
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("NapCat connection closed: %v", err)
			return
		}
		a.handleFrame(raw)
	}
}

func (a *Adapter) handleFrame(raw []byte) {
	var head struct {
		PostType string `json:"post_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		log.Printf("NapCat frame decode failed: %v", err)
		return
	}

	switch head.PostType {
	case "message":
		env, err := decodeEvent(raw)
		if err != nil {
			log.Printf("NapCat event decode failed: %v", err)
			return
		}
		a.bus.PublishInbound(env)
	case "":
		// Frames without a post_type are API responses.
		var res bus.SendResult
		if err := json.Unmarshal(raw, &res); err != nil {
			log.Printf("NapCat response decode failed: %v", err)
			return
		}
		if !a.correlator.Resolve(res) {
			log.Printf("NapCat response unclaimed (echo=%s)", res.Echo)
		}
	default:
		// meta_event heartbeats and the like
	}
}

// messageEvent is the OneBot inbound message shape.
type messageEvent struct {
	PostType    string        `json:"post_type"`
	MessageType string        `json:"message_type"`
	Time        int64         `json:"time"`
	MessageID   json.Number   `json:"message_id"`
	GroupID     int64         `json:"group_id"`
	UserID      int64         `json:"user_id"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Role     string `json:"role"`
	} `json:"sender"`
	Message []bus.Segment `json:"message"`
}

func decodeEvent(raw []byte) (bus.Envelope, error) {
	var ev messageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return bus.Envelope{}, err
	}

	ts := time.Now()
	if ev.Time > 0 {
		ts = time.Unix(ev.Time, 0)
	}

	groupID := ""
	if ev.GroupID != 0 {
		groupID = strconv.FormatInt(ev.GroupID, 10)
	}

	return bus.Envelope{
		Channel:          ChannelName,
		ConversationType: ev.MessageType,
		GroupID:          groupID,
		SenderID:         strconv.FormatInt(ev.UserID, 10),
		SenderName:       ev.Sender.Nickname,
		SenderRole:       ev.Sender.Role,
		Timestamp:        ts,
		MessageID:        ev.MessageID.String(),
		Segments:         ev.Message,
	}, nil
}

// Send delivers one outbound payload to NapCat. In websocket mode the
// frame is pushed over the live connection and NapCat acks by echo; in
// http mode the synchronous API response resolves the correlator here.
// Transmit failures resolve the correlator with an error status so
// awaiting callers always get a definite answer.
func (a *Adapter) Send(p bus.Payload) error {
	var err error
	switch a.Config.SendMode {
	case "http":
		err = a.sendHTTP(p)
	default:
		err = a.sendWebsocket(p)
	}

	if err != nil {
		a.correlator.Resolve(bus.SendResult{Echo: p.Echo, Status: "error", Message: err.Error()})
	}
	return err
}

func (a *Adapter) sendWebsocket(p bus.Payload) error {
	if p.Echo == "" {
		return fmt.Errorf("payload without echo token")
	}

	a.mu.Lock()
	var conn *websocket.Conn
	for c := range a.conns {
		conn = c
		break
	}
	a.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("no active NapCat connection")
	}
	if err := conn.WriteJSON(toWire(p)); err != nil {
		return fmt.Errorf("websocket send failed: %w", err)
	}
	return nil
}

func (a *Adapter) sendHTTP(p bus.Payload) error {
	frame := toWire(p)
	body, err := json.Marshal(frame.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/%s", a.Config.NapCatHost, a.Config.NapCatPort, p.Action)
	resp, err := a.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http send failed: %w", err)
	}
	defer resp.Body.Close()

	var res bus.SendResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("failed to decode NapCat response: %w", err)
	}
	res.Echo = p.Echo
	a.correlator.Resolve(res)
	return nil
}
