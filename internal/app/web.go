package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/resq-tech/cpr_assist/internal/config"
)

// wsClient wraps one websocket connection with a write lock. The
// websocket package allows only a single concurrent writer per
// connection, and both the broadcast loop and the handler's initial
// snapshot write hit the same conn.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(doc []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, doc)
}

// webState holds the latest feedback document plus the set of websocket
// clients waiting for updates.
type webState struct {
	mu      sync.RWMutex
	last    json.RawMessage
	clients map[*wsClient]struct{}
}

func newWebState() *webState {
	return &webState{clients: make(map[*wsClient]struct{})}
}

func (s *webState) update(payload []byte) {
	doc := make(json.RawMessage, len(payload))
	copy(doc, payload)

	s.mu.Lock()
	s.last = doc
	conns := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.send(doc); err != nil {
			s.drop(c)
		}
	}
}

func (s *webState) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return c
}

func (s *webState) drop(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.conn.Close()
}

func (s *webState) latest() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// RunWeb serves the web monitor: a JSON endpoint with the latest
// feedback, a websocket live feed, and the static page.
func RunWeb(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	state := newWebState()

	// 1) Subscribe to the retained feedback topic.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-web").
		SetAutoReconnect(true)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)
	logger.Info("web: connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))

	token := client.Subscribe(cfg.Topics.Feedback, cfg.MQTT.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		state.update(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Info("web: subscribed", zap.String("topic", cfg.Topics.Feedback))

	// 2) JSON API endpoint: latest feedback document.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/feedback", func(w http.ResponseWriter, r *http.Request) {
		doc := state.latest()
		if doc == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})

	// 3) Websocket live feed: every feedback update is pushed as one
	// text message.
	upgrader := websocket.Upgrader{
		// The monitor is served on a trusted local network.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("web: websocket upgrade error", zap.Error(err))
			return
		}
		client := state.add(conn)

		// Send the last known state right away. A broadcast may already
		// be in flight for this client; send serializes on the client's
		// write lock.
		if doc := state.latest(); doc != nil {
			if err := client.send(doc); err != nil {
				state.drop(client)
				return
			}
		}

		// Drain (and discard) client messages to notice disconnects.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					state.drop(client)
					return
				}
			}
		}()
	})

	// 4) Static files as the root.
	mux.Handle("/", http.FileServer(http.Dir(cfg.Web.StaticDir)))

	server := &http.Server{Addr: cfg.Web.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("web: listening", zap.String("addr", cfg.Web.ListenAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
