package foxglove

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"qstream/pkg/engine"
	"qstream/pkg/protocol"
)

const logLevelInfo = 2

// SummaryMessage is the JSON body published on the summary topic.
type SummaryMessage struct {
	Session           string                                      `json:"session"`
	Seq               uint64                                      `json:"seq"`
	TS                string                                      `json:"ts"`
	ElapsedMs         float64                                     `json:"elapsed_ms"`
	TransmitTimestamp float64                                     `json:"transmit_timestamp"`
	Packets           int                                         `json:"packets"`
	Discarded         int                                         `json:"discarded"`
	PayloadBytes      int                                         `json:"payload_bytes"`
	Channels          map[protocol.ChannelType]engine.TypeSummary `json:"channels"`
}

type Server struct {
	cfg       Config
	hub       *engine.Hub
	sessionID string
	logger    zerolog.Logger
	clients   map[*client]struct{}
	mu        sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

func NewServer(cfg Config, hub *engine.Hub, logger zerolog.Logger) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:       cfg,
		hub:       hub,
		sessionID: uuid.NewString(),
		logger:    logger.With().Str("component", "foxglove").Logger(),
		clients:   make(map[*client]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.WSAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.Info().Str("addr", s.cfg.WSAddr).Msg("foxglove bridge listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	defer s.removeClient(c)
	defer c.close()

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		return
	}
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("foxglove client connected")

	go c.writeLoop()
	c.readLoop(s.supportedChannels())
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	return map[uint64]struct{}{
		s.cfg.ChannelID:    {},
		s.cfg.GpsChannelID: {},
	}
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		SessionID:          s.sessionID,
	}
}

func (s *Server) advertise() AdvertiseMsg {
	return AdvertiseMsg{Op: OpAdvertise, Channels: []Channel{
		{
			ID:             s.cfg.ChannelID,
			Topic:          s.cfg.Topic,
			Encoding:       s.cfg.Encoding,
			SchemaName:     s.cfg.SchemaName,
			SchemaEncoding: s.cfg.SchemaEncoding,
			Schema:         s.cfg.Schema,
		},
		{
			ID:             s.cfg.GpsChannelID,
			Topic:          s.cfg.GpsTopic,
			Encoding:       s.cfg.Encoding,
			SchemaName:     s.cfg.GpsSchemaName,
			SchemaEncoding: s.cfg.SchemaEncoding,
			Schema:         s.cfg.GpsSchema,
		},
	}}
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan engine.Summary) {
	for {
		select {
		case <-ctx.Done():
			return
		case summary, ok := <-sub:
			if !ok {
				return
			}
			s.broadcastSummary(summary)
		}
	}
}

func (s *Server) broadcastSummary(summary engine.Summary) {
	ts := summary.At
	if ts.IsZero() {
		ts = time.Now()
	}
	s.publishJSONToChannel(s.cfg.ChannelID, ts, summaryMessage(summary, ts))
	for _, log := range s.gpsLogs(summary, ts) {
		s.publishJSONToChannel(s.cfg.GpsChannelID, ts, log)
	}
}

func summaryMessage(summary engine.Summary, ts time.Time) SummaryMessage {
	return SummaryMessage{
		Session:           summary.Session,
		Seq:               summary.Seq,
		TS:                ts.UTC().Format(time.RFC3339Nano),
		ElapsedMs:         float64(summary.Elapsed) / float64(time.Millisecond),
		TransmitTimestamp: summary.TransmitTimestamp,
		Packets:           summary.Packets,
		Discarded:         summary.Discarded,
		PayloadBytes:      summary.PayloadBytes,
		Channels:          summary.Channels,
	}
}

// gpsLogs returns one log entry per GPS frame of the window, in arrival order.
func (s *Server) gpsLogs(summary engine.Summary, ts time.Time) []LogMessage {
	logs := make([]LogMessage, 0, len(summary.GpsFixes))
	for _, fix := range summary.GpsFixes {
		if fix.Message == "" {
			continue
		}
		logs = append(logs, LogMessage{
			Timestamp: FrameTime{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())},
			Level:     logLevelInfo,
			Message:   fix.Message,
			Name:      s.cfg.Name,
		})
	}
	return logs
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("channel", channelID).Msg("marshal foxglove message")
		return
	}
	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supportedChannels map[uint64]struct{}) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpSubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, sub := range msg.Subscriptions {
				if _, ok := supportedChannels[sub.ChannelID]; ok {
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case OpUnsubscribe:
			var msg UnsubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops msg when the client is slow. Sending on a closed client is
// a no-op.
func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
