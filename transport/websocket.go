// Package transport implements collab.ClientSink over the wire protocols
// a presence core host process actually speaks: a reliable gorilla/
// websocket connection per client (package-level WebSocketSink) and an
// unreliable pion/webrtc/v4 data channel for high-frequency updates
// (WebRTCSink). Both key registered connections by collab.PresenceID and
// encode every outbound message as a JSON envelope, mirroring the
// teacher's server.Client/ServeWS read/write-pump pattern.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"presencecore/collab"
	"presencecore/config"
	"presencecore/geom"
	"presencecore/logging"
)

// envelope is the wire frame every ClientSink message is wrapped in; Type
// names the payload so the browser/client dispatches on it the way the
// teacher's handleClientMessage switches on msg["type"].
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsConn is one registered client's send-side state: the socket plus its
// buffered outbound queue, written only by writePump.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketSink implements collab.ClientSink over reliable gorilla/
// websocket connections, one per connected client, registered under the
// presence's PresenceID by the host process's upgrade handler.
type WebSocketSink struct {
	cfg config.WebSocketConfig

	mu    sync.RWMutex
	conns map[collab.PresenceID]*wsConn
}

// NewWebSocketSink constructs a WebSocketSink using the given timeout and
// buffer configuration (config.PresenceConfig.WebSocket).
func NewWebSocketSink(cfg config.WebSocketConfig) *WebSocketSink {
	return &WebSocketSink{
		cfg:   cfg,
		conns: make(map[collab.PresenceID]*wsConn),
	}
}

func (s *WebSocketSink) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// ServeWS upgrades an incoming HTTP request to a websocket connection,
// registers it under presence, and spawns its read/write pumps.
func (s *WebSocketSink) ServeWS(presence collab.PresenceID, w http.ResponseWriter, r *http.Request) error {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("transport: websocket upgrade: %w", err)
	}

	c := &wsConn{conn: conn, send: make(chan []byte, 256)}

	s.mu.Lock()
	if old, ok := s.conns[presence]; ok {
		close(old.send)
	}
	s.conns[presence] = c
	s.mu.Unlock()

	go s.writePump(presence, c)
	go s.readPump(presence, c)
	return nil
}

// Close unregisters and closes presence's connection, if any.
func (s *WebSocketSink) Close(presence collab.PresenceID) {
	s.mu.Lock()
	c, ok := s.conns[presence]
	if ok {
		delete(s.conns, presence)
	}
	s.mu.Unlock()
	if ok {
		close(c.send)
	}
}

func (s *WebSocketSink) readPump(presence collab.PresenceID, c *wsConn) {
	defer func() {
		s.Close(presence)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("presence websocket connection error", map[string]interface{}{
					"presence": presence,
					"error":    err.Error(),
				})
			}
			return
		}
		// Inbound control/agent-update traffic is decoded by the host
		// process's HTTP/session layer, not this sink; ClientSink is
		// outbound-only (collab.ClientSink).
	}
}

func (s *WebSocketSink) writePump(presence collab.PresenceID, c *wsConn) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketSink) send(to collab.PresenceID, msgType string, data interface{}) error {
	s.mu.RLock()
	c, ok := s.conns[to]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no websocket connection for presence %q", to)
	}

	body, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("transport: marshal %s envelope: %w", msgType, err)
	}

	select {
	case c.send <- body:
		return nil
	default:
		logging.Warn("presence websocket send buffer full, dropping message", map[string]interface{}{
			"presence": to,
			"type":     msgType,
		})
		return fmt.Errorf("transport: send buffer full for presence %q", to)
	}
}

type avatarDataPayload struct {
	ID       collab.PresenceID `json:"id"`
	Position geom.Vec          `json:"position"`
	Rotation geom.Quat         `json:"rotation"`
}

func (s *WebSocketSink) SendAvatarDataImmediate(ctx context.Context, to collab.PresenceID, avatar collab.AvatarData) error {
	return s.send(to, "avatar_data", avatarDataPayload{ID: avatar.ID, Position: avatar.Position, Rotation: avatar.Rotation})
}

func (s *WebSocketSink) SendAppearance(ctx context.Context, to collab.PresenceID, appearance []byte) error {
	return s.send(to, "appearance", appearance)
}

func (s *WebSocketSink) SendAnimations(ctx context.Context, to collab.PresenceID, anims collab.AnimationSet) error {
	return s.send(to, "animations", anims)
}

type entityUpdatePayload struct {
	Update collab.TerseUpdate        `json:"update"`
	Flags  collab.EntityUpdateFlags  `json:"flags"`
}

func (s *WebSocketSink) SendEntityUpdate(ctx context.Context, to collab.PresenceID, update collab.TerseUpdate, flags collab.EntityUpdateFlags) error {
	return s.send(to, "entity_update", entityUpdatePayload{Update: update, Flags: flags})
}

func (s *WebSocketSink) SendSitResponse(ctx context.Context, to collab.PresenceID, resp collab.SitResponse) error {
	return s.send(to, "sit_response", resp)
}

func (s *WebSocketSink) SendCoarseLocations(ctx context.Context, to collab.PresenceID, locations []geom.Vec) error {
	return s.send(to, "coarse_locations", locations)
}

func (s *WebSocketSink) SendKillObject(ctx context.Context, to collab.PresenceID, localIDs []collab.LocalID) error {
	return s.send(to, "kill_object", localIDs)
}

func (s *WebSocketSink) SendAlertMessage(ctx context.Context, to collab.PresenceID, message string) error {
	return s.send(to, "alert_message", message)
}

type cameraConstraintPayload struct {
	Normal geom.Vec `json:"normal"`
	Point  geom.Vec `json:"point"`
}

func (s *WebSocketSink) SendCameraConstraint(ctx context.Context, to collab.PresenceID, normal, point geom.Vec) error {
	return s.send(to, "camera_constraint", cameraConstraintPayload{Normal: normal, Point: point})
}

type localTeleportPayload struct {
	Position geom.Vec `json:"position"`
	LookAt   geom.Vec `json:"look_at"`
}

func (s *WebSocketSink) SendLocalTeleport(ctx context.Context, to collab.PresenceID, position geom.Vec, lookAt geom.Vec) error {
	return s.send(to, "local_teleport", localTeleportPayload{Position: position, LookAt: lookAt})
}

type takeControlsPayload struct {
	Controls    uint32 `json:"controls"`
	PassToAgent bool   `json:"pass_to_agent"`
}

func (s *WebSocketSink) SendTakeControls(ctx context.Context, to collab.PresenceID, controls uint32, passToAgent bool) error {
	return s.send(to, "take_controls", takeControlsPayload{Controls: controls, PassToAgent: passToAgent})
}

func (s *WebSocketSink) SendHealth(ctx context.Context, to collab.PresenceID, health float64) error {
	return s.send(to, "health", health)
}

var _ collab.ClientSink = (*WebSocketSink)(nil)
