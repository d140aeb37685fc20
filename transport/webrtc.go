package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"presencecore/collab"
	"presencecore/geom"
	"presencecore/logging"
)

// rtcPeer is one presence's signaling socket, peer connection, and
// outbound data channel.
type rtcPeer struct {
	presence    collab.PresenceID
	signalling  *websocket.Conn
	connection  *webrtc.PeerConnection
	dataChannel *webrtc.DataChannel
	mu          sync.Mutex
}

// signallingMessage is the SDP/ICE exchange frame, mirroring the
// teacher's webrtc.SignalingMessage.
type signallingMessage struct {
	Type         string                     `json:"type"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICECandidate *webrtc.ICECandidateInit   `json:"ice_candidate,omitempty"`
}

// WebRTCSink implements collab.ClientSink over an unreliable pion/webrtc
// data channel per presence, used for the high-frequency entity-update
// traffic the Update Scheduler emits (spec.md §4.7); it falls back to
// reporting an error if no open data channel exists for the presence,
// letting the caller route through WebSocketSink instead.
type WebRTCSink struct {
	api    *webrtc.API
	config webrtc.Configuration

	mu    sync.RWMutex
	peers map[collab.PresenceID]*rtcPeer
}

// NewWebRTCSink constructs a WebRTCSink with a default STUN configuration,
// mirroring the teacher's webrtc.NewManager.
func NewWebRTCSink() *WebRTCSink {
	return &WebRTCSink{
		api: webrtc.NewAPI(),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		peers: make(map[collab.PresenceID]*rtcPeer),
	}
}

// ServeSignalling upgrades an incoming HTTP request to a websocket
// signalling channel for presence, creates its peer connection and data
// channel, and drives the offer/answer/ICE exchange until the socket
// closes.
func (s *WebRTCSink) ServeSignalling(presence collab.PresenceID, w http.ResponseWriter, r *http.Request) error {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("transport: webrtc signalling upgrade: %w", err)
	}

	pc, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: new peer connection: %w", err)
	}

	ordered := false
	maxRetransmits := uint16(0)
	dc, err := pc.CreateDataChannel("presence", &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &maxRetransmits})
	if err != nil {
		pc.Close()
		conn.Close()
		return fmt.Errorf("transport: create data channel: %w", err)
	}

	peer := &rtcPeer{presence: presence, signalling: conn, connection: pc, dataChannel: dc}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logging.Debug("presence webrtc ice state changed", map[string]interface{}{
			"presence": presence,
			"state":    state.String(),
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			s.Close(presence)
		}
	})

	s.mu.Lock()
	if old, ok := s.peers[presence]; ok {
		old.connection.Close()
		old.signalling.Close()
	}
	s.peers[presence] = peer
	s.mu.Unlock()

	go s.readSignalling(peer)
	return nil
}

func (s *WebRTCSink) readSignalling(peer *rtcPeer) {
	defer func() {
		s.Close(peer.presence)
	}()

	for {
		var msg signallingMessage
		if err := peer.signalling.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("presence webrtc signalling error", map[string]interface{}{
					"presence": peer.presence,
					"error":    err.Error(),
				})
			}
			return
		}

		switch msg.Type {
		case "offer":
			s.handleOffer(peer, msg)
		case "answer":
			if msg.SDP != nil {
				if err := peer.connection.SetRemoteDescription(*msg.SDP); err != nil {
					logging.Error("presence webrtc set remote description failed", map[string]interface{}{
						"presence": peer.presence,
						"error":    err.Error(),
					})
				}
			}
		case "ice-candidate":
			if msg.ICECandidate != nil {
				if err := peer.connection.AddICECandidate(*msg.ICECandidate); err != nil {
					logging.Error("presence webrtc add ice candidate failed", map[string]interface{}{
						"presence": peer.presence,
						"error":    err.Error(),
					})
				}
			}
		default:
			logging.Warn("presence webrtc unknown signalling message", map[string]interface{}{
				"presence": peer.presence,
				"type":     msg.Type,
			})
		}
	}
}

func (s *WebRTCSink) handleOffer(peer *rtcPeer, msg signallingMessage) {
	if msg.SDP == nil {
		return
	}
	if err := peer.connection.SetRemoteDescription(*msg.SDP); err != nil {
		logging.Error("presence webrtc set remote description failed", map[string]interface{}{
			"presence": peer.presence,
			"error":    err.Error(),
		})
		return
	}

	answer, err := peer.connection.CreateAnswer(nil)
	if err != nil {
		logging.Error("presence webrtc create answer failed", map[string]interface{}{
			"presence": peer.presence,
			"error":    err.Error(),
		})
		return
	}
	if err := peer.connection.SetLocalDescription(answer); err != nil {
		logging.Error("presence webrtc set local description failed", map[string]interface{}{
			"presence": peer.presence,
			"error":    err.Error(),
		})
		return
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()
	peer.signalling.WriteJSON(signallingMessage{Type: "answer", SDP: &answer})
}

// Close tears down presence's peer connection and signalling socket.
func (s *WebRTCSink) Close(presence collab.PresenceID) {
	s.mu.Lock()
	peer, ok := s.peers[presence]
	if ok {
		delete(s.peers, presence)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	peer.connection.Close()
	peer.signalling.Close()
}

func (s *WebRTCSink) send(to collab.PresenceID, msgType string, data interface{}) error {
	s.mu.RLock()
	peer, ok := s.peers[to]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no webrtc peer for presence %q", to)
	}
	if peer.dataChannel == nil || peer.dataChannel.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("transport: webrtc data channel for presence %q not open", to)
	}

	body, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("transport: marshal %s envelope: %w", msgType, err)
	}
	if err := peer.dataChannel.Send(body); err != nil {
		return fmt.Errorf("transport: webrtc send %s: %w", msgType, err)
	}
	return nil
}

func (s *WebRTCSink) SendAvatarDataImmediate(ctx context.Context, to collab.PresenceID, avatar collab.AvatarData) error {
	return s.send(to, "avatar_data", avatarDataPayload{ID: avatar.ID, Position: avatar.Position, Rotation: avatar.Rotation})
}

func (s *WebRTCSink) SendAppearance(ctx context.Context, to collab.PresenceID, appearance []byte) error {
	return s.send(to, "appearance", appearance)
}

func (s *WebRTCSink) SendAnimations(ctx context.Context, to collab.PresenceID, anims collab.AnimationSet) error {
	return s.send(to, "animations", anims)
}

func (s *WebRTCSink) SendEntityUpdate(ctx context.Context, to collab.PresenceID, update collab.TerseUpdate, flags collab.EntityUpdateFlags) error {
	return s.send(to, "entity_update", entityUpdatePayload{Update: update, Flags: flags})
}

func (s *WebRTCSink) SendSitResponse(ctx context.Context, to collab.PresenceID, resp collab.SitResponse) error {
	return s.send(to, "sit_response", resp)
}

func (s *WebRTCSink) SendCoarseLocations(ctx context.Context, to collab.PresenceID, locations []geom.Vec) error {
	return s.send(to, "coarse_locations", locations)
}

func (s *WebRTCSink) SendKillObject(ctx context.Context, to collab.PresenceID, localIDs []collab.LocalID) error {
	return s.send(to, "kill_object", localIDs)
}

func (s *WebRTCSink) SendAlertMessage(ctx context.Context, to collab.PresenceID, message string) error {
	return s.send(to, "alert_message", message)
}

func (s *WebRTCSink) SendCameraConstraint(ctx context.Context, to collab.PresenceID, normal, point geom.Vec) error {
	return s.send(to, "camera_constraint", cameraConstraintPayload{Normal: normal, Point: point})
}

func (s *WebRTCSink) SendLocalTeleport(ctx context.Context, to collab.PresenceID, position geom.Vec, lookAt geom.Vec) error {
	return s.send(to, "local_teleport", localTeleportPayload{Position: position, LookAt: lookAt})
}

func (s *WebRTCSink) SendTakeControls(ctx context.Context, to collab.PresenceID, controls uint32, passToAgent bool) error {
	return s.send(to, "take_controls", takeControlsPayload{Controls: controls, PassToAgent: passToAgent})
}

func (s *WebRTCSink) SendHealth(ctx context.Context, to collab.PresenceID, health float64) error {
	return s.send(to, "health", health)
}

var _ collab.ClientSink = (*WebRTCSink)(nil)
