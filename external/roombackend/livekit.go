package roombackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	rb "github.com/movehive/voicedesk/internal/roombackend"
)

const (
	roomPollInterval   = 5 * time.Second
	epochLookupTimeout = 5 * time.Second
)

// Client joins every live room as the agent participant and reduces the
// SDK's callbacks to the internal callback shape. Join epochs come from the
// server's participant listing so a restarted worker derives the same
// session ids as the one that crashed.
type Client struct {
	url       string
	apiKey    string
	apiSecret string
	svc       *lksdk.RoomServiceClient

	mu         sync.Mutex
	rooms      map[string]*lksdk.Room
	epochs     map[string]int64
	onCallback func(rb.Callback)
	onAudio    func(rb.AudioPacket)
	cancel     context.CancelFunc
}

func NewClient(url, apiKey, apiSecret string) rb.Client {
	return &Client{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		rooms:     make(map[string]*lksdk.Room),
		epochs:    make(map[string]int64),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.svc = lksdk.NewRoomServiceClient(c.url, c.apiKey, c.apiSecret)
	if _, err := c.svc.ListRooms(ctx, &livekit.ListRoomsRequest{}); err != nil {
		return fmt.Errorf("failed to reach room service: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.watchRooms(watchCtx)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	rooms := make([]*lksdk.Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.rooms = make(map[string]*lksdk.Room)
	c.mu.Unlock()

	for _, room := range rooms {
		room.Disconnect()
	}
	return nil
}

func (c *Client) RegisterCallbackHandler(handler func(rb.Callback)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCallback = handler
}

func (c *Client) RegisterAudioHandler(handler func(rb.AudioPacket)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudio = handler
}

func (c *Client) ListActiveSessions(ctx context.Context) ([]rb.RoomSession, error) {
	roomsResp, err := c.svc.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	var sessions []rb.RoomSession
	for _, room := range roomsResp.GetRooms() {
		participantsResp, err := c.svc.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room.GetName()})
		if err != nil {
			return nil, fmt.Errorf("failed to list participants of room %s: %w", room.GetName(), err)
		}
		for _, pi := range participantsResp.GetParticipants() {
			if pi.GetIdentity() == rb.AgentIdentity {
				continue
			}
			sessions = append(sessions, rb.RoomSession{
				Room:        room.GetName(),
				Participant: pi.GetIdentity(),
				JoinEpoch:   pi.GetJoinedAt(),
			})
		}
	}
	return sessions, nil
}

func (c *Client) SendData(msg rb.DataMessage) error {
	c.mu.Lock()
	room, ok := c.rooms[msg.Room]
	c.mu.Unlock()
	if !ok {
		return errors.New("not connected to room " + msg.Room)
	}
	return room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(msg.Payload),
		lksdk.WithDataPublishTopic(msg.Topic),
		lksdk.WithDataPublishReliable(true),
	)
}

// watchRooms keeps the agent joined to every live room. Rooms come and go
// on the server's schedule; the poll picks up ones created while we were
// not looking.
func (c *Client) watchRooms(ctx context.Context) {
	ticker := time.NewTicker(roomPollInterval)
	defer ticker.Stop()
	c.syncRooms(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncRooms(ctx)
		}
	}
}

func (c *Client) syncRooms(ctx context.Context) {
	resp, err := c.svc.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		slog.Error("failed to list rooms", "error", err)
		return
	}
	for _, room := range resp.GetRooms() {
		name := room.GetName()
		c.mu.Lock()
		_, joined := c.rooms[name]
		c.mu.Unlock()
		if joined {
			continue
		}
		if err := c.joinRoom(name); err != nil {
			slog.Error("failed to join room", "room", name, "error", err)
		}
	}
}

func (c *Client) joinRoom(name string) error {
	room, err := lksdk.ConnectToRoom(c.url, lksdk.ConnectInfo{
		APIKey:              c.apiKey,
		APISecret:           c.apiSecret,
		RoomName:            name,
		ParticipantIdentity: rb.AgentIdentity,
	}, c.roomCallback(name))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.rooms[name] = room
	c.mu.Unlock()
	slog.Info("joined room", "room", name)

	// participants already connected never fire OnParticipantConnected
	for _, rp := range room.GetRemoteParticipants() {
		c.emit(name, rp.Identity(), rb.Callback{Kind: rb.CallbackJoin})
	}
	return nil
}

func (c *Client) roomCallback(name string) *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			c.emit(name, rp.Identity(), rb.Callback{Kind: rb.CallbackJoin})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			c.emit(name, rp.Identity(), rb.Callback{Kind: rb.CallbackLeave})
			c.dropEpoch(name, rp.Identity())
		},
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			slog.Warn("disconnected from room", "room", name, "reason", reason)
			c.mu.Lock()
			delete(c.rooms, name)
			c.mu.Unlock()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnIsSpeakingChanged: func(p lksdk.Participant) {
				kind := rb.CallbackSpeechEnd
				if p.IsSpeaking() {
					kind = rb.CallbackSpeechStart
				}
				c.emit(name, p.Identity(), rb.Callback{Kind: kind})
			},
			OnTranscriptionReceived: func(segments []*lksdk.TranscriptionSegment, p lksdk.Participant, _ lksdk.TrackPublication) {
				identity := ""
				if p != nil {
					identity = p.Identity()
				}
				for _, segment := range segments {
					if segment == nil || segment.Text == "" {
						continue
					}
					c.emit(name, identity, rb.Callback{
						Kind:    rb.CallbackTranscript,
						Text:    segment.Text,
						IsFinal: segment.Final,
					})
				}
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				c.handleTrack(name, rp.Identity(), track)
			},
			OnTrackSubscriptionFailed: func(sid string, rp *lksdk.RemoteParticipant) {
				c.emit(name, rp.Identity(), rb.Callback{
					Kind:      rb.CallbackError,
					ErrDetail: "track subscription failed: " + sid,
				})
			},
		},
	}
}

func (c *Client) handleTrack(room, identity string, track *webrtc.TrackRemote) {
	if identity == rb.AgentIdentity {
		return
	}
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
		slog.Warn("unsupported audio codec", "room", room, "participant", identity, "mime_type", track.Codec().MimeType)
		return
	}

	c.mu.Lock()
	onAudio := c.onAudio
	c.mu.Unlock()
	if onAudio == nil {
		return
	}
	epoch, err := c.resolveEpoch(room, identity)
	if err != nil {
		slog.Error("failed to resolve join epoch for audio track",
			"room", room, "participant", identity, "error", err)
		return
	}

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}
			onAudio(rb.AudioPacket{
				Room:        room,
				Participant: identity,
				JoinEpoch:   epoch,
				Opus:        pkt.Payload,
			})
		}
	}()
}

func (c *Client) emit(room, identity string, cb rb.Callback) {
	if identity == rb.AgentIdentity || identity == "" {
		return
	}
	c.mu.Lock()
	handler := c.onCallback
	c.mu.Unlock()
	if handler == nil {
		return
	}
	epoch, err := c.resolveEpoch(room, identity)
	if err != nil {
		slog.Error("failed to resolve join epoch; dropping callback",
			"room", room, "participant", identity, "kind", cb.Kind, "error", err)
		return
	}
	cb.Room = room
	cb.Participant = identity
	cb.JoinEpoch = epoch
	cb.Timestamp = time.Now()
	handler(cb)
}

// resolveEpoch returns the server-assigned joined-at second for one
// participant connection, caching per (room, identity) until the leave.
func (c *Client) resolveEpoch(room, identity string) (int64, error) {
	key := room + "|" + identity
	c.mu.Lock()
	if epoch, ok := c.epochs[key]; ok {
		c.mu.Unlock()
		return epoch, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), epochLookupTimeout)
	defer cancel()
	resp, err := c.svc.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: room})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var found int64
	for _, pi := range resp.GetParticipants() {
		if pi.GetIdentity() == rb.AgentIdentity {
			continue
		}
		c.epochs[room+"|"+pi.GetIdentity()] = pi.GetJoinedAt()
		if pi.GetIdentity() == identity {
			found = pi.GetJoinedAt()
		}
	}
	if found == 0 {
		return 0, fmt.Errorf("participant %s not listed in room %s", identity, room)
	}
	return found, nil
}

func (c *Client) dropEpoch(room, identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.epochs, room+"|"+identity)
}
