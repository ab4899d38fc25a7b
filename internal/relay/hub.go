package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

const presenceTimeout = 2 * time.Second

type HubConfig struct {
	// MaxRoomMembers caps room size; 0 means unlimited.
	MaxRoomMembers int
	// OutboxBytes bounds each participant's pending outbound frames.
	OutboxBytes int
	Presence    Presence
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Hub routes frames between the participants of each room. All membership
// changes and fan-out happen under one lock, so every participant observes
// joins, leaves and chat in the same order.
type Hub struct {
	cfg HubConfig
	log *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

type room struct {
	name    string
	members []*Participant
}

func (r *room) find(id signaling.ParticipantID) *Participant {
	for _, m := range r.members {
		if m.id == id {
			return m
		}
	}
	return nil
}

func (r *room) ids() []signaling.ParticipantID {
	out := make([]signaling.ParticipantID, len(r.members))
	for i, m := range r.members {
		out[i] = m.id
	}
	return out
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Presence == nil {
		cfg.Presence = NewMemoryPresence()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		cfg:   cfg,
		log:   cfg.Logger,
		rooms: make(map[string]*room),
	}
}

// Participant is one connection's membership handle. Its id is assigned at
// connect time and sent in the joined frame.
type Participant struct {
	id   signaling.ParticipantID
	out  *outbox
	name string
	room string

	presence *presenceTurns
}

// Connect registers a new, not yet joined participant.
func (h *Hub) Connect() *Participant {
	return &Participant{
		id:       signaling.ParticipantID(uuid.NewString()),
		out:      newOutbox(h.cfg.OutboxBytes),
		presence: newPresenceTurns(),
	}
}

func (p *Participant) ID() signaling.ParticipantID { return p.id }

// Next blocks until a frame is ready for this participant's socket. It
// returns false once the participant has left.
func (p *Participant) Next() ([]byte, bool) { return p.out.Dequeue() }

func (h *Hub) deliver(p *Participant, msg signaling.Message) {
	frame, err := msg.Marshal()
	if err != nil {
		h.log.Error("failed to encode relay frame", "type", msg.Type, "err", err)
		return
	}
	if !p.out.Enqueue(frame) {
		h.cfg.Metrics.Drop(metrics.DropReasonSendQueue)
		h.log.Warn("participant outbox full, dropping frame", "participant_id", p.id, "type", msg.Type)
	}
}

// Reject queues an error frame for p; the connection stays open.
func (h *Hub) Reject(p *Participant, code, message string) {
	h.deliver(p, signaling.ErrorMessage(code, message))
}

// Join adds p to roomName. p receives joined, then every member including p
// receives peer-joined with the full membership in join order.
func (h *Hub) Join(p *Participant, roomName, name string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if p.room != "" {
		h.mu.Unlock()
		return ErrAlreadyJoined
	}
	r, ok := h.rooms[roomName]
	if ok && h.cfg.MaxRoomMembers > 0 && len(r.members) >= h.cfg.MaxRoomMembers {
		h.mu.Unlock()
		h.cfg.Metrics.Drop(metrics.DropReasonRoomFull)
		return fmt.Errorf("%w: %q has %d members", ErrRoomFull, roomName, len(r.members))
	}
	if !ok {
		r = &room{name: roomName}
		h.rooms[roomName] = r
		h.cfg.Metrics.Rooms.Set(float64(len(h.rooms)))
	}
	p.room = roomName
	p.name = name
	r.members = append(r.members, p)
	h.cfg.Metrics.Participants.Inc()

	h.deliver(p, signaling.Message{Type: signaling.MessageTypeJoined, ID: p.id})
	announce := signaling.Message{Type: signaling.MessageTypePeerJoined, ID: p.id, Members: r.ids()}
	for _, m := range r.members {
		h.deliver(m, announce)
	}
	size := len(r.members)
	turn := p.presence.take()
	h.mu.Unlock()

	h.log.Info("participant joined", "room", roomName, "participant_id", p.id, "members", size)
	p.presence.run(turn, func() {
		h.presence(func(ctx context.Context) error { return h.cfg.Presence.Add(ctx, roomName, p.id) })
	})
	return nil
}

// Signal forwards env from p to the member to. Both must be in the same room.
func (h *Hub) Signal(p *Participant, to signaling.ParticipantID, env signaling.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := h.roomOfLocked(p)
	if err != nil {
		return err
	}
	target := r.find(to)
	if target == nil {
		h.cfg.Metrics.Drop(metrics.DropReasonUnknownPeer)
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	h.deliver(target, signaling.Message{Type: signaling.MessageTypeSignal, From: p.id, Signal: &env})
	return nil
}

// Chat fans body out to every member of p's room, p included. An empty name
// falls back to the name p joined with.
func (h *Hub) Chat(p *Participant, body, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := h.roomOfLocked(p)
	if err != nil {
		return err
	}
	if name == "" {
		name = p.name
	}
	msg := signaling.Message{Type: signaling.MessageTypeChat, Body: body, Sender: name, SenderID: p.id}
	for _, m := range r.members {
		h.deliver(m, msg)
	}
	return nil
}

func (h *Hub) roomOfLocked(p *Participant) (*room, error) {
	if p.room == "" {
		h.cfg.Metrics.Drop(metrics.DropReasonNotJoined)
		return nil, ErrNotJoined
	}
	r, ok := h.rooms[p.room]
	if !ok {
		return nil, ErrNotJoined
	}
	return r, nil
}

// Leave removes p, tells the remaining members and closes p's outbox. It is
// safe to call more than once and for participants that never joined.
func (h *Hub) Leave(p *Participant) {
	defer p.out.Close()

	h.mu.Lock()
	roomName := p.room
	r, ok := h.rooms[roomName]
	if roomName == "" || !ok {
		h.mu.Unlock()
		return
	}
	p.room = ""
	for i, m := range r.members {
		if m == p {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	h.cfg.Metrics.Participants.Dec()
	if len(r.members) == 0 {
		delete(h.rooms, roomName)
		h.cfg.Metrics.Rooms.Set(float64(len(h.rooms)))
	} else {
		left := signaling.Message{Type: signaling.MessageTypePeerLeft, ID: p.id}
		for _, m := range r.members {
			h.deliver(m, left)
		}
	}
	turn := p.presence.take()
	h.mu.Unlock()

	h.log.Info("participant left", "room", roomName, "participant_id", p.id)
	p.presence.run(turn, func() {
		h.presence(func(ctx context.Context) error { return h.cfg.Presence.Remove(ctx, roomName, p.id) })
	})
}

// Members returns the ids in roomName in join order.
func (h *Hub) Members(roomName string) []signaling.ParticipantID {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomName]
	if !ok {
		return nil
	}
	return r.ids()
}

func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) Presence() Presence { return h.cfg.Presence }

// Close stops accepting joins and releases every participant's writer.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Participant
	for _, r := range h.rooms {
		all = append(all, r.members...)
	}
	h.mu.Unlock()
	for _, p := range all {
		h.Leave(p)
	}
}

func (h *Hub) presence(op func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := op(ctx); err != nil {
		h.log.Warn("presence update failed", "err", err)
	}
}
