package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"chatapp/internal/domain"
)

type HistoryFetcher interface {
	History(ctx context.Context, peerID int64) ([]domain.Message, error)
}

type ReadMarker interface {
	MarkRead(ctx context.Context, senderID int64) (int64, error)
}

// PeerSummary is the one per-peer record the peer list is projected from.
type PeerSummary struct {
	ID              int64
	Name            string
	IsOnline        bool
	LastMessage     string
	LastMessageTime *time.Time
	UnreadCount     int
}

type peerState struct {
	id       int64
	name     string
	online   bool
	last     *domain.Message
	unread   map[int64]struct{}
	position int
}

func (p *peerState) summary() PeerSummary {
	s := PeerSummary{
		ID:          p.id,
		Name:        p.name,
		IsOnline:    p.online,
		UnreadCount: len(p.unread),
	}
	if p.last != nil {
		t := p.last.CreatedAt
		s.LastMessage = p.last.Content
		s.LastMessageTime = &t
	}
	return s
}

// observe records m as the peer's latest message if it is newer.
func (p *peerState) observe(m domain.Message) {
	if p.last == nil || p.last.Before(&m) {
		cp := m
		p.last = &cp
	}
}

// Reconciler merges REST snapshots and live events into one view: the open
// conversation plus a summary per peer. Unread counts track message ids, so a
// message seen both in a snapshot and as an event is counted once.
type Reconciler struct {
	self    int64
	history HistoryFetcher
	marker  ReadMarker
	log     *slog.Logger

	mu        sync.Mutex
	peers     map[int64]*peerState
	positions int

	open     int64
	openMsgs []domain.Message
	loading  bool
	gen      int
	pending  []domain.Message
}

func NewReconciler(self int64, history HistoryFetcher, marker ReadMarker, log *slog.Logger) *Reconciler {
	return &Reconciler{
		self:    self,
		history: history,
		marker:  marker,
		log:     log,
		peers:   make(map[int64]*peerState),
	}
}

// peer returns the state for id, creating it for peers that appeared after
// Bootstrap. Caller holds mu.
func (r *Reconciler) peer(id int64) *peerState {
	p, ok := r.peers[id]
	if !ok {
		p = &peerState{id: id, unread: make(map[int64]struct{}), position: r.positions}
		r.positions++
		r.peers[id] = p
	}
	return p
}

// Bootstrap loads every other user and derives their summary from history.
// A failed history fetch leaves that peer without messages.
func (r *Reconciler) Bootstrap(ctx context.Context, users []domain.User) error {
	others := lo.Filter(users, func(u domain.User, _ int) bool { return u.ID != r.self })

	for _, u := range others {
		msgs, err := r.history.History(ctx, u.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("bootstrap history", "peer_id", u.ID, "error", err)
		}

		r.mu.Lock()
		p := r.peer(u.ID)
		p.name = u.Name
		p.online = u.IsOnline
		for _, m := range msgs {
			p.observe(m)
			if r.isUnreadFrom(m, u.ID) {
				p.unread[m.ID] = struct{}{}
			}
		}
		r.mu.Unlock()
	}
	return nil
}

func (r *Reconciler) isUnreadFrom(m domain.Message, peerID int64) bool {
	return m.ReceiverID == r.self && m.SenderID == peerID && !m.IsRead
}

// SelectPeer opens the conversation with peerID: the open sequence is
// replaced by a fresh snapshot, events that arrived while it loaded are
// merged in, and the peer's messages are marked read.
func (r *Reconciler) SelectPeer(ctx context.Context, peerID int64) error {
	r.mu.Lock()
	r.open = peerID
	r.openMsgs = nil
	r.pending = nil
	r.loading = true
	r.gen++
	gen := r.gen
	r.peer(peerID)
	r.mu.Unlock()

	msgs, err := r.history.History(ctx, peerID)

	r.mu.Lock()
	if gen != r.gen {
		// Another peer was selected meanwhile.
		r.mu.Unlock()
		return nil
	}
	r.loading = false
	r.openMsgs = mergeMessages(msgs, r.pending)
	r.pending = nil
	p := r.peer(peerID)
	for _, m := range r.openMsgs {
		p.observe(m)
	}
	if err == nil {
		// The snapshot is the fresh source for what is still unread.
		clear(p.unread)
		for _, m := range msgs {
			if r.isUnreadFrom(m, peerID) {
				p.unread[m.ID] = struct{}{}
			}
		}
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	return r.markRead(ctx, peerID)
}

// ClosePeer leaves the open conversation. Later messages from that peer
// count as unread again.
func (r *Reconciler) ClosePeer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = 0
	r.openMsgs = nil
	r.pending = nil
	r.loading = false
	r.gen++
}

// markRead flips every unread message from peerID on the server. Only ids
// known before the call are cleared locally; anything that arrived since
// stays until a later event accounts for it.
func (r *Reconciler) markRead(ctx context.Context, peerID int64) error {
	r.mu.Lock()
	before := lo.Keys(r.peer(peerID).unread)
	r.mu.Unlock()

	n, err := r.marker.MarkRead(ctx, peerID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.peer(peerID)
	for _, id := range before {
		delete(p.unread, id)
	}
	r.log.Debug("marked read", "peer_id", peerID, "modified", n, "cleared", len(before))
	return nil
}

// appendOpen adds m to the open conversation if it belongs there. Caller
// holds mu.
func (r *Reconciler) appendOpen(m domain.Message) bool {
	if r.open == 0 || (m.SenderID != r.open && m.ReceiverID != r.open) {
		return false
	}
	if r.loading {
		r.pending = append(r.pending, m)
		return true
	}
	r.openMsgs = mergeMessages(r.openMsgs, []domain.Message{m})
	return true
}

// OnNewMessage applies a newMessage push. A message from the open peer is
// read as it arrives and never counted; from any other peer it counts as
// unread.
func (r *Reconciler) OnNewMessage(ctx context.Context, m domain.Message) {
	peerID := m.Peer(r.self)

	r.mu.Lock()
	inOpen := r.appendOpen(m)
	p := r.peer(peerID)
	p.observe(m)
	fromPeer := m.SenderID == peerID && m.ReceiverID == r.self
	if fromPeer && !m.IsRead && !inOpen {
		p.unread[m.ID] = struct{}{}
	}
	r.mu.Unlock()

	if inOpen && fromPeer {
		if err := r.markRead(ctx, peerID); err != nil {
			r.log.Warn("mark read", "peer_id", peerID, "error", err)
		}
	}
}

// OnMessageSent applies the echo of a message the local user sent. Sending
// to a peer clears that thread, so anything still unread from them is
// marked read on the server as well.
func (r *Reconciler) OnMessageSent(ctx context.Context, m domain.Message) {
	peerID := m.Peer(r.self)

	r.mu.Lock()
	r.appendOpen(m)
	p := r.peer(peerID)
	p.observe(m)
	hasUnread := len(p.unread) > 0
	r.mu.Unlock()

	if hasUnread {
		if err := r.markRead(ctx, peerID); err != nil {
			r.log.Warn("mark read after send", "peer_id", peerID, "error", err)
		}
	}
}

// OnMessagesMarkedAsRead applies a read receipt. When the local user is the
// reader, the sender's unread count drops to zero. When the local user is
// the original sender, their messages in the open conversation flip to read;
// the peer's unread count is about the other direction and stays as is.
func (r *Reconciler) OnMessagesMarkedAsRead(_ context.Context, rc domain.ReadReceipt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.self {
	case rc.ReceiverID:
		clear(r.peer(rc.SenderID).unread)
	case rc.SenderID:
		if r.open != rc.ReceiverID {
			return
		}
		for i := range r.openMsgs {
			m := &r.openMsgs[i]
			if m.SenderID == r.self && m.ReceiverID == rc.ReceiverID {
				m.IsRead = true
			}
		}
	}
}

func (r *Reconciler) OnUserStatus(s domain.StatusUpdate) {
	if s.UserID == r.self {
		return
	}
	r.mu.Lock()
	r.peer(s.UserID).online = s.IsOnline
	r.mu.Unlock()
}

func (r *Reconciler) OnError(msg string) {
	r.log.Warn("server rejected event", "error", msg)
}

// Peers is the peer list: latest message first, peers without messages
// last, ties in first-seen order.
func (r *Reconciler) Peers() []PeerSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := lo.Values(r.peers)
	sort.Slice(states, func(i, j int) bool {
		a, b := states[i], states[j]
		switch {
		case a.last == nil && b.last == nil:
			return a.position < b.position
		case a.last == nil:
			return false
		case b.last == nil:
			return true
		case !a.last.CreatedAt.Equal(b.last.CreatedAt):
			return a.last.CreatedAt.After(b.last.CreatedAt)
		default:
			return a.position < b.position
		}
	})
	return lo.Map(states, func(p *peerState, _ int) PeerSummary { return p.summary() })
}

func (r *Reconciler) UnreadCount(peerID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[peerID]; ok {
		return len(p.unread)
	}
	return 0
}

// Conversation returns the open peer and a copy of its messages.
func (r *Reconciler) Conversation() (int64, []domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open, append([]domain.Message(nil), r.openMsgs...)
}

// mergeMessages returns base plus extra without duplicate ids, in
// (createdAt, id) order.
func mergeMessages(base, extra []domain.Message) []domain.Message {
	out := lo.UniqBy(append(append([]domain.Message(nil), base...), extra...), func(m domain.Message) int64 {
		return m.ID
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}
