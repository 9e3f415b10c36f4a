package gateway

import "sync"

// Handle is a cloneable send endpoint for one WebSocket connection. Anything
// in the process that needs to push to a client goes through a Handle
// rather than touching the socket directly — the writer goroutine behind it
// is the sink's only owner.
type Handle struct {
	userID      string
	queue       chan []byte
	closed      chan struct{}
	once        sync.Once
	closeCode   int
	closeReason string
}

func newHandle(userID string, bufSize int) *Handle {
	return &Handle{userID: userID, queue: make(chan []byte, bufSize), closed: make(chan struct{})}
}

// Send enqueues a pre-encoded frame without blocking. When the queue is
// full or the handle is closed the frame is dropped and Send reports false;
// the handle stays registered, so a single slow handle can't wedge a
// broadcaster.
func (h *Handle) Send(frame []byte) bool {
	select {
	case h.queue <- frame:
		return true
	case <-h.closed:
		return false
	default:
		return false
	}
}

// Close marks the handle dead; safe to call more than once.
func (h *Handle) Close() {
	h.once.Do(func() { close(h.closed) })
}

// closeWith records the close code/reason the writer should deliver, then
// marks the handle dead. The fields are written before the channel close so
// the writer's read is ordered after them; a second call is a no-op.
func (h *Handle) closeWith(code int, reason string) {
	h.once.Do(func() {
		h.closeCode = code
		h.closeReason = reason
		close(h.closed)
	})
}

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// CloseCode returns the close code/reason set by ForceCloseUser or by the
// reader's pong timeout (1001), or (0, "") for a handle closed by ordinary
// disconnect.
func (h *Handle) CloseCode() (int, string) { return h.closeCode, h.closeReason }

// Registry is the process-wide user_id → live handles map. A user may
// hold several concurrent sockets (multi-device), so each entry is a list.
type Registry struct {
	mu      sync.RWMutex
	handles map[string][]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string][]*Handle)}
}

// Add appends a new handle for userID and returns it.
func (r *Registry) Add(userID string, bufSize int) *Handle {
	h := newHandle(userID, bufSize)
	r.mu.Lock()
	r.handles[userID] = append(r.handles[userID], h)
	r.mu.Unlock()
	return h
}

// Remove prunes h from userID's handle list. It reports whether userID has
// no remaining live handles, i.e. whether presence should transition to
// offline.
func (r *Registry) Remove(userID string, h *Handle) (lastHandle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handles[userID]
	for i, candidate := range list {
		if candidate == h {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.handles, userID)
		return true
	}
	r.handles[userID] = list
	return false
}

// HandlesFor returns a snapshot of userID's live handles.
func (r *Registry) HandlesFor(userID string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, len(r.handles[userID]))
	copy(out, r.handles[userID])
	return out
}

// IsOnline reports whether userID has at least one live handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[userID]) > 0
}

// OnlineUserIDs returns every user id with at least one live handle.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handles))
	for uid := range r.handles {
		out = append(out, uid)
	}
	return out
}

// BroadcastAll serializes once (by the caller) and pushes frame to every
// registered handle, non-blocking per handle.
func (r *Registry) BroadcastAll(frame []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, list := range r.handles {
		for _, h := range list {
			h.Send(frame)
		}
	}
}

// SendToUser pushes frame to every live handle owned by userID.
func (r *Registry) SendToUser(userID string, frame []byte) {
	for _, h := range r.HandlesFor(userID) {
		h.Send(frame)
	}
}

// ForceCloseUser marks every handle for userID closed; the writer goroutine
// behind each handle notices closed and pushes a close frame with the given
// code before tearing the connection down. Used by kick/ban.
func (r *Registry) ForceCloseUser(userID string, code int, reason string) {
	for _, h := range r.HandlesFor(userID) {
		h.closeWith(code, reason)
	}
}
