package chatws

import (
	"github.com/rs/zerolog"
)

// Hub tracks connected clients per user and fans frames out to every open
// socket a user has. Realtime merging itself happens in each client's
// session; the hub only routes the resulting frames.
type Hub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *userFrame
	logger     zerolog.Logger
}

type userFrame struct {
	userID  int64
	payload []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *userFrame, 64),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case frame := <-h.broadcast:
			h.deliver(frame)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Push queues a frame for every open socket of the given user.
func (h *Hub) Push(userID int64, payload []byte) {
	h.broadcast <- &userFrame{userID: userID, payload: payload}
}

func (h *Hub) deliver(frame *userFrame) {
	set, ok := h.clients[frame.userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- frame.payload:
		default:
			// slow consumer, drop the socket
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, frame.userID)
	}
}
