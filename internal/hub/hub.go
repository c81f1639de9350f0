package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Subscription narrows what a connected display receives. An empty topic
// list means everything.
type Subscription struct {
	Topics []string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast delivers payload to every client subscribed to topic. Slow
// clients are skipped rather than blocking the sender.
func (h *Hub) Broadcast(payload []byte, topic string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, topic) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func match(sub Subscription, topic string) bool {
	if len(sub.Topics) == 0 {
		return true
	}
	for _, candidate := range sub.Topics {
		if candidate == topic {
			return true
		}
	}
	return false
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
