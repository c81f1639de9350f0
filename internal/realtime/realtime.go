package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"marchemo/queue-service/internal/hub"
	"marchemo/queue-service/internal/models"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const (
	TopicQueueUpdated = "queue_updated"
	TopicClientCalled = "client_called"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Broadcaster fans queue events out to SockJS sessions through the hub.
type Broadcaster struct {
	hub *hub.Hub
}

func New() *Broadcaster {
	return &Broadcaster{hub: hub.New()}
}

func (b *Broadcaster) QueueUpdated(clients []models.Client) {
	if clients == nil {
		clients = []models.Client{}
	}
	b.publish(TopicQueueUpdated, clients)
}

func (b *Broadcaster) ClientCalled(client models.Client) {
	b.publish(TopicClientCalled, client)
}

func (b *Broadcaster) publish(eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("realtime marshal error type=%s: %v", eventType, err)
		return
	}
	envelope, err := json.Marshal(eventEnvelope{
		Type:      eventType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("realtime marshal error type=%s: %v", eventType, err)
		return
	}
	b.hub.Broadcast(envelope, eventType)
}

// Handler serves the SockJS endpoint under prefix. Connections receive all
// topics until they send a subscribe message narrowing them.
func (b *Broadcaster) Handler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, b.serve)
}

func (b *Broadcaster) serve(session sockjs.Session) {
	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
	b.hub.Register(client)
	defer b.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			b.hub.UpdateSubscription(client, hub.Subscription{})
			continue
		}
		b.hub.UpdateSubscription(client, hub.Subscription{Topics: parsed.Topics})
	}
}
