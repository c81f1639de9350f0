package hub

import (
	"testing"
	"time"
)

func receive(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestBroadcastReachesAllByDefault(t *testing.T) {
	h := New()
	a := &Client{ID: "a", Send: make(chan []byte, 1)}
	b := &Client{ID: "b", Send: make(chan []byte, 1)}
	h.Register(a)
	h.Register(b)

	h.Broadcast([]byte("hello"), "queue_updated")

	if string(receive(t, a.Send)) != "hello" {
		t.Fatal("client a missed the broadcast")
	}
	if string(receive(t, b.Send)) != "hello" {
		t.Fatal("client b missed the broadcast")
	}
}

func TestBroadcastFiltersByTopic(t *testing.T) {
	h := New()
	filtered := &Client{ID: "a", Send: make(chan []byte, 1)}
	h.Register(filtered)
	h.UpdateSubscription(filtered, Subscription{Topics: []string{"client_called"}})

	h.Broadcast([]byte("update"), "queue_updated")
	select {
	case <-filtered.Send:
		t.Fatal("received a topic it did not subscribe to")
	default:
	}

	h.Broadcast([]byte("called"), "client_called")
	if string(receive(t, filtered.Send)) != "called" {
		t.Fatal("missed the subscribed topic")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := New()
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("one"), "queue_updated")
	h.Broadcast([]byte("two"), "queue_updated")

	if string(receive(t, slow.Send)) != "one" {
		t.Fatal("first message lost")
	}
	select {
	case msg := <-slow.Send:
		t.Fatalf("expected drop, got %q", msg)
	default:
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	c := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)

	if _, open := <-c.Send; open {
		t.Fatal("send channel should be closed")
	}

	// Broadcast after unregister must not panic.
	h.Broadcast([]byte("late"), "queue_updated")
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		raw    string
		ok     bool
		action string
		topics int
	}{
		{`{"action":"subscribe","topics":["queue_updated"]}`, true, "subscribe", 1},
		{`{"action":"unsubscribe"}`, true, "unsubscribe", 0},
		{`{"action":"ping"}`, false, "", 0},
		{`not json`, false, "", 0},
	}

	for _, tt := range cases {
		msg, ok := ParseSubscribe([]byte(tt.raw))
		if ok != tt.ok {
			t.Fatalf("ParseSubscribe(%q) ok=%v, want %v", tt.raw, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if msg.Action != tt.action || len(msg.Topics) != tt.topics {
			t.Fatalf("ParseSubscribe(%q)=%+v", tt.raw, msg)
		}
	}
}
