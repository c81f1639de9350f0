package models

import "time"

// Client is a single entry in the queue. WaitMinutes is computed at query
// time: for the live queue it is the time spent waiting so far, for history
// it is the time between joining and being called (nil if never called).
type Client struct {
	ID           int64      `json:"id"`
	TicketNumber string     `json:"ticket_number"`
	Phone        string     `json:"phone"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	WaitMinutes  *int64     `json:"wait_minutes,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusCancelled = "cancelled"
)
