package model

import "time"

// Message types.
const (
	MessageTypeTokenLogin = "token_login"
)

// Task states.
const (
	TaskStatePending = "pending"
)

// Message is a queued outbound message. Delivery is not this module's job;
// the queue only records what should be sent.
type Message struct {
	ID        string    `json:"_id"`
	Type      string    `json:"type"`
	User      string    `json:"user"`
	Tasks     []Task    `json:"tasks"`
	CreatedAt time.Time `json:"reported_date"`
}

// Task is one deliverable unit of a Message.
type Task struct {
	State    string        `json:"state"`
	Messages []TaskMessage `json:"messages"`
}

// TaskMessage is one SMS.
type TaskMessage struct {
	UUID string `json:"uuid"`
	To   string `json:"to"`
	Body string `json:"message"`
}
