package model

import (
	"fmt"
	"time"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// ParseStatus converts a user-supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown message status %q", s)
	}
	return st, nil
}

// User is the profile owning a replica.
type User struct {
	ID         string    `json:"id" firestore:"id"`
	Name       string    `json:"name" firestore:"name"`
	Email      string    `json:"email" firestore:"email"`
	ProfilePic string    `json:"profilePic,omitempty" firestore:"profilePic"`
	CreatedAt  time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// Chat is a conversation owned by a user. LastMessage and LastMessageTime
// are a denormalized preview of the newest accepted message.
type Chat struct {
	ID              string    `json:"id" firestore:"id"`
	UserID          string    `json:"userId" firestore:"userId"`
	Name            string    `json:"name" firestore:"name"`
	LastMessage     string    `json:"lastMessage" firestore:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime" firestore:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount" firestore:"unreadCount"`
	ProfilePic      string    `json:"profilePic,omitempty" firestore:"profilePic"`
	CreatedAt       time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// Message belongs to exactly one chat. Only Status and UpdatedAt change
// after creation.
type Message struct {
	ID        string    `json:"id" firestore:"id"`
	ChatID    string    `json:"chatId" firestore:"chatId"`
	UserID    string    `json:"userId" firestore:"userId"`
	Text      string    `json:"text" firestore:"text"`
	Time      string    `json:"time" firestore:"time"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
	Status    Status    `json:"status" firestore:"status"`
	IsOwn     bool      `json:"isOwn" firestore:"isOwn"`
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// TimeLabel formats the human-readable time shown next to a message.
func TimeLabel(t time.Time) string {
	return t.Local().Format("3:04 PM")
}

var epoch = time.Unix(0, 0).UTC()

// Effective returns t, or the Unix epoch when t is absent.
func Effective(t time.Time) time.Time {
	if t.IsZero() {
		return epoch
	}
	return t
}

// Newer reports whether a is strictly newer than b. Absent timestamps count
// as the epoch, so two absent timestamps tie.
func Newer(a, b time.Time) bool {
	return Effective(a).After(Effective(b))
}

// Now returns the current time in UTC at millisecond precision, the finest
// precision every record store keeps exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
