package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------
// 🧭 Conversation references
// ---------------------------------------------

type Kind string

const (
	KindPrivate Kind = "private"
	KindGroup   Kind = "group"
)

// ConversationRef is the tagged union Private(chatID) | Group(groupID). It is
// comparable and used directly as a map key, so a private chat and a group
// with the same numeric id never share a channel.
type ConversationRef struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func Private(chatID int64) ConversationRef {
	return ConversationRef{Kind: KindPrivate, ID: chatID}
}

func Group(groupID int64) ConversationRef {
	return ConversationRef{Kind: KindGroup, ID: groupID}
}

func (r ConversationRef) Valid() bool {
	return (r.Kind == KindPrivate || r.Kind == KindGroup) && r.ID > 0
}

func (r ConversationRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

// Message is immutable once returned by the store. Display fields are filled
// in at publish time from current user data.
type Message struct {
	ID           int64           `json:"message_id"`
	Conversation ConversationRef `json:"conversation"`
	SenderID     int64           `json:"sender_id"`
	ReceiverID   int64           `json:"receiver_id,omitempty"`
	Body         string          `json:"message"`
	CreatedAt    time.Time       `json:"created_at"`

	SenderUsername   string `json:"sender_username"`
	SenderAvatar     string `json:"sender_avatar"`
	ReceiverUsername string `json:"receiver_username,omitempty"`
	ReceiverAvatar   string `json:"receiver_avatar,omitempty"`
}

// NewMessage is a validated, authorized write handed to the store.
type NewMessage struct {
	Conversation ConversationRef
	SenderID     int64
	ReceiverID   int64
	Body         string
}

type PrivateChat struct {
	ID        int64     `json:"chat_id"`
	User1ID   int64     `json:"user1_id"`
	User2ID   int64     `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Other returns the participant that is not userID.
func (c *PrivateChat) Other(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

type Group struct {
	ID          int64     `json:"group_id"`
	Name        string    `json:"group_name"`
	Description *string   `json:"group_description,omitempty"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Members     []int64   `json:"members,omitempty"`
}

// Membership is the result of a single group lookup for one user.
type Membership struct {
	GroupExists bool
	Member      bool
}

type Profile struct {
	ID        int64
	Username  string
	AvatarURL string
}

// PrivateChatSummary is one row of the caller's private chat list.
type PrivateChatSummary struct {
	ChatID          int64      `json:"chat_id"`
	OtherUserID     int64      `json:"other_user_id"`
	OtherUsername   string     `json:"other_user_name"`
	OtherAvatar     string     `json:"other_user_avatar"`
	LastMessage     *string    `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
}

// ---------------------------------------------
// ⚡ Push protocol
// ---------------------------------------------

const (
	FrameJoin  = "join"
	FrameLeave = "leave"

	EventJoined     = "joined"
	EventLeft       = "left"
	EventError      = "error"
	EventNewMessage = "new_message"
)

// Frame is what the browser SENDS over the socket.
type Frame struct {
	Type         string          `json:"type"`
	Conversation ConversationRef `json:"conversation"`
}

// Event is what the server pushes to a connection.
type Event struct {
	Type         string           `json:"type"`
	Conversation *ConversationRef `json:"conversation,omitempty"`
	Message      *Message         `json:"message,omitempty"`
	Error        *ErrorBody       `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
