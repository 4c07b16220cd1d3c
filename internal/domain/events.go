package domain

import "encoding/json"

// Live-connection event names.
const (
	EventJoin                 = "join"
	EventUserOnline           = "userOnline"
	EventSendMessage          = "sendMessage"
	EventMarkMessagesAsRead   = "markMessagesAsRead"
	EventNewMessage           = "newMessage"
	EventMessageSent          = "messageSent"
	EventMessagesMarkedAsRead = "messagesMarkedAsRead"
	EventUserStatusUpdate     = "userStatusUpdate"
	EventMessageError         = "messageError"
)

// Envelope is one outbound frame on a live connection.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// InboundEvent is one frame received from a client; Data is decoded per Type.
type InboundEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type SendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type MarkReadPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// ReadReceipt tells the original sender that ReceiverID read SenderID's messages.
type ReadReceipt struct {
	SenderID   int64 `json:"senderId,string"`
	ReceiverID int64 `json:"receiverId,string"`
}

type StatusUpdate struct {
	UserID   int64 `json:"userId,string"`
	IsOnline bool  `json:"isOnline"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
