package domain

import "time"

// Inbound and outbound frame types.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"

	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeError                 = "error"
	TypeCallJoined            = "call_joined"
	TypeCallEnded             = "call_ended"
	TypeConnectionEstablished = "connection_established"
	TypeNewMessage            = "new_message"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageAudio:
		return true
	}
	return false
}

// ChatMessage is a persisted group chat message.
type ChatMessage struct {
	ID               int64       `json:"id"`
	GroupID          GroupID     `json:"groupId"`
	UserID           UserID      `json:"userId"`
	Type             MessageType `json:"messageType"`
	Content          string      `json:"content"`
	FileURL          *string     `json:"fileUrl,omitempty"`
	FileName         *string     `json:"fileName,omitempty"`
	FileSize         *int64      `json:"fileSize,omitempty"`
	Duration         *int        `json:"duration,omitempty"`
	ReplyToMessageID *int64      `json:"replyToMessageId,omitempty"`
	IsEdited         bool        `json:"isEdited"`
	CreatedAt        time.Time   `json:"createdAt"`
}
