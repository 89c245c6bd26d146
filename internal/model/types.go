package model

import "encoding/json"

// UpdateType discriminates long-poll / callback updates
type UpdateType string

const (
	UpdateMessageNew   UpdateType = "message_new"
	UpdateMessageReply UpdateType = "message_reply"
	UpdateMessageEdit  UpdateType = "message_edit"
)

// AttachmentType represents the kind of a message attachment
type AttachmentType string

const (
	AttachmentPhoto   AttachmentType = "photo"
	AttachmentVideo   AttachmentType = "video"
	AttachmentAudio   AttachmentType = "audio"
	AttachmentDoc     AttachmentType = "doc"
	AttachmentSticker AttachmentType = "sticker"
	AttachmentWall    AttachmentType = "wall"
	AttachmentGift    AttachmentType = "gift"
)

// Update is one raw long-poll / callback event envelope.
// Object stays opaque until a view decodes it.
type Update struct {
	Type   UpdateType      `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Sticker is the sticker sub-object of an attachment
type Sticker struct {
	ProductID int `json:"product_id"`
	StickerID int `json:"sticker_id"`
}

// Attachment carries one attached object; only the sub-object matching
// Type is populated
type Attachment struct {
	Type    AttachmentType `json:"type"`
	Sticker *Sticker       `json:"sticker,omitempty"`
}

// Geo is an attached location
type Geo struct {
	Type        string `json:"type"`
	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
}

// ChatAction represents a service action inside a chat (invite, kick, ...)
type ChatAction struct {
	Type     string `json:"type"`
	MemberID int64  `json:"member_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Message is the inbound message payload. Fields mirror the platform wire
// format; the struct is never mutated after decoding — dispatch-time
// annotations (state peer, extracted match data) live on the dispatch
// context instead.
type Message struct {
	ID          int64        `json:"id"`
	PeerID      int64        `json:"peer_id"`
	FromID      int64        `json:"from_id"`
	Text        string       `json:"text"`
	Payload     string       `json:"payload,omitempty"` // keyboard payload, JSON-encoded
	Attachments []Attachment `json:"attachments,omitempty"`
	FwdMessages []Message    `json:"fwd_messages,omitempty"`
	ReplyTo     *Message     `json:"reply_message,omitempty"`
	Geo         *Geo         `json:"geo,omitempty"`
	Action      *ChatAction  `json:"action,omitempty"`
	RandomID    int64        `json:"random_id,omitempty"`
	Date        int64        `json:"date,omitempty"`
}

// IsChat reports whether the message came from a multi-party conversation.
// Chat peers live above the 2e9 offset, so peer != sender iff it is a chat.
func (m *Message) IsChat() bool {
	return m.PeerID != m.FromID
}

// MessageNewObject is the message_new object wrapper used by the Bots API
type MessageNewObject struct {
	Message    Message         `json:"message"`
	ClientInfo json.RawMessage `json:"client_info,omitempty"`
}

// LongPollServer is a long-poll session descriptor
type LongPollServer struct {
	Server string `json:"server"`
	Key    string `json:"key"`
	TS     string `json:"ts"`
}

// LongPollResponse is one a_check response. Failed is zero on success:
// 1 means the cursor is stale (take TS from the response), 2 and 3 mean
// the session key expired and a new server must be acquired.
type LongPollResponse struct {
	TS      string   `json:"ts"`
	Updates []Update `json:"updates"`
	Failed  int      `json:"failed"`
}
