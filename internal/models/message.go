package models

import "time"

// Message is one entry of a conversation. Only IsRead ever changes after insert.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
	IsRead         bool      `json:"is_read"`
	IsAutomated    bool      `json:"is_automated"`
}

func (m *Message) IsFromBuyer(conv *Conversation) bool {
	return conv != nil && m.SenderID == conv.Buyer.ID
}
