package models

import "time"

// Conversation is the single thread between one buyer and one farmer,
// optionally about a product.
type Conversation struct {
	ID        int64     `json:"id"`
	Buyer     User      `json:"buyer"`
	Farmer    User      `json:"farmer"`
	Product   *Product  `json:"product"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsParticipant reports whether the user is the buyer or the farmer.
func (c *Conversation) IsParticipant(userID int64) bool {
	return userID == c.Buyer.ID || userID == c.Farmer.ID
}

// OtherParticipant returns the farmer for the buyer and the buyer for the
// farmer. ok is false for anybody else.
func (c *Conversation) OtherParticipant(userID int64) (User, bool) {
	switch userID {
	case c.Buyer.ID:
		return c.Farmer, true
	case c.Farmer.ID:
		return c.Buyer, true
	}
	return User{}, false
}

// ProductKey is the uniqueness key component for the optional product.
func (c *Conversation) ProductKey() int64 {
	if c.Product == nil {
		return 0
	}
	return c.Product.ID
}

// ConversationSummary is one row of a participant's conversation list.
type ConversationSummary struct {
	Conversation     Conversation `json:"conversation"`
	OtherParticipant User         `json:"other_participant"`
	LastMessage      *Message     `json:"last_message"`
	UnreadCount      int          `json:"unread_count"`
}
