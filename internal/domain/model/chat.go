package model

// ChatContact is an optional Pushbullet chat participant.
type ChatContact struct {
	Iden string      `json:"iden"`
	With ChatAddress `json:"with"`
}

// ChatAddress identifies the other side of a chat contact.
type ChatAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
