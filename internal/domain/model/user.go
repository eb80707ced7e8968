package model

// User is the authenticated Pushbullet account. It is replaced wholesale on
// every refresh — callers must not mutate a User returned from the cache.
type User struct {
	Iden     string `json:"iden"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Valid reports whether the user carries a usable identity. An empty Iden
// means "no authenticated user" — the zero value of User.
func (u User) Valid() bool { return u.Iden != "" }
