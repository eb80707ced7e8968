package model

import "encoding/json"

// PushType discriminates the variants of Push. Pushbullet's wire format is a
// flat JSON object with a "type" discriminator and per-variant optional
// fields; Push mirrors that shape directly rather than introducing a Go sum
// type, since the decoder has to round-trip the exact server envelope
// (spec.md §3 invariant 7: every push preserves its original envelope).
type PushType string

const (
	PushTypeNote       PushType = "note"
	PushTypeLink       PushType = "link"
	PushTypeFile       PushType = "file"
	PushTypeMirror     PushType = "mirror"
	PushTypeSMSChanged PushType = "sms_changed"
	PushTypeDismissal  PushType = "dismissal"
)

// MirrorNotification is one entry of a mirror push's Notifications slice.
type MirrorNotification struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Push is the envelope for a single Pushbullet push, encrypted or not.
//
// When Encrypted is true, Ciphertext carries the base64 envelope from
// spec.md §6 and every other content field is the zero value until a
// successful decrypt fills PlaintextView (a layered copy, never mutating
// the original envelope — invariant 7).
type Push struct {
	Iden              string   `json:"iden"`
	Type              PushType `json:"type"`
	Title             string   `json:"title,omitempty"`
	Body              string   `json:"body,omitempty"`
	URL               string   `json:"url,omitempty"`
	FileName          string   `json:"file_name,omitempty"`
	FileType          string   `json:"file_type,omitempty"`
	FileURL           string   `json:"file_url,omitempty"`
	ApplicationName   string   `json:"application_name,omitempty"`
	PackageName       string   `json:"package_name,omitempty"`

	Notifications []MirrorNotification `json:"notifications,omitempty"`

	Created           float64 `json:"created"`
	Modified          float64 `json:"modified"`
	Dismissed         bool    `json:"dismissed"`
	TargetDeviceIden  string  `json:"target_device_iden,omitempty"`
	SourceDeviceIden  string  `json:"source_device_iden,omitempty"`

	Encrypted  bool   `json:"encrypted"`
	Ciphertext string `json:"ciphertext,omitempty"`

	// PlaintextView holds the decrypted, merged content when Encrypted was
	// true and decryption succeeded. The raw Ciphertext/Encrypted fields
	// are left untouched so the original envelope survives (invariant 7);
	// consumers read PlaintextView when non-nil, the envelope otherwise.
	PlaintextView *PlaintextPush `json:"-"`
}

// PlaintextPush is the merged view produced by a successful decrypt: the
// decrypted JSON fields layered over the encrypted envelope's metadata,
// with Encrypted forced false per spec.md §6.
type PlaintextPush struct {
	Iden      string   `json:"-"`
	Type      PushType `json:"type"`
	Title     string   `json:"title,omitempty"`
	Body      string   `json:"body,omitempty"`
	URL       string   `json:"url,omitempty"`
	Encrypted bool     `json:"encrypted"`
}

// Renderable reports whether a push variant carries content worth showing
// to the user. Pipeline-1 and Pipeline-2 both drop non-renderable variants.
func (p Push) Renderable() bool {
	switch p.Type {
	case PushTypeNote, PushTypeLink, PushTypeFile, PushTypeMirror:
		return true
	default:
		return false
	}
}

// DecryptInto layers a successful decrypt's plaintext JSON onto the push as
// PlaintextView, forcing Encrypted=false on the view per spec.md §6, while
// leaving the original envelope (p.Encrypted, p.Ciphertext) untouched so
// invariant 7 holds even after this call.
func (p *Push) DecryptInto(plaintext []byte) error {
	var view PlaintextPush
	if err := json.Unmarshal(plaintext, &view); err != nil {
		return err
	}
	view.Iden = p.Iden
	view.Encrypted = false
	p.PlaintextView = &view
	return nil
}

// Display returns the fields a UI should render: the plaintext view when
// decryption succeeded, the raw envelope fields otherwise.
func (p Push) Display() (pushType PushType, title, body, url string, encrypted bool) {
	if p.PlaintextView != nil {
		v := p.PlaintextView
		return v.Type, v.Title, v.Body, v.URL, v.Encrypted
	}
	return p.Type, p.Title, p.Body, p.URL, p.Encrypted
}
