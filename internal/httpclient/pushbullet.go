package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bogorad/pb-agent-core/internal/agenterr"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
)

// API is the typed Pushbullet REST surface the rest of the agent depends on.
// It sits on top of the generic Client port so every call shares one
// circuit breaker and one classification policy.
type API struct {
	c Client
}

// NewAPI wraps a Client with the typed Pushbullet v2 surface.
func NewAPI(c Client) *API { return &API{c: c} }

type userResponse struct {
	Iden     string `json:"iden"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	ImageURL string `json:"image_url"`
}

func (a *API) Me(ctx context.Context) (model.User, error) {
	resp, err := a.c.Request(ctx, "GET", "/users/me", nil, nil)
	if err != nil {
		return model.User{}, err
	}
	var u userResponse
	if err := json.Unmarshal(resp.Body, &u); err != nil {
		return model.User{}, agenterr.Wrap(agenterr.KindInternal, "decode /users/me", err)
	}
	return model.User{Iden: u.Iden, Name: u.Name, Email: u.Email, ImageURL: u.ImageURL}, nil
}

type devicesResponse struct {
	Devices []model.Device `json:"devices"`
}

func (a *API) Devices(ctx context.Context) ([]model.Device, error) {
	resp, err := a.c.Request(ctx, "GET", "/devices", map[string]string{"active": "true"}, nil)
	if err != nil {
		return nil, err
	}
	var d devicesResponse
	if err := json.Unmarshal(resp.Body, &d); err != nil {
		return nil, agenterr.Wrap(agenterr.KindInternal, "decode /devices", err)
	}
	return d.Devices, nil
}

type chatsResponse struct {
	Chats []model.ChatContact `json:"chats"`
}

func (a *API) Chats(ctx context.Context) ([]model.ChatContact, error) {
	resp, err := a.c.Request(ctx, "GET", "/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	var c chatsResponse
	if err := json.Unmarshal(resp.Body, &c); err != nil {
		return nil, agenterr.Wrap(agenterr.KindInternal, "decode /chats", err)
	}
	return c.Chats, nil
}

// PushPage is one page of the /v2/pushes listing.
type PushPage struct {
	Pushes []model.Push `json:"pushes"`
	Cursor string       `json:"cursor,omitempty"`
}

// Pushes lists pushes modified after modifiedAfter (a cutoff watermark, 0 for
// "since the beginning"), honoring an opaque pagination cursor. Unlike
// /devices, /pushes has no active filter — pushes carry no active concept —
// so the query never adds one.
func (a *API) Pushes(ctx context.Context, modifiedAfter float64, cursor string, limit int) (*PushPage, error) {
	query := map[string]string{}
	if modifiedAfter > 0 {
		query["modified_after"] = strconv.FormatFloat(modifiedAfter, 'f', -1, 64)
	}
	if cursor != "" {
		query["cursor"] = cursor
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	resp, err := a.c.Request(ctx, "GET", "/pushes", query, nil)
	if err != nil {
		return nil, err
	}
	var page PushPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, agenterr.Wrap(agenterr.KindInternal, "decode /pushes", err)
	}
	return &page, nil
}

type createDeviceRequest struct {
	Nickname     string `json:"nickname"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	Type         string `json:"type"`
	Icon         string `json:"icon"`
	PushToken    string `json:"push_token"`
	HasSMS       bool   `json:"has_sms"`
	AppVersion   int    `json:"app_version"`
}

// RegisterDevice creates the agent's own device record (spec.md §6
// "Device registration"). The returned Device's Iden becomes the agent's
// persisted device identity. The field values are fixed to the exact
// compatibility-critical literals spec.md §6 specifies — the wire protocol
// is a constraint, not a design choice.
func (a *API) RegisterDevice(ctx context.Context, nickname string) (model.Device, error) {
	req := createDeviceRequest{
		Nickname:     nickname,
		Model:        "Chrome",
		Manufacturer: "Google",
		Type:         "chrome",
		Icon:         "browser",
		PushToken:    "",
		HasSMS:       false,
		AppVersion:   1,
	}
	resp, err := a.c.Request(ctx, "POST", "/devices", nil, req)
	if err != nil {
		return model.Device{}, err
	}
	if resp.Status >= 400 {
		return model.Device{}, agenterr.New(agenterr.KindRegistrationFailure, fmt.Sprintf("register device: status %d", resp.Status))
	}
	var d model.Device
	if err := json.Unmarshal(resp.Body, &d); err != nil {
		return model.Device{}, agenterr.Wrap(agenterr.KindInternal, "decode created device", err)
	}
	return d, nil
}

type updateNicknameRequest struct {
	Nickname string `json:"nickname"`
}

// UpdateDeviceNickname renames an existing device record via
// POST /devices/<iden>.
func (a *API) UpdateDeviceNickname(ctx context.Context, iden, nickname string) error {
	resp, err := a.c.Request(ctx, "POST", "/devices/"+iden, nil, updateNicknameRequest{Nickname: nickname})
	if err != nil {
		return err
	}
	if resp.Status >= 400 {
		return agenterr.New(agenterr.KindRegistrationFailure, fmt.Sprintf("update nickname: status %d", resp.Status))
	}
	return nil
}

// DeleteDevice removes a stale device record (spec.md §6 "drop and recreate
// on rejection").
func (a *API) DeleteDevice(ctx context.Context, iden string) error {
	resp, err := a.c.Request(ctx, "DELETE", "/devices/"+iden, nil, nil)
	if err != nil {
		return err
	}
	if resp.Status >= 400 && resp.Status != 404 {
		return agenterr.New(agenterr.KindRegistrationFailure, fmt.Sprintf("delete device: status %d", resp.Status))
	}
	return nil
}
