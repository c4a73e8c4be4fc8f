// Package client implements the client half of the chat subsystem: the
// connection manager for the push channel, the delivery reconciler that
// merges pushed events with polled snapshots, the per-conversation session
// controller, and the ephemeral presence and typing trackers.
//
// Durable state always flows through the REST store; the push channel only
// accelerates delivery and carries ephemeral events. Nothing is lost when
// the channel is down, it just arrives at poll cadence instead.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ezifydevelopers/trainingportal-chat/internal/models"
)

// StoreClient is a typed REST client for the Room & Message Store.
type StoreClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewStoreClient creates a store client with the given bearer credential.
func NewStoreClient(baseURL, token string) *StoreClient {
	return &StoreClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request and maps error statuses onto the
// client error taxonomy.
func (c *StoreClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, ErrUnauthorized
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", ErrForbidden, errResp.Error)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
		default:
			return nil, fmt.Errorf("chat: store error %d: %s", resp.StatusCode, errResp.Error)
		}
	}

	return respBody, nil
}

// roomListResponse mirrors the server's room list payload.
type roomListResponse struct {
	Rooms []models.ChatRoom `json:"rooms"`
}

// Rooms fetches the caller's active rooms, most recent first.
func (c *StoreClient) Rooms(ctx context.Context) ([]models.ChatRoom, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/chat/rooms", nil)
	if err != nil {
		return nil, err
	}
	var resp roomListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

type roomMessagesResponse struct {
	RoomID   int64                `json:"room_id"`
	Messages []models.ChatMessage `json:"messages"`
}

// RoomMessages fetches a room's full ordered history, the authoritative
// baseline for the reconciler.
func (c *StoreClient) RoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/chat/rooms/%d/messages", roomID), nil)
	if err != nil {
		return nil, err
	}
	var resp roomMessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

type sendMessageRequest struct {
	RoomID    int64  `json:"roomId"`
	Content   string `json:"content"`
	ReplyToID *int64 `json:"replyToId,omitempty"`
}

// SendMessage performs the durable write for a new message and returns the
// store's copy with its assigned id and timestamp.
func (c *StoreClient) SendMessage(ctx context.Context, roomID int64, content string, replyToID *int64) (*models.ChatMessage, error) {
	payload, err := json.Marshal(sendMessageRequest{RoomID: roomID, Content: content, ReplyToID: replyToID})
	if err != nil {
		return nil, err
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/chat/send", payload)
	if err != nil {
		return nil, err
	}
	var msg models.ChatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DirectRoom finds or creates the direct room with another user.
func (c *StoreClient) DirectRoom(ctx context.Context, userID int64) (*models.ChatRoom, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/chat/direct/%d", userID), nil)
	if err != nil {
		return nil, err
	}
	var room models.ChatRoom
	if err := json.Unmarshal(body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

type userListResponse struct {
	Users []DirectoryUser `json:"users"`
}

// DirectoryUser is a chat target with advisory presence.
type DirectoryUser struct {
	models.User
	Online bool `json:"online"`
}

// Users fetches the directory of eligible chat targets.
func (c *StoreClient) Users(ctx context.Context) ([]DirectoryUser, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/chat/users", nil)
	if err != nil {
		return nil, err
	}
	var resp userListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// UnreadCount fetches the caller's total unread count.
func (c *StoreClient) UnreadCount(ctx context.Context) (int, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/chat/unread-count", nil)
	if err != nil {
		return 0, err
	}
	var resp unreadCountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

type markReadResponse struct {
	UnreadCount int `json:"unread_count"`
}

// MarkRoomRead resets the room's unread contribution and returns the
// remaining total.
func (c *StoreClient) MarkRoomRead(ctx context.Context, roomID int64) (int, error) {
	body, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/chat/rooms/%d/read", roomID), nil)
	if err != nil {
		return 0, err
	}
	var resp markReadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

type deleteMultipleRequest struct {
	MessageIDs []int64 `json:"messageIds"`
}

// DeleteMessages removes the caller's own messages; one id uses the single
// endpoint, several the bulk endpoint. The store applies all-or-nothing.
func (c *StoreClient) DeleteMessages(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) == 1 {
		_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/chat/messages/%d", ids[0]), nil)
		return err
	}
	payload, err := json.Marshal(deleteMultipleRequest{MessageIDs: ids})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/chat/messages/delete-multiple", payload)
	return err
}

// DeleteRoom removes a room and everything in it.
func (c *StoreClient) DeleteRoom(ctx context.Context, roomID int64) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/chat/rooms/%d", roomID), nil)
	return err
}
