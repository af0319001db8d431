// Package client talks to the chat service over REST and websockets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"market-chat/internal/apperr"
	"market-chat/internal/models"
	"market-chat/internal/observability"
)

// Client is an authenticated REST client for one user.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if id := observability.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(observability.RequestIDHeader, id)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperr.Unavailable("chat service unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Unavailable("read response", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Internal("decode response", err)
	}
	return nil
}

// decodeError rebuilds the server's error so callers can match on apperr codes.
func decodeError(status int, body []byte) error {
	var errResp struct {
		Error string     `json:"error"`
		Code  apperr.Code `json:"code"`
	}
	_ = json.Unmarshal(body, &errResp)
	if errResp.Error == "" {
		errResp.Error = http.StatusText(status)
	}
	if errResp.Code == "" {
		switch {
		case status == http.StatusUnauthorized:
			errResp.Code = apperr.CodeUnauthorized
		case status == http.StatusNotFound:
			errResp.Code = apperr.CodeNotFound
		case status >= 500:
			errResp.Code = apperr.CodeUnavailable
		default:
			errResp.Code = apperr.CodeInvalidArgument
		}
	}
	return apperr.New(errResp.Code, fmt.Sprintf("%s (HTTP %d)", errResp.Error, status))
}

// StartConversation returns the direct conversation with userID.
func (c *Client) StartConversation(ctx context.Context, userID string) (string, error) {
	var resp struct {
		ConversationID string `json:"conversation_id"`
	}
	err := c.do(ctx, http.MethodPost, "/conversations", map[string]string{"user_id": userID}, &resp)
	return resp.ConversationID, err
}

func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp)
	return resp.Conversations, err
}

func (c *Client) Conversation(ctx context.Context, conversationID string) (models.ConversationSummary, error) {
	var resp models.ConversationSummary
	err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID), nil, &resp)
	return resp, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, page models.PageRequest) (models.MessagePage, error) {
	q := url.Values{}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	if page.Cursor != "" {
		q.Set("cursor", page.Cursor)
	}
	if page.Desc {
		q.Set("order", "desc")
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp models.MessagePage
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// Send posts a message. Resending with the same clientMessageID is safe.
func (c *Client) Send(ctx context.Context, conversationID, content, clientMessageID string) (models.Message, error) {
	var msg models.Message
	body := map[string]string{"content": content, "client_message_id": clientMessageID}
	err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", body, &msg)
	return msg, err
}

// MarkRead marks the conversation read as of the server's clock.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (time.Time, error) {
	var resp struct {
		LastReadAt time.Time `json:"last_read_at"`
	}
	err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, &resp)
	return resp.LastReadAt, err
}

func (c *Client) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	var resp struct {
		Unread int `json:"unread"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/unread", nil, &resp)
	return resp.Unread, err
}

func (c *Client) TotalUnread(ctx context.Context) (int, error) {
	var resp struct {
		Unread int `json:"unread"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations/unread", nil, &resp)
	return resp.Unread, err
}

func (c *Client) Leave(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID)+"/me", nil, nil)
}
