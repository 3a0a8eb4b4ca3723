package rewardlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Rewardline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Group represents the API task group model (partial).
type Group struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	RegistrationOpensAt  string `json:"registration_opens_at"`
	RegistrationDeadline string `json:"registration_deadline"`
	Capacity             int    `json:"capacity"`
	DistributionMode     string `json:"distribution_mode"`
	TotalReward          string `json:"total_reward"`
	Currency             string `json:"currency"`
	CreatorID            string `json:"creator_id"`
}

// Slot represents one claimable seat in a group.
type Slot struct {
	ID               string  `json:"id"`
	GroupID          string  `json:"group_id"`
	ClaimerID        *string `json:"claimer_id,omitempty"`
	ClaimerName      *string `json:"claimer_name,omitempty"`
	Reward           string  `json:"reward"`
	Currency         string  `json:"currency"`
	ParticipantIndex int     `json:"participant_index"`
	Status           string  `json:"status"`
	RejectReason     *string `json:"reject_reason,omitempty"`
	RejectOption     *string `json:"reject_option,omitempty"`
	TransferredAt    *string `json:"transferred_at,omitempty"`
}

// TimelineEntry is one row of a slot's history.
type TimelineEntry struct {
	Seq       int     `json:"seq"`
	Status    string  `json:"status"`
	ActorID   *string `json:"actor_id,omitempty"`
	ActorName *string `json:"actor_name,omitempty"`
	Action    *string `json:"action,omitempty"`
	Reason    *string `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// GroupWithSlots is the create-group response.
type GroupWithSlots struct {
	Group Group  `json:"group"`
	Slots []Slot `json:"slots"`
}

// ProofPayload is the evidence submitted for a slot. Photos carry references
// only (url plus optional sha-256 hash).
type ProofPayload struct {
	Photos      []ProofFile `json:"photos,omitempty"`
	GPS         *GPSPoint   `json:"gps,omitempty"`
	Description string      `json:"description,omitempty"`
}

type ProofFile struct {
	URL  string `json:"url"`
	Hash string `json:"hash,omitempty"`
}

type GPSPoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateGroup creates a task group with its slots.
func (c *Client) CreateGroup(ctx context.Context, body map[string]any) (GroupWithSlots, error) {
	var resp GroupWithSlots
	err := c.do(ctx, http.MethodPost, "v0/groups", body, &resp)
	return resp, err
}

// ListGroups returns all groups.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var resp []Group
	err := c.do(ctx, http.MethodGet, "v0/groups", nil, &resp)
	return resp, err
}

// GetGroup fetches one group.
func (c *Client) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var resp Group
	err := c.do(ctx, http.MethodGet, "v0/groups/"+url.PathEscape(groupID), nil, &resp)
	return resp, err
}

// GroupSlots lists a group's slots ordered by participant index.
func (c *Client) GroupSlots(ctx context.Context, groupID string) ([]Slot, error) {
	var resp []Slot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/groups/%s/slots", url.PathEscape(groupID)), nil, &resp)
	return resp, err
}

// Claim claims the lowest free slot in a group for the authenticated actor.
func (c *Client) Claim(ctx context.Context, groupID string) (Slot, error) {
	var resp Slot
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/groups/%s/claim", url.PathEscape(groupID)), map[string]any{}, &resp)
	return resp, err
}

// SubmitProof submits evidence for a claimed slot.
func (c *Client) SubmitProof(ctx context.Context, slotID string, payload ProofPayload) (Slot, error) {
	var resp Slot
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/slots/%s/submit", url.PathEscape(slotID)), payload, &resp)
	return resp, err
}

// Approve approves a submitted slot; comment is optional.
func (c *Client) Approve(ctx context.Context, slotID, comment string) (Slot, error) {
	var resp Slot
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/slots/%s/approve", url.PathEscape(slotID)), map[string]any{"comment": comment}, &resp)
	return resp, err
}

// Reject turns down a submitted slot with one of: resubmit, reclaim, rejected.
func (c *Client) Reject(ctx context.Context, slotID, reason, option string) (Slot, error) {
	var resp Slot
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/slots/%s/reject", url.PathEscape(slotID)), map[string]any{
		"reason": reason,
		"option": option,
	}, &resp)
	return resp, err
}

// AcknowledgeTransfer sets or clears the reward-transferred marker.
func (c *Client) AcknowledgeTransfer(ctx context.Context, slotID string, acknowledged bool) (Slot, error) {
	var resp Slot
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/slots/%s/transfer-ack", url.PathEscape(slotID)), map[string]any{
		"acknowledged": acknowledged,
	}, &resp)
	return resp, err
}

// GetSlot fetches one slot.
func (c *Client) GetSlot(ctx context.Context, slotID string) (Slot, error) {
	var resp Slot
	err := c.do(ctx, http.MethodGet, "v0/slots/"+url.PathEscape(slotID), nil, &resp)
	return resp, err
}

// Timeline returns a slot's history, oldest first.
func (c *Client) Timeline(ctx context.Context, slotID string) ([]TimelineEntry, error) {
	var resp []TimelineEntry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/slots/%s/timeline", url.PathEscape(slotID)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
