package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
	"roomnet/pkg/circuitbreaker"
	"roomnet/pkg/retry"

	"go.uber.org/zap"
)

// Client talks to the meeting server's REST API. Transient failures (network
// errors, 5xx) are retried with backoff behind a circuit breaker; definitive
// answers like 404 pass through untouched so callers can map them to domain
// sentinels.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.SugaredLogger
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
}

var _ ports.MembershipClient = (*Client)(nil)

func New(baseURL, token string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		retry:   retry.DefaultConfig(),
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

type meetingDTO struct {
	ID            string    `json:"id"`
	HostID        string    `json:"host_id"`
	InviteeID     string    `json:"invitee_id,omitempty"`
	Status        string    `json:"status"`
	KnockingUsers []string  `json:"knocking_users,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (d meetingDTO) meeting() *domain.Meeting {
	m := &domain.Meeting{
		ID:        domain.MeetingID(d.ID),
		HostID:    domain.PeerID(d.HostID),
		InviteeID: domain.PeerID(d.InviteeID),
		Status:    domain.AdmissionStatus(d.Status),
		CreatedAt: d.CreatedAt,
	}
	for _, u := range d.KnockingUsers {
		m.KnockingUsers = append(m.KnockingUsers, domain.PeerID(u))
	}
	return m
}

func (c *Client) GetMeeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/meetings/%s", id), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		var dto meetingDTO
		if err := json.Unmarshal(body, &dto); err != nil {
			return nil, fmt.Errorf("decode meeting: %w", err)
		}
		return dto.meeting(), nil
	case http.StatusNotFound:
		return nil, domain.ErrMeetingNotFound
	default:
		return nil, fmt.Errorf("get meeting: unexpected status %d", status)
	}
}

func (c *Client) Knock(ctx context.Context, id domain.MeetingID, user domain.PeerID) error {
	payload := map[string]string{"user_id": string(user)}
	_, status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/meetings/%s/knock", id), payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return domain.ErrMeetingNotFound
	default:
		return fmt.Errorf("knock: unexpected status %d", status)
	}
}

func (c *Client) Respond(ctx context.Context, id domain.MeetingID, user domain.PeerID, action domain.RespondAction) error {
	payload := map[string]string{"user_id": string(user), "action": string(action)}
	_, status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/meetings/%s/respond", id), payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return domain.ErrMeetingNotFound
	case http.StatusConflict:
		return domain.ErrNotKnocking
	default:
		return fmt.Errorf("respond: unexpected status %d", status)
	}
}

func (c *Client) Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error) {
	body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/meetings/%s/participants", id), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		var infos []domain.ParticipantInfo
		if err := json.Unmarshal(body, &infos); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
		out := make([]domain.Participant, 0, len(infos))
		for _, info := range infos {
			out = append(out, info.Participant())
		}
		return out, nil
	case http.StatusNotFound:
		return nil, domain.ErrMeetingNotFound
	default:
		return nil, fmt.Errorf("participants: unexpected status %d", status)
	}
}

func (c *Client) JoinMeeting(ctx context.Context, id domain.MeetingID, p domain.Participant) error {
	_, status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/meetings/%s/join", id), domain.InfoOf(p))
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("join meeting: unexpected status %d", status)
	}
	return nil
}

func (c *Client) LeaveMeeting(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error {
	payload := map[string]string{"user_id": string(peer)}
	_, status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/meetings/%s/leave", id), payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("leave meeting: unexpected status %d", status)
	}
	return nil
}

func (c *Client) Invite(ctx context.Context, recipient domain.PeerID) (domain.MeetingID, error) {
	payload := map[string]string{"recipient_id": string(recipient)}
	body, status, err := c.do(ctx, http.MethodPost, "/api/v1/invite-room", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("invite: unexpected status %d", status)
	}
	var resp struct {
		MeetingID string `json:"meeting_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode invite response: %w", err)
	}
	return domain.MeetingID(resp.MeetingID), nil
}

func (c *Client) Profile(ctx context.Context, peer domain.PeerID) (*domain.Participant, error) {
	body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/users/%s/info", peer), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		var info domain.ParticipantInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		p := info.Participant()
		return &p, nil
	case http.StatusNotFound:
		return nil, domain.ErrPeerNotFound
	default:
		return nil, fmt.Errorf("profile: unexpected status %d", status)
	}
}

type httpResult struct {
	body   []byte
	status int
}

// do performs one logical request. Network errors and 5xx responses are
// retried; any other status is returned to the caller for mapping.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
	}

	res, err := retry.RetryWithResult(ctx, c.retry, func() (httpResult, error) {
		out, err := c.breaker.ExecuteWithResult(ctx, func() (interface{}, error) {
			return c.roundTrip(ctx, method, path, reqBody)
		})
		if err != nil {
			return httpResult{}, err
		}
		return out.(httpResult), nil
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Warnw("membership request failed",
				"method", method,
				"path", path,
				"error", err,
			)
		}
		return nil, 0, err
	}
	return res.body, res.status, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) (httpResult, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return httpResult{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return httpResult{}, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return httpResult{}, fmt.Errorf("server error %d from %s", resp.StatusCode, path)
	}
	return httpResult{body: data, status: resp.StatusCode}, nil
}
