package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaishnavt2002/meetcore/internal/domain"
)

var (
	ErrAuthRejected = errors.New("meeting: auth check rejected")
	ErrBadToken     = errors.New("meeting: malformed auth token")
)

// identityClaims are the profile fields the auth service embeds in its
// token. The client only reads them for identity; signature verification is
// the relay's job.
type identityClaims struct {
	Name     string `json:"name"`
	UserType string `json:"user_type"`
	jwt.RegisteredClaims
}

// ProfileClient talks to the auth/profile collaborator: it provides the
// pre-dial liveness check the transport runs, the local participant's
// identity, and the interview metadata shown in the UI.
type ProfileClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewProfileClient(baseURL, token string) *ProfileClient {
	return &ProfileClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify is the out-of-band auth/liveness probe run before every socket
// dial, so the relay never rejects the websocket handshake for a token the
// auth service would not accept.
func (c *ProfileClient) Verify(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users/me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}
	return nil
}

// Participant decodes the local identity from the token claims.
func (c *ProfileClient) Participant() (domain.Participant, error) {
	var claims identityClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, &claims); err != nil {
		return domain.Participant{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if claims.Subject == "" {
		return domain.Participant{}, fmt.Errorf("%w: missing sub", ErrBadToken)
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	p, err := domain.NewParticipant(domain.ParticipantID(claims.Subject), name, domain.ParticipantKind(claims.UserType))
	if err != nil {
		return domain.Participant{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return p, nil
}

// JobTitle looks up the interview's job title. Display only; failures are
// not meeting failures.
func (c *ProfileClient) JobTitle(ctx context.Context, meetingID domain.MeetingID) (string, error) {
	url := fmt.Sprintf("%s/api/interviews/%s", c.baseURL, meetingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("interview lookup: status %d", resp.StatusCode)
	}
	var body struct {
		JobTitle string `json:"jobTitle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.JobTitle, nil
}
