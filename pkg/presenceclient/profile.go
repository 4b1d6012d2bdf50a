package presenceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPProfileChecker reads the user's profile-completeness from the backend
// via GET /user/me. A profile is complete when both the verification photo
// and the intro video are on record.
type HTTPProfileChecker struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPProfileChecker creates a checker for the given API base URL and
// bearer session token. A nil client falls back to http.DefaultClient;
// callers bound the fetch through the request context.
func NewHTTPProfileChecker(baseURL, sessionToken string, client *http.Client) *HTTPProfileChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProfileChecker{baseURL: baseURL, token: sessionToken, client: client}
}

// ProfileComplete implements ProfileChecker.
func (p *HTTPProfileChecker) ProfileComplete(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/user/me", nil)
	if err != nil {
		return false, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("profile fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("profile fetch returned status %d", resp.StatusCode)
	}

	var user struct {
		SelfieURL string `json:"selfieUrl"`
		VideoURL  string `json:"videoUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return false, fmt.Errorf("failed to decode profile response: %w", err)
	}
	return user.SelfieURL != "" && user.VideoURL != "", nil
}
