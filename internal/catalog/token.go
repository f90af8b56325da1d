package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tokenEntry caches one client-credentials access token.
type tokenEntry struct {
	accessToken string
	expiresAt   time.Time
}

// TokenCache fetches and caches bearer tokens from the client-credentials
// token endpoint, keyed by client_id, refreshing 30s before expiry.
type TokenCache struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu     sync.Mutex
	tokens map[string]tokenEntry
}

// NewTokenCache creates a token cache for the given token endpoint base URL.
func NewTokenCache(baseURL, clientID, clientSecret string) *TokenCache {
	return &TokenCache{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		tokens:       make(map[string]tokenEntry),
	}
}

// Token returns a valid access token, fetching or refreshing as needed.
// force bypasses the cache (used after a 401 from the catalog endpoint).
func (t *TokenCache) Token(force bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !force {
		if e, ok := t.tokens[t.clientID]; ok && time.Now().Before(e.expiresAt.Add(-30*time.Second)) {
			return e.accessToken, nil
		}
	}

	form := url.Values{}
	form.Set("client_id", t.clientID)
	form.Set("client_secret", t.clientSecret)

	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/api/devices/connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var body struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	expiresIn, err := strconv.Atoi(body.ExpiresIn.String())
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	entry := tokenEntry{
		accessToken: body.AccessToken,
		expiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
	t.tokens[t.clientID] = entry

	return entry.accessToken, nil
}
