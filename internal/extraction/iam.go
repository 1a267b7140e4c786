package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	defaultIAMURL = "https://iam.api.cloud.yandex.net/iam/v1/tokens"
	iamTokenTTL   = 11 * time.Hour
)

// iamClient exchanges a Yandex OAuth token for short-lived IAM tokens and caches them
type iamClient struct {
	url    string
	oauth  string
	httpc  *http.Client
	now    func() time.Time
	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newIAMClient(url, oauth string) *iamClient {
	if url == "" {
		url = defaultIAMURL
	}
	return &iamClient{
		url:   url,
		oauth: oauth,
		httpc: &http.Client{Timeout: 20 * time.Second},
		now:   time.Now,
	}
}

// Token returns a cached IAM token, refreshing it a minute before expiry
func (c *iamClient) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry.Add(-time.Minute)) {
		return c.token, nil
	}

	b, err := json.Marshal(map[string]string{"yandexPassportOauthToken": c.oauth})
	if err != nil {
		return "", fmt.Errorf("marshaling iam request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("creating iam request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling iam API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("iam API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out struct {
		IamToken string `json:"iamToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding iam response: %w", err)
	}
	if out.IamToken == "" {
		return "", fmt.Errorf("iam API returned an empty token")
	}

	c.token = out.IamToken
	c.expiry = c.now().Add(iamTokenTTL)
	return c.token, nil
}

// invalidate drops the cached token so the next call fetches a fresh one
func (c *iamClient) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}
