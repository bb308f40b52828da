// Package syncclient is a typed client for the remote sandbox's fixed
// REST surface (spec §6.2): health, file/script listing and content,
// and metadata upload, each with its own timeout and error
// classification.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibefoundry/vibefoundry-bridge/internal/apierr"
	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
)

// ScriptEntry is one row of the remote's GET /scripts listing.
type ScriptEntry struct {
	Path     string `json:"path"`
	Modified int64  `json:"modified"`
}

// Client talks to one remote sandbox base URL.
type Client struct {
	httpClient *http.Client
	policy     *policy.Classifier
}

// New returns a Client. The caller supplies a policy classifier so
// put_file can reject forbidden-for-sync paths before making the call,
// per spec §4.4.
func New(p *policy.Classifier) *Client {
	return &Client{
		httpClient: &http.Client{},
		policy:     p,
	}
}

const (
	connectTimeout = 5 * time.Second
	dataTimeout    = 30 * time.Second
	healthTimeout  = 5 * time.Second
)

// doWithRetry applies the bounded-retry policy for transient unreachable
// errors: 3 attempts with jittered backoff starting at 200ms, doubling
// up to 1s.
func (c *Client) doWithRetry(ctx context.Context, req func(ctx context.Context) error) error {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			time.Sleep(backoff/2 + jitter/2)
			if backoff < time.Second {
				backoff *= 2
			}
		}
		err := req(ctx)
		if err == nil {
			return nil
		}
		apiErr := apierr.AsAPIError(err)
		if apiErr.Kind != apierr.KindRemoteUnreachable {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func classifyHTTPError(resp *http.Response, err error) *apierr.Error {
	if err != nil {
		if strings.Contains(err.Error(), "context deadline exceeded") || strings.Contains(err.Error(), "Client.Timeout") {
			return apierr.Wrap(apierr.KindRemoteTimeout, "remote request timed out", err)
		}
		return apierr.Wrap(apierr.KindRemoteUnreachable, "remote unreachable", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apierr.New(apierr.KindRemoteError, "remote rejected request: "+resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return apierr.New(apierr.KindNotFound, "remote path not found")
	case resp.StatusCode == http.StatusConflict:
		return apierr.New(apierr.KindConflict, "remote conflict")
	case resp.StatusCode >= 500:
		return apierr.New(apierr.KindRemoteUnreachable, "remote server error: "+resp.Status)
	case resp.StatusCode >= 400:
		return apierr.New(apierr.KindRemoteError, "remote error: "+resp.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, baseURL, path string, timeout time.Duration, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "building request", err)
	}
	resp, err := c.httpClient.Do(req)
	if apiErr := classifyHTTPError(resp, err); apiErr != nil {
		return apiErr
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, baseURL, path string, timeout time.Duration, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "encoding request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if apiErr := classifyHTTPError(resp, err); apiErr != nil {
		return apiErr
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health reports whether the remote answers GET /health within the
// 5-second health-check deadline.
func (c *Client) Health(ctx context.Context, baseURL string) bool {
	var result struct {
		Status string `json:"status"`
	}
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.get(ctx, baseURL, "/health", healthTimeout, &result)
	})
	return err == nil && result.Status == "ok"
}

// ListAll returns the remote's full file tree (GET /files).
func (c *Client) ListAll(ctx context.Context, baseURL string) (json.RawMessage, error) {
	var result struct {
		Tree json.RawMessage `json:"tree"`
	}
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.get(ctx, baseURL, "/files", dataTimeout, &result)
	})
	if err != nil {
		return nil, err
	}
	return result.Tree, nil
}

// ListScripts returns the remote's app/scripts/ listing (GET /scripts).
func (c *Client) ListScripts(ctx context.Context, baseURL string) ([]ScriptEntry, error) {
	var result struct {
		Scripts []ScriptEntry `json:"scripts"`
	}
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.get(ctx, baseURL, "/scripts", dataTimeout, &result)
	})
	if err != nil {
		return nil, err
	}
	return result.Scripts, nil
}

// GetFile fetches one remote file's content (GET /scripts/{path}).
func (c *Client) GetFile(ctx context.Context, baseURL, relPath string) (string, error) {
	var result struct {
		Content string `json:"content"`
	}
	encoded := url.PathEscape(relPath)
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.get(ctx, baseURL, "/scripts/"+encoded, dataTimeout, &result)
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// PutFile uploads content to the remote at relPath (POST
// /scripts/{path}). Forbidden-for-sync paths are rejected client-side
// before any network call is made, per spec §4.4.
func (c *Client) PutFile(ctx context.Context, baseURL, relPath, content string) error {
	if c.policy.IsForbiddenForSync(relPath) {
		return apierr.New(apierr.KindPolicyViolation, "path is forbidden for sync: "+relPath)
	}
	encoded := url.PathEscape(relPath)
	body := map[string]string{"content": content}
	return c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, baseURL, "/scripts/"+encoded, dataTimeout, body, nil)
	})
}

// GetMetadata fetches the remote's stored metadata text (GET
// /metadata).
func (c *Client) GetMetadata(ctx context.Context, baseURL string) (inputMeta, outputMeta string, err error) {
	var result struct {
		InputMetadata  string `json:"input_metadata"`
		OutputMetadata string `json:"output_metadata"`
	}
	err = c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.get(ctx, baseURL, "/metadata", dataTimeout, &result)
	})
	return result.InputMetadata, result.OutputMetadata, err
}

// PutMetadata uploads the metadata text summaries (POST /metadata).
func (c *Client) PutMetadata(ctx context.Context, baseURL, inputMeta, outputMeta string) error {
	body := map[string]string{
		"input_metadata":  inputMeta,
		"output_metadata": outputMeta,
	}
	return c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, baseURL, "/metadata", dataTimeout, body, nil)
	})
}

// AppendKeepalive reads scripts/time_keeper.txt, appends a timestamped
// line, and writes it back — the read-modify-write keepalive tick of
// spec §4.5.4.
func (c *Client) AppendKeepalive(ctx context.Context, baseURL string) error {
	const path = "scripts/time_keeper.txt"
	existing, err := c.GetFile(ctx, baseURL, path)
	if err != nil {
		apiErr := apierr.AsAPIError(err)
		if apiErr.Kind != apierr.KindNotFound {
			return err
		}
		existing = ""
	}
	line := fmt.Sprintf("%s\n", time.Now().UTC().Format(time.RFC3339))
	return c.PutFile(ctx, baseURL, path, existing+line)
}
