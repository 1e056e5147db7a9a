package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	applianceSource = "truenas"

	applianceGetTimeout  = 2 * time.Second
	appliancePostTimeout = 3 * time.Second
	reportingTimeout     = 5 * time.Second
)

// ApplianceConfig configures ApplianceClient.
type ApplianceConfig struct {
	Host      string
	Port      string
	Scheme    string
	APIKey    string
	VerifySSL bool
}

// ApplianceClient is a read-only client for the TrueNAS REST API.
type ApplianceClient struct {
	cfg        ApplianceConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewApplianceClient builds a client. A missing host is not an error here;
// every request reports it as a ConfigurationError instead.
func NewApplianceClient(cfg ApplianceConfig, logger *zap.Logger) *ApplianceClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // appliances commonly use self-signed certificates
	}
	return &ApplianceClient{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With(zap.String("upstream", applianceSource)),
	}
}

// Configured reports whether a host is set.
func (c *ApplianceClient) Configured() bool {
	return strings.TrimSpace(c.cfg.Host) != ""
}

// BaseURL returns scheme://host[:port].
func (c *ApplianceClient) BaseURL() (string, error) {
	if !c.Configured() {
		return "", &ConfigurationError{Setting: "TRUENAS_HOST"}
	}
	host := c.cfg.Host
	if c.cfg.Port != "" {
		host = host + ":" + c.cfg.Port
	}
	return fmt.Sprintf("%s://%s", c.cfg.Scheme, host), nil
}

// Get issues GET path?params and decodes the JSON body.
func (c *ApplianceClient) Get(ctx context.Context, path string, params map[string]string) (any, error) {
	return c.do(ctx, http.MethodGet, path, params, nil, applianceGetTimeout)
}

// Post issues POST path with a JSON body and decodes the JSON response.
func (c *ApplianceClient) Post(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPost, path, nil, body, appliancePostTimeout)
}

// postSlow is Post with the longer timeout used by reporting queries.
func (c *ApplianceClient) postSlow(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPost, path, nil, body, reportingTimeout)
}

func (c *ApplianceClient) do(ctx context.Context, method, path string, params map[string]string, body any, timeout time.Duration) (any, error) {
	base, err := c.BaseURL()
	if err != nil {
		return nil, err
	}

	u := base + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("truenas: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("truenas: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, &UpstreamError{Source: applianceSource, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Source: applianceSource, Path: path, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(raw))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		c.logger.Warn("unexpected status", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, &UpstreamError{
			Source: applianceSource,
			Path:   path,
			Status: resp.StatusCode,
			Body:   text,
			Err:    fmt.Errorf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("decode failed", zap.String("path", path), zap.Error(err))
		return nil, &UpstreamError{Source: applianceSource, Path: path, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}
