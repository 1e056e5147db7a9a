package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/metrics"
)

const metricsTimeout = 1 * time.Second

// MetricsConfig configures MetricsClient. URL, when set, overrides
// Scheme/Host/Port.
type MetricsConfig struct {
	URL          string
	Host         string
	Port         string
	Scheme       string
	BasePath     string
	BearerToken  string
	VerifySSL    bool
	DataEndpoint string
}

// MetricsClient is a best-effort client for the Netdata API. It never
// returns errors: any failure is logged and reported as absent.
type MetricsClient struct {
	baseURL      string
	dataEndpoint string
	token        string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewMetricsClient builds a client. With neither URL nor Host configured
// every call reports absent.
func NewMetricsClient(cfg MetricsConfig, logger *zap.Logger) *MetricsClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // LAN daemon, verification is opt-in
	}
	endpoint := cfg.DataEndpoint
	if endpoint == "" {
		endpoint = "/api/v1/data"
	}
	return &MetricsClient{
		baseURL:      metricsBaseURL(cfg),
		dataEndpoint: endpoint,
		token:        cfg.BearerToken,
		httpClient:   &http.Client{Transport: transport, Timeout: metricsTimeout},
		logger:       logger.With(zap.String("upstream", "netdata")),
	}
}

// metricsBaseURL derives the base URL from a full URL override or from
// scheme, host and port, then appends the optional base path.
func metricsBaseURL(cfg MetricsConfig) string {
	var base string
	switch {
	case cfg.URL != "":
		raw := cfg.URL
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return ""
		}
		base = u.Scheme + "://" + u.Host
	case cfg.Host != "":
		scheme := cfg.Scheme
		if scheme == "" {
			scheme = "http"
		}
		port := cfg.Port
		if port == "" {
			port = "19999"
		}
		base = scheme + "://" + cfg.Host + ":" + port
	default:
		return ""
	}
	if cfg.BasePath != "" {
		p := cfg.BasePath
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		base += strings.TrimRight(p, "/")
	}
	return base
}

// BaseURL returns the resolved base URL, empty when unconfigured.
func (c *MetricsClient) BaseURL() string { return c.baseURL }

// Get fetches path?params and decodes the JSON body. ok is false on any
// failure.
func (c *MetricsClient) Get(ctx context.Context, path string, params map[string]string) (any, bool) {
	if c.baseURL == "" {
		return nil, false
	}
	u := c.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.logger.Debug("create request", zap.Error(err))
		return nil, false
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("connection error", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("request failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, false
	}

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Debug("decode failed", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return out, true
}

// Latest returns the newest row of chart as a Sample keyed by dimension.
func (c *MetricsClient) Latest(ctx context.Context, chart string) (metrics.Sample, bool) {
	if chart == "" {
		return nil, false
	}
	raw, ok := c.Get(ctx, c.dataEndpoint, map[string]string{
		"chart":  chart,
		"after":  "-1",
		"format": "json",
	})
	if !ok {
		return nil, false
	}
	return parseLatestRow(raw)
}

// parseLatestRow zips "labels" with the first "data" row, skipping the time
// column and non-numeric cells.
func parseLatestRow(raw any) (metrics.Sample, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	labels, _ := obj["labels"].([]any)
	data, _ := obj["data"].([]any)
	if len(labels) == 0 || len(data) == 0 {
		return nil, false
	}
	row, ok := data[0].([]any)
	if !ok {
		return nil, false
	}

	sample := make(metrics.Sample, len(labels))
	for i, l := range labels {
		name, ok := l.(string)
		if !ok || name == "time" || i >= len(row) {
			continue
		}
		if v, ok := metrics.ToFloat(row[i]); ok {
			sample[name] = v
		}
	}
	if len(sample) == 0 {
		return nil, false
	}
	return sample, true
}
