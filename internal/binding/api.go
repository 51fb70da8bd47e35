package binding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"appbuilder/internal/domain"
)

// ── API Source ──────────────────────────────────────────────
// Fetches a binding's data from a REST endpoint. A descriptor whose base URL
// is FixtureBaseURL is served by the in-process FixtureProvider instead of the
// network, with the same request shape and the same result extraction.

// FixtureBaseURL is the reserved base URL for offline/demo data.
const FixtureBaseURL = "mock://fixtures"

// Doer is the HTTP capability the api source needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type apiSource struct {
	client   Doer
	fixtures *FixtureProvider
}

// NewAPISource creates the api source. A nil client gets a 30s-timeout
// default; a nil fixture provider disables the sentinel base URL.
func NewAPISource(client Doer, fixtures *FixtureProvider) Source {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &apiSource{client: client, fixtures: fixtures}
}

func (s *apiSource) Kind() domain.BindingSource { return domain.SourceAPI }

func (s *apiSource) Fetch(ctx context.Context, desc domain.BindingDescriptor) (any, error) {
	cfg, err := desc.APIConfig()
	if err != nil {
		return nil, err
	}

	var raw any
	if strings.TrimRight(cfg.BaseURL, "/") == FixtureBaseURL {
		if s.fixtures == nil {
			return nil, fmt.Errorf("fixture provider not configured")
		}
		raw, err = s.fixtures.Endpoint(ctx, cfg.Method, cfg.Endpoint)
	} else {
		raw, err = s.fetchHTTP(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.DataMapping.ResultPath != "" {
		raw = navigatePath(raw, cfg.DataMapping.ResultPath)
	}
	return raw, nil
}

func (s *apiSource) fetchHTTP(ctx context.Context, cfg domain.APIConfig) (any, error) {
	target, err := buildURL(cfg.BaseURL, cfg.Endpoint, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidBinding, err)
	}

	var bodyReader io.Reader
	if cfg.Body != nil && cfg.Method != http.MethodGet && cfg.Method != http.MethodHead {
		switch b := cfg.Body.(type) {
		case string:
			bodyReader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			bodyReader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return raw, nil
}

// buildURL joins base and endpoint and appends params as a query string with
// deterministic key order.
func buildURL(base, endpoint string, params map[string]any) (string, error) {
	joined := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
	u, err := url.Parse(joined)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", joined, err)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
		case []any:
			for _, item := range v {
				q.Add(k, fmt.Sprint(item))
			}
		default:
			q.Set(k, fmt.Sprint(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
