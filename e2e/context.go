package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"tempo/internal/gateway"
	"tempo/internal/platform/config"
	"tempo/pkg/platform/middleware/tenant"
)

var (
	localOnce sync.Once
	localURL  string
	localErr  error
)

// localGateway starts one in-memory gateway per test binary for runs without
// BASE_URL.
func localGateway() (string, error) {
	localOnce.Do(func() {
		cfg, err := config.FromEnv()
		if err != nil {
			localErr = err
			return
		}
		cfg.Database.URL, cfg.Redis.URL, cfg.Kafka.Brokers = "", "", nil
		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		reg := prometheus.NewRegistry()
		gw, err := gateway.Build(cfg, log, &gateway.Infra{}, reg, reg)
		if err != nil {
			localErr = err
			return
		}
		localURL = httptest.NewServer(gw.Server.Handler).URL
	})
	return localURL, localErr
}

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte
	CompanyID        string
	InstanceIDs      map[string]string
	LoginURL         string
}

// NewTestContext creates a new test context with a fresh company so scenarios
// never see each other's instances.
func NewTestContext() (*TestContext, error) {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		var err error
		if baseURL, err = localGateway(); err != nil {
			return nil, fmt.Errorf("start local gateway: %w", err)
		}
	}

	return &TestContext{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		CompanyID:   uuid.NewString(),
		InstanceIDs: make(map[string]string),
	}, nil
}

// Do sends a request as the scenario's company unless withCompany is false,
// and stores the response.
func (tc *TestContext) Do(method, path string, body any, withCompany bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withCompany {
		req.Header.Set(tenant.HeaderCompanyID, tc.CompanyID)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// POST makes a company-scoped POST request.
func (tc *TestContext) POST(path string, body any) error {
	return tc.Do(http.MethodPost, path, body, true)
}

// GET makes a company-scoped GET request.
func (tc *TestContext) GET(path string) error {
	return tc.Do(http.MethodGet, path, nil, true)
}

// DELETE makes a company-scoped DELETE request.
func (tc *TestContext) DELETE(path string) error {
	return tc.Do(http.MethodDelete, path, nil, true)
}

// GETAnonymous sends a GET without the company header.
func (tc *TestContext) GETAnonymous(path string) error {
	return tc.Do(http.MethodGet, path, nil, false)
}

// GetResponseField extracts a top-level field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}

	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}

	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		if _, ok := data[text]; ok {
			return true
		}
	}

	return false
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

func (tc *TestContext) RememberInstance(alias, instanceID string) {
	tc.InstanceIDs[alias] = instanceID
}

func (tc *TestContext) Instance(alias string) (string, error) {
	instanceID, ok := tc.InstanceIDs[alias]
	if !ok {
		return "", fmt.Errorf("no instance remembered as %q", alias)
	}
	return instanceID, nil
}

func (tc *TestContext) SetLoginURL(u string) { tc.LoginURL = u }

func (tc *TestContext) GetLoginURL() string { return tc.LoginURL }
