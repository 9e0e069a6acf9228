// Package gocd talks to the GoCD pipeline history API and maps build
// counters to source revisions.
package gocd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout = time.Second
	defaultAccept  = "application/vnd.go.cd.v1+json"

	maxErrorBody = 512
)

// Config holds GoCD client configuration.
type Config struct {
	BaseURL string
	// AuthToken is the base64 "user:password" credential sent as Basic auth.
	AuthToken string
	Accept    string
	Timeout   time.Duration
	// CAFile is an optional PEM bundle used instead of the system roots.
	CAFile string
}

// HistoryRecord is one run from a pipeline's history.
type HistoryRecord struct {
	Counter     uint64
	RevisionID  uint64
	HasRevision bool
}

// Client fetches pipeline history.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]HistoryRecord]
}

// NewClient creates a GoCD client. It fails only if CAFile cannot be loaded.
func NewClient(config Config) (*Client, error) {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.Accept == "" {
		config.Accept = defaultAccept
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.CAFile != "" {
		pem, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read gocd ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("gocd ca file %s: no certificates found", config.CAFile)
		}
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	breaker := gobreaker.NewCircuitBreaker[[]HistoryRecord](gobreaker.Settings{
		Name:        "gocd-history",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return !statusErr.transient()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		breaker: breaker,
	}, nil
}

// History returns the recorded runs of pipeline, newest first as GoCD
// reports them. Failures are returned as *TransportError.
func (c *Client) History(ctx context.Context, pipeline string) ([]HistoryRecord, error) {
	records, err := c.breaker.Execute(func() ([]HistoryRecord, error) {
		return c.fetch(ctx, pipeline)
	})
	if err != nil {
		return nil, &TransportError{Pipeline: pipeline, Err: err}
	}
	return records, nil
}

func (c *Client) fetch(ctx context.Context, pipeline string) ([]HistoryRecord, error) {
	endpoint, err := url.JoinPath(c.config.BaseURL, "go/api/pipelines", pipeline, "history")
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", c.config.Accept)
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Basic "+c.config.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Pipelines == nil {
		return nil, errors.New("decode response: missing pipelines array")
	}

	records := make([]HistoryRecord, 0, len(payload.Pipelines))
	for _, run := range payload.Pipelines {
		if run.Counter == nil {
			continue
		}
		rec := HistoryRecord{Counter: *run.Counter}
		if id, ok := run.revisionID(); ok {
			rec.RevisionID = id
			rec.HasRevision = true
		}
		records = append(records, rec)
	}
	return records, nil
}

type historyResponse struct {
	Pipelines []pipelineRun `json:"pipelines"`
}

type pipelineRun struct {
	Counter    *uint64 `json:"counter"`
	BuildCause struct {
		MaterialRevisions []struct {
			Modifications []struct {
				ID *uint64 `json:"id"`
			} `json:"modifications"`
		} `json:"material_revisions"`
	} `json:"build_cause"`
}

// revisionID returns build_cause.material_revisions[0].modifications[0].id.
// Runs triggered by something other than a code change often lack it.
func (r pipelineRun) revisionID() (uint64, bool) {
	revs := r.BuildCause.MaterialRevisions
	if len(revs) == 0 || len(revs[0].Modifications) == 0 {
		return 0, false
	}
	id := revs[0].Modifications[0].ID
	if id == nil {
		return 0, false
	}
	return *id, true
}
