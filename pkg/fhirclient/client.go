// Package fhirclient searches a FHIR R4 server over REST, following bundle
// paging, and authenticates with OAuth2 client credentials when configured.
package fhirclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/feature"
	"github.com/synaptica-ai/mocab/pkg/gateway/httpclient"
	"github.com/synaptica-ai/mocab/pkg/route"
)

var ErrNotBundle = errors.New("search response is not a bundle")

const (
	defaultTimeout    = 10 * time.Second
	defaultAttempts   = 3
	defaultRetryDelay = 200 * time.Millisecond
	defaultMaxPages   = 20
	maxErrorBody      = 512
)

type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	Attempts     int
	RetryDelay   time.Duration
	// MaxPages caps how many bundle pages one search follows.
	MaxPages int
}

// Client implements feature.Searcher against a FHIR server.
type Client struct {
	base       *url.URL
	http       *http.Client
	attempts   int
	retryDelay time.Duration
	maxPages   int
}

var _ feature.Searcher = (*Client)(nil)

var (
	bundleEntries  = route.MustCompile("entry")
	entryResource  = route.MustCompile("resource")
	bundleNextLink = route.MustCompile(`link.{relation:"next"}.url`)
)

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fhir base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid fhir base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}

	client := httpclient.New(cfg.Timeout)
	if cfg.TokenURL != "" {
		credentials := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		authed := credentials.Client(ctx)
		authed.Timeout = cfg.Timeout
		client = authed
	}

	return &Client{
		base:       base,
		http:       client,
		attempts:   cfg.Attempts,
		retryDelay: cfg.RetryDelay,
		maxPages:   cfg.MaxPages,
	}, nil
}

// Search runs a type-level search and returns the resources of every page,
// in server order.
func (c *Client) Search(ctx context.Context, req feature.SearchRequest) ([]map[string]interface{}, error) {
	target := c.base.JoinPath(req.ResourceType)
	target.RawQuery = req.Params.Encode()

	var out []map[string]interface{}
	next := target.String()
	for page := 0; next != ""; page++ {
		if page == c.maxPages {
			logger.Log.WithFields(map[string]interface{}{
				"resource_type": req.ResourceType,
				"pages":         page,
			}).Warn("Search truncated at page limit")
			break
		}

		bundle, err := c.fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		out = append(out, resources(bundle)...)

		next = ""
		if link, ok := route.Resolve(bundleNextLink, bundle); ok {
			next, _ = link.(string)
		}
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, target string) (map[string]interface{}, error) {
	var bundle map[string]interface{}
	err := httpclient.Retry(ctx, c.attempts, c.retryDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/fhir+json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &httpclient.StatusError{URL: target, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		bundle = nil
		if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
			return fmt.Errorf("%s: decode bundle: %w", target, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if kind, _ := bundle["resourceType"].(string); kind != "Bundle" {
		return nil, fmt.Errorf("%w: %s returned %q", ErrNotBundle, target, kind)
	}
	return bundle, nil
}

func resources(bundle map[string]interface{}) []map[string]interface{} {
	raw, ok := route.Resolve(bundleEntries, bundle)
	if !ok {
		return nil
	}
	entries, _ := raw.([]interface{})
	out := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		resource, ok := route.Resolve(entryResource, entry)
		if !ok {
			continue
		}
		if m, ok := resource.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
