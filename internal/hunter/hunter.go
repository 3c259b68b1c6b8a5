// Package hunter adapts the Hunter email-finder REST API. All requests
// run through the shared HTTP client under the "hunter" rate limiter, and
// quota exhaustion is surfaced as its own error kind so the pipeline can
// degrade a prospect to no-email instead of failing the company.
package hunter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
)

// Result is one email-finder lookup. Email is empty when the service
// knows the domain but cannot produce an address; Confidence is the
// provider score scaled to [0,1].
type Result struct {
	Email      string  `json:"email"`
	Confidence float64 `json:"confidence"`
}

// Verification is the deliverability check for a single address.
type Verification struct {
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

// Account reports plan usage, used by the config validator as a quota
// probe and a cheap credential check.
type Account struct {
	PlanName               string `json:"plan_name"`
	SearchesUsed           int    `json:"searches_used"`
	SearchesAvailable      int    `json:"searches_available"`
	VerificationsUsed      int    `json:"verifications_used"`
	VerificationsAvailable int    `json:"verifications_available"`
}

// Client is the Hunter API adapter.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

// NewClient builds a Hunter client from configuration.
func NewClient(client *httpclient.Client, cfg config.HunterConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    client,
	}
}

// Enabled reports whether an API key is configured. Without one the
// pipeline skips email finding entirely.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// Find looks up the most likely address for a person at a company
// domain. A known domain with no findable address is a success with an
// empty Email, not an error.
func (c *Client) Find(ctx context.Context, companyDomain, fullName string) (Result, error) {
	companyDomain = domain.NormalizeDomain(companyDomain)
	fullName = strings.TrimSpace(fullName)
	if companyDomain == "" {
		return Result{}, errkind.Newf(errkind.Permanent, "hunter", "find", "missing company domain")
	}
	if fullName == "" {
		return Result{}, errkind.Newf(errkind.Permanent, "hunter", "find", "missing full name")
	}

	params := url.Values{}
	params.Set("domain", companyDomain)
	params.Set("full_name", fullName)

	var resp struct {
		Data struct {
			Email string  `json:"email"`
			Score float64 `json:"score"`
		} `json:"data"`
	}
	if err := c.get(ctx, "find", "/email-finder", params, &resp); err != nil {
		return Result{}, err
	}
	return Result{
		Email:      resp.Data.Email,
		Confidence: clampUnit(resp.Data.Score / 100),
	}, nil
}

// Verify checks the deliverability of a single address.
func (c *Client) Verify(ctx context.Context, email string) (Verification, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Verification{}, errkind.Newf(errkind.Permanent, "hunter", "verify", "missing email")
	}

	params := url.Values{}
	params.Set("email", email)

	var resp struct {
		Data struct {
			Status string  `json:"status"`
			Score  float64 `json:"score"`
		} `json:"data"`
	}
	if err := c.get(ctx, "verify", "/email-verifier", params, &resp); err != nil {
		return Verification{}, err
	}
	return Verification{
		Status: resp.Data.Status,
		Score:  clampUnit(resp.Data.Score / 100),
	}, nil
}

// AccountInfo fetches plan usage for the configured key.
func (c *Client) AccountInfo(ctx context.Context) (Account, error) {
	var resp struct {
		Data struct {
			PlanName string `json:"plan_name"`
			Requests struct {
				Searches struct {
					Used      int `json:"used"`
					Available int `json:"available"`
				} `json:"searches"`
				Verifications struct {
					Used      int `json:"used"`
					Available int `json:"available"`
				} `json:"verifications"`
			} `json:"requests"`
		} `json:"data"`
	}
	if err := c.get(ctx, "account", "/account", url.Values{}, &resp); err != nil {
		return Account{}, err
	}
	return Account{
		PlanName:               resp.Data.PlanName,
		SearchesUsed:           resp.Data.Requests.Searches.Used,
		SearchesAvailable:      resp.Data.Requests.Searches.Available,
		VerificationsUsed:      resp.Data.Requests.Verifications.Used,
		VerificationsAvailable: resp.Data.Requests.Verifications.Available,
	}, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return errkind.New(errkind.Config, "hunter", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.http.Do(ctx, "hunter", req)
	if err != nil {
		if resp != nil {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			return refineQuotaError(err, snippet)
		}
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return errkind.New(errkind.Parse, "hunter", op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// refineQuotaError upgrades rate-limit and auth failures whose body says
// the plan is out of requests to QuotaExceeded. Hunter reports both
// burst throttling and exhausted plans as 429s; only the body tells them
// apart.
func refineQuotaError(err error, body []byte) error {
	var ke *errkind.Error
	if !errors.As(err, &ke) {
		return err
	}
	if len(body) > 0 {
		ke.Err = fmt.Errorf("%w: %s", ke.Err, bytes.TrimSpace(body))
	}
	if ke.Kind != errkind.RateLimited && ke.Kind != errkind.Auth {
		return err
	}
	lower := bytes.ToLower(body)
	for _, marker := range [][]byte{
		[]byte("quota"),
		[]byte("usage_limit"),
		[]byte("usage limit"),
		[]byte("no more requests"),
	} {
		if bytes.Contains(lower, marker) {
			ke.Kind = errkind.QuotaExceeded
			break
		}
	}
	return err
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
