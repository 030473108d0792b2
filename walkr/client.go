// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package walkr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://production.sw.fourdesire.com"
	DefaultLabID   = 68334
	DefaultTimeout = 30 * time.Second

	// maxResponseSize bounds how much of a response body is read
	maxResponseSize = 32 << 20
)

// Payload kinds passed to a ResponseHook
const (
	KindFleet       = "fleet"
	KindLabComments = "lab_comments"
	KindResearch    = "research"
	KindLabRequest  = "lab_request"
	KindExtendToken = "extend_token"
)

// ResponseHook receives the raw body of every successful response
type ResponseHook func(kind string, body []byte)

// Page selects a window of the lab comment feed
type Page struct {
	Limit     int
	QueriedAt int64
	SinceID   int64
}

// DefaultPage asks for the whole recent comment feed in one request
var DefaultPage = Page{
	Limit:     3000,
	QueriedAt: 2147483647,
	SinceID:   0,
}

// Client is an HTTP client for the Walkr game API
type Client struct {
	baseURL    string
	httpClient *http.Client
	device     Device
	labID      int64
	limiter    *rate.Limiter
	logger     *slog.Logger
	hook       ResponseHook
	promReg    prometheus.Registerer
	metrics    *clientMetrics
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDevice overrides the device profile sent with every request
func WithDevice(device Device) ClientOption {
	return func(c *Client) {
		c.device = device
	}
}

// WithLabID sets the lab whose comment feed and requests are used
func WithLabID(labID int64) ClientOption {
	return func(c *Client) {
		c.labID = labID
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithPromRegistry(reg prometheus.Registerer) ClientOption {
	return func(c *Client) {
		c.promReg = reg
	}
}

// WithResponseHook registers a callback for raw response bodies
func WithResponseHook(hook ResponseHook) ClientOption {
	return func(c *Client) {
		c.hook = hook
	}
}

// NewClient creates a new Walkr API client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:       DefaultTimeout,
			CheckRedirect: httpsOnlyRedirect,
		},
		device: DefaultDevice(),
		labID:  DefaultLabID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "walkr")
	c.initMetrics(c.promReg)
	return c
}

// LabID returns the lab the client works against
func (c *Client) LabID() int64 {
	return c.labID
}

// httpsOnlyRedirect rejects redirects to non-HTTPS URLs
func httpsOnlyRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("too many redirects")
	}
	if req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to non-HTTPS URL blocked: %s", req.URL)
	}
	return nil
}

// FetchFleetState returns the state of the token owner's fleet. It returns
// ErrNotInEpic when the fleet is not on an epic.
func (c *Client) FetchFleetState(
	ctx context.Context,
	token string,
) (*FleetState, error) {
	var state FleetState
	err := c.getJSON(ctx, KindFleet, token, "/api/v2/fleets/current", nil, &state)
	if err != nil {
		return nil, fmt.Errorf("fetching fleet state: %w", err)
	}
	if state.Fleet == nil {
		return nil, ErrNotInEpic
	}
	return &state, nil
}

// FetchLabDonations returns the donation requests visible in the lab
// comment feed. Plain chat comments are dropped.
func (c *Client) FetchLabDonations(
	ctx context.Context,
	token string,
	page Page,
) ([]Donation, error) {
	params := map[string]string{
		"commentable_id":   strconv.FormatInt(c.labID, 10),
		"commentable_type": "lab",
		"limit":            strconv.Itoa(page.Limit),
		"queried_at":       strconv.FormatInt(page.QueriedAt, 10),
		"since_id":         strconv.FormatInt(page.SinceID, 10),
	}
	var answer commentsAnswer
	err := c.getJSON(ctx, KindLabComments, token, "/api/v2/comments", params, &answer)
	if err != nil {
		return nil, fmt.Errorf("fetching lab comments: %w", err)
	}
	ret := make([]Donation, 0, len(answer.Comments))
	for _, comment := range answer.Comments {
		if comment.Comment.Type != "donation" || comment.User.ID == nil {
			continue
		}
		ret = append(ret, Donation{
			CreatedAt:       comment.CreatedAt.Time,
			LastRequestedAt: comment.Comment.LastRequestedAt.Time,
			UserID:          *comment.User.ID,
			UserName:        comment.User.Name,
			PlanetName:      comment.Comment.Identifier,
			DonatedCounter:  comment.Comment.DonatedCounter,
			Requirements:    comment.Comment.Requirements,
			TotalDonation:   comment.Comment.TotalDonation,
			CurrentDonation: comment.Comment.CurrentDonation,
		})
	}
	return ret, nil
}

// FetchResearch returns the token owner's own lab request
func (c *Client) FetchResearch(
	ctx context.Context,
	token string,
) (*Research, error) {
	var answer labAnswer
	err := c.getJSON(ctx, KindResearch, token, "/api/v2/labs/current", nil, &answer)
	if err != nil {
		return nil, fmt.Errorf("fetching research: %w", err)
	}
	return &Research{
		LastRequestedAt: answer.Research.LastRequestedAt.Time,
		PlanetName:      answer.Research.Identifier,
		DonatedCounter:  answer.Research.DonatedCounter,
		Requirements:    answer.Research.Requirements,
		TotalDonation:   answer.Research.TotalDonation,
		CurrentDonation: answer.Research.CurrentDonation,
	}, nil
}

// SubmitDonationRequest asks the lab for donations on behalf of the token
// owner
func (c *Client) SubmitDonationRequest(ctx context.Context, token string) error {
	path := "/api/v2/labs/" + strconv.FormatInt(c.labID, 10) + "/request"
	payload, err := json.Marshal(c.device.Params())
	if err != nil {
		return fmt.Errorf("encoding lab request: %w", err)
	}
	body, err := c.do(
		ctx,
		KindLabRequest,
		token,
		http.MethodPost,
		c.baseURL+path,
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("submitting lab request: %w", err)
	}
	c.runHook(KindLabRequest, body)
	return nil
}

// ExtendToken prolongs a token and returns the identity of its owner
func (c *Client) ExtendToken(
	ctx context.Context,
	token string,
) (*Authorization, error) {
	form := c.device.query(nil)
	body, err := c.do(
		ctx,
		KindExtendToken,
		token,
		http.MethodPost,
		c.baseURL+"/api/v2/players/extend_token",
		"application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("extending token: %w", err)
	}
	c.runHook(KindExtendToken, body)
	var answer extendTokenAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decoding extend token answer: %w", err)
	}
	if !answer.Success || answer.Authorization == nil {
		return nil, fmt.Errorf("extending token: %w", ErrUnsuccessful)
	}
	return answer.Authorization, nil
}

func (c *Client) getJSON(
	ctx context.Context,
	kind string,
	token string,
	path string,
	params map[string]string,
	dest any,
) error {
	reqURL := c.baseURL + path + "?" + c.device.query(params).Encode()
	body, err := c.do(ctx, kind, token, http.MethodGet, reqURL, "", nil)
	if err != nil {
		return err
	}
	c.runHook(kind, body)
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decoding %s answer: %w", kind, err)
	}
	return nil
}

func (c *Client) do(
	ctx context.Context,
	kind string,
	token string,
	method string,
	reqURL string,
	contentType string,
	reqBody io.Reader,
) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.device.setHeaders(req.Header, token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL is built from the configured base URL
	c.metrics.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.requests.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.requests.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrInvalidToken
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{
			Endpoint:   kind,
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	c.logger.Debug(
		"api request done",
		"kind", kind,
		"method", method,
		"bytes", len(body),
		"elapsed", time.Since(start),
	)
	return body, nil
}

func (c *Client) runHook(kind string, body []byte) {
	if c.hook != nil {
		c.hook(kind, body)
	}
}
