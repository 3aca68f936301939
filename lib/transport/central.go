// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/apm/lib/clock"
	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/netutil"
)

// CentralConfigPath is the collector endpoint serving remote agent
// configuration.
const CentralConfigPath = "/config/v1/agents"

// defaultPollInterval applies when the collector sends no max-age.
const defaultPollInterval = 5 * time.Minute

// maxCentralBody bounds a central-config response.
const maxCentralBody = 1 << 20

// CentralConfigOptions configures a CentralConfigPoller.
type CentralConfigOptions struct {
	ServerURL   string
	ServiceName string
	Environment string
	SecretToken string
	APIKey      string
	UserAgent   string

	Client *http.Client
	Clock  clock.Clock
	Logger *slog.Logger

	// Interval between polls when the response carries no
	// Cache-Control max-age. Defaults to five minutes.
	Interval time.Duration

	// OnConfig receives each changed configuration as a flat map of
	// central keys to raw values. An empty map means the collector
	// holds no configuration for this service.
	OnConfig func(map[string]string)
}

// CentralConfigPoller fetches remote configuration for one service.
type CentralConfigPoller struct {
	url           string
	authorization string
	userAgent     string
	client        *http.Client
	clock         clock.Clock
	logger        *slog.Logger
	interval      time.Duration
	onConfig      func(map[string]string)

	etag string
}

// NewCentralConfigPoller validates options and returns a poller.
func NewCentralConfigPoller(options CentralConfigOptions) (*CentralConfigPoller, error) {
	base, err := config.ParseURL(options.ServerURL)
	if err != nil {
		return nil, err
	}
	if options.ServiceName == "" {
		return nil, fmt.Errorf("central config: service name is required")
	}
	endpoint := base.JoinPath(CentralConfigPath)
	query := endpoint.Query()
	query.Set("service.name", options.ServiceName)
	if options.Environment != "" {
		query.Set("service.environment", options.Environment)
	}
	endpoint.RawQuery = query.Encode()

	poller := &CentralConfigPoller{
		url:           endpoint.String(),
		authorization: authorization(options.SecretToken, options.APIKey),
		userAgent:     options.UserAgent,
		client:        options.Client,
		clock:         options.Clock,
		logger:        options.Logger,
		interval:      options.Interval,
		onConfig:      options.OnConfig,
	}
	if poller.client == nil {
		poller.client = &http.Client{Timeout: 30 * time.Second}
	}
	if poller.clock == nil {
		poller.clock = clock.Real()
	}
	if poller.logger == nil {
		poller.logger = slog.Default()
	}
	if poller.interval <= 0 {
		poller.interval = defaultPollInterval
	}
	return poller, nil
}

// Run polls until ctx is cancelled. Failed polls are logged and retried
// after the regular interval.
func (p *CentralConfigPoller) Run(ctx context.Context) {
	for {
		next, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("central config poll failed", "error", err, "retry_in", next)
		}
		select {
		case <-p.clock.After(next):
		case <-ctx.Done():
			return
		}
	}
}

// Poll fetches the configuration once. OnConfig runs when the
// collector returns a new version. The returned duration is when to
// poll next.
func (p *CentralConfigPoller) Poll(ctx context.Context) (time.Duration, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return p.interval, fmt.Errorf("building central config request: %w", err)
	}
	if p.etag != "" {
		request.Header.Set("If-None-Match", p.etag)
	}
	if p.authorization != "" {
		request.Header.Set("Authorization", p.authorization)
	}
	if p.userAgent != "" {
		request.Header.Set("User-Agent", p.userAgent)
	}

	response, err := p.client.Do(request)
	if err != nil {
		return p.interval, fmt.Errorf("fetching central config: %w", err)
	}
	defer response.Body.Close()
	next := p.maxAge(response.Header.Get("Cache-Control"))

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return next, nil
	case http.StatusForbidden:
		// The collector has central configuration turned off.
		p.logger.Debug("central config disabled on collector")
		return next, nil
	default:
		return next, responseError(p.url, response.StatusCode, netutil.ErrorBody(response.Body))
	}

	body, err := netutil.ReadLimited(response.Body, maxCentralBody)
	if err != nil {
		return next, fmt.Errorf("reading central config: %w", err)
	}
	values, err := ParseCentralConfig(body)
	if err != nil {
		return next, err
	}
	p.etag = response.Header.Get("ETag")
	if p.onConfig != nil {
		p.onConfig(values)
	}
	return next, nil
}

// maxAge reads the max-age directive, falling back to the interval.
func (p *CentralConfigPoller) maxAge(cacheControl string) time.Duration {
	for directive := range strings.SplitSeq(cacheControl, ",") {
		value, ok := strings.CutPrefix(strings.TrimSpace(directive), "max-age=")
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return p.interval
}

// ParseCentralConfig decodes a central-config document, a JSON object
// that may carry comments and trailing commas, into raw option strings.
// Lists join with commas; numbers and booleans use their JSON text.
func ParseCentralConfig(body []byte) (map[string]string, error) {
	var document map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(body), &document); err != nil {
		return nil, fmt.Errorf("parsing central config: %w", err)
	}
	values := make(map[string]string, len(document))
	for key, value := range document {
		switch typed := value.(type) {
		case string:
			values[key] = typed
		case float64:
			values[key] = strconv.FormatFloat(typed, 'f', -1, 64)
		case bool:
			values[key] = strconv.FormatBool(typed)
		case []any:
			items := make([]string, len(typed))
			for i, item := range typed {
				items[i] = fmt.Sprint(item)
			}
			values[key] = strings.Join(items, ",")
		case nil:
		default:
			return nil, fmt.Errorf("parsing central config: %s has unsupported type %T", key, value)
		}
	}
	return values, nil
}
