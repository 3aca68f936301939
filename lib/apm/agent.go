// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/bureau-foundation/apm/lib/clock"
	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/inflight"
	"github.com/bureau-foundation/apm/lib/logging"
	schema "github.com/bureau-foundation/apm/lib/schema/apm"
	"github.com/bureau-foundation/apm/lib/transport"
	"github.com/bureau-foundation/apm/lib/version"
)

// AgentName identifies this agent in metadata and the User-Agent.
const AgentName = "bureau-apm-go"

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("apm: agent already started")

	// ErrNotStarted is returned by calls that need a running agent.
	ErrNotStarted = errors.New("apm: agent not started")
)

type lifecycle int32

const (
	stateNew lifecycle = iota
	stateStarted
	stateDisabled
	stateDestroyed
)

// AgentOptions holds the dependencies of an Agent. Every field is
// optional.
type AgentOptions struct {
	Logger *slog.Logger

	// LevelVar, when set, follows log_level, including changes pushed
	// by central config.
	LevelVar *slog.LevelVar

	Clock clock.Clock

	// Sender replaces the HTTP sender. Central config polling is off
	// when a Sender is supplied.
	Sender transport.Sender

	// Meter receives the transport gauges.
	Meter metric.Meter

	// HTTPClient is used for intake and central-config requests.
	HTTPClient *http.Client

	// ExpectExtraMetadata holds the first batch until SetExtraMetadata
	// is called.
	ExpectExtraMetadata bool
}

// Agent is the tracing agent. Create one with NewAgent and Start it
// once; the zero value is not usable.
type Agent struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar
	clock    clock.Clock
	manager  *RunContextManager
	options  AgentOptions

	state  atomic.Int32
	config atomic.Pointer[config.Config]
	client atomic.Pointer[transport.Client]

	mu           sync.Mutex
	local        *config.Config
	inflight     *inflight.Set
	cancel       context.CancelFunc
	background   sync.WaitGroup
	extra        *schema.Metadata
	framework    *schema.Named
	globalLabels map[string]string

	filters filters
}

// NewAgent returns an agent that does nothing until Start.
func NewAgent(options AgentOptions) *Agent {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	return &Agent{
		logger:   options.Logger,
		levelVar: options.LevelVar,
		clock:    options.Clock,
		manager:  NewRunContextManager(),
		options:  options,
	}
}

// Start activates the agent with cfg (config.Default when nil). An
// invalid configuration does not fail the host: it is logged once, the
// agent stays disabled, and Start returns nil. Start returns
// ErrAlreadyStarted when called again.
func (a *Agent) Start(cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if lifecycle(a.state.Load()) != stateNew {
		return ErrAlreadyStarted
	}
	if cfg == nil {
		cfg = config.Default()
	}
	snapshot := cfg.Clone()

	if !snapshot.Active {
		a.logger.Info("agent inactive", "service", snapshot.ServiceName)
		a.state.Store(int32(stateDisabled))
		return nil
	}
	if err := snapshot.Validate(); err != nil {
		a.logger.Error("agent disabled by invalid configuration", "error", err)
		a.state.Store(int32(stateDisabled))
		return nil
	}
	a.setLevel(snapshot.LogLevel)

	sender := a.options.Sender
	switch {
	case sender != nil:
	case snapshot.DisableSend:
		sender = discardSender{}
	default:
		httpSender, err := transport.NewHTTPSender(transport.HTTPSenderOptions{
			ServerURL:   snapshot.ServerURL,
			SecretToken: snapshot.SecretToken,
			APIKey:      snapshot.APIKey,
			UserAgent:   userAgent(snapshot),
			Client:      a.options.HTTPClient,
		})
		if err != nil {
			a.logger.Error("agent disabled by invalid configuration", "error", err)
			a.state.Store(int32(stateDisabled))
			return nil
		}
		sender = httpSender
	}

	client := transport.New(transport.Options{
		Sender:              sender,
		Clock:               a.clock,
		Logger:              a.logger.With("component", "transport"),
		Meter:               a.options.Meter,
		APIRequestSize:      snapshot.APIRequestSize,
		APIRequestTime:      snapshot.APIRequestTime,
		MaxQueueSize:        snapshot.MaxQueueSize,
		ServerTimeout:       snapshot.ServerTimeout,
		Compression:         snapshot.Compression,
		Metadata:            a.metadataLocked(snapshot),
		ExpectExtraMetadata: a.options.ExpectExtraMetadata && a.extra == nil,
	})
	if a.extra != nil {
		client.SetExtraMetadata(*a.extra)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.background.Go(func() { client.Run(ctx) })

	if snapshot.CentralConfig && a.options.Sender == nil && !snapshot.DisableSend {
		poller, err := transport.NewCentralConfigPoller(transport.CentralConfigOptions{
			ServerURL:   snapshot.ServerURL,
			ServiceName: snapshot.ServiceName,
			Environment: snapshot.Environment,
			SecretToken: snapshot.SecretToken,
			APIKey:      snapshot.APIKey,
			UserAgent:   userAgent(snapshot),
			Client:      a.options.HTTPClient,
			Clock:       a.clock,
			Logger:      a.logger.With("component", "central_config"),
			OnConfig:    a.OnCentralConfig,
		})
		if err != nil {
			a.logger.Warn("central config disabled", "error", err)
		} else {
			a.background.Go(func() { poller.Run(ctx) })
		}
	}

	a.local = snapshot
	a.inflight = inflight.New(a.clock)
	a.cancel = cancel
	a.config.Store(snapshot)
	a.client.Store(client)
	a.state.Store(int32(stateStarted))

	a.logger.Info("agent started",
		"service", snapshot.ServiceName,
		"environment", snapshot.Environment,
		"server_url", snapshot.ServerURL,
		"version", version.Short(),
	)
	return nil
}

// Destroy stops the agent. Queued events get one bounded send attempt;
// Destroy waits for it until ctx ends. Tracing calls made afterwards
// are no-ops.
func (a *Agent) Destroy(ctx context.Context) error {
	a.mu.Lock()
	a.state.Store(int32(stateDestroyed))
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	stopped := make(chan struct{})
	go func() {
		a.background.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStarted reports whether Start has been called and accepted, whether
// or not the configuration left the agent active.
func (a *Agent) IsStarted() bool {
	switch lifecycle(a.state.Load()) {
	case stateStarted, stateDisabled:
		return true
	}
	return false
}

// IsActive reports whether the agent is started and recording.
func (a *Agent) IsActive() bool {
	return lifecycle(a.state.Load()) == stateStarted
}

// Config returns the current configuration snapshot, or nil before a
// successful Start. The snapshot must not be modified.
func (a *Agent) Config() *config.Config {
	return a.config.Load()
}

// Manager returns the agent's RunContextManager.
func (a *Agent) Manager() *RunContextManager {
	return a.manager
}

// CurrentOperation returns the operation current in ctx, or nil.
func (a *Agent) CurrentOperation(ctx context.Context) *Operation {
	return a.manager.Current(ctx).Operation()
}

// CurrentStep returns the running step current in ctx, or nil.
func (a *Agent) CurrentStep(ctx context.Context) *Step {
	return a.manager.Current(ctx).Step()
}

// CurrentTraceparent returns the traceparent header for an outbound
// call made from ctx, or "" outside any operation.
func (a *Agent) CurrentTraceparent(ctx context.Context) string {
	rc := a.manager.Current(ctx)
	if step := rc.Step(); step != nil {
		return step.Traceparent()
	}
	return rc.Operation().Traceparent()
}

// SetExtraMetadata supplies metadata discovered at runtime, such as the
// cloud environment. Its fields take precedence over configuration.
func (a *Agent) SetExtraMetadata(extra schema.Metadata) {
	a.mu.Lock()
	a.extra = &extra
	a.mu.Unlock()
	if client := a.client.Load(); client != nil {
		client.SetExtraMetadata(extra)
	}
}

// SetFramework names the framework the application runs on.
func (a *Agent) SetFramework(name, frameworkVersion string) {
	a.mu.Lock()
	a.framework = &schema.Named{Name: name, Version: frameworkVersion}
	a.mu.Unlock()
	a.configureTransport(map[string]any{
		"framework_name":    name,
		"framework_version": frameworkVersion,
	})
}

// SetGlobalLabel adds a label reported with every event.
func (a *Agent) SetGlobalLabel(key, value string) {
	a.mu.Lock()
	if a.globalLabels == nil {
		a.globalLabels = make(map[string]string)
	}
	a.globalLabels[key] = value
	var labels map[string]string
	if a.local != nil {
		labels = a.labelsLocked(a.local)
	}
	a.mu.Unlock()
	if labels != nil {
		a.configureTransport(map[string]any{"global_labels": labels})
	}
}

// OnCentralConfig applies a central-config payload. The poller started
// by Start calls it; it is exported for agents fed by another channel.
//
// Each payload is applied to the locally configured snapshot, so an
// option the collector stops sending returns to its local value.
func (a *Agent) OnCentralConfig(remote map[string]string) {
	a.mu.Lock()
	local := a.local
	a.mu.Unlock()
	previous := a.config.Load()
	if local == nil || previous == nil {
		return
	}

	result := config.ApplyCentral(local, remote)
	for key, err := range result.Invalid {
		a.logger.Warn("ignoring invalid central config value", "key", key, "value", remote[key], "error", err)
	}
	if len(result.Unknown) > 0 {
		a.logger.Warn("central config contains unsupported keys", "keys", result.Unknown)
	}
	a.config.Store(result.Config)

	if result.Config.LogLevel != previous.LogLevel {
		a.setLevel(result.Config.LogLevel)
	}
	if result.Config.APIRequestTime != previous.APIRequestTime {
		a.configureTransport(map[string]any{"api_request_time": result.Config.APIRequestTime})
	}
	a.logger.Info("central config applied", "applied", result.Applied)
}

// activeConfig returns the current snapshot while the agent records,
// nil otherwise.
func (a *Agent) activeConfig() *config.Config {
	if !a.IsActive() {
		return nil
	}
	return a.config.Load()
}

func (a *Agent) configureTransport(fields map[string]any) {
	client := a.client.Load()
	if client == nil {
		return
	}
	if err := client.Configure(fields); err != nil {
		a.logger.Warn("transport rejected configuration", "error", err)
	}
}

func (a *Agent) setLevel(name string) {
	if a.levelVar == nil {
		return
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		a.logger.Warn("ignoring log_level", "error", err)
		return
	}
	a.levelVar.Set(level)
}

// enqueue hands a finished record to the transport.
func (a *Agent) enqueue(event schema.Event) {
	client := a.client.Load()
	if client == nil || !a.IsActive() {
		return
	}
	client.Enqueue(event)
}

// metadataLocked builds the per-batch metadata. Caller holds a.mu.
func (a *Agent) metadataLocked(cfg *config.Config) schema.Metadata {
	hostname, err := os.Hostname()
	if err != nil {
		a.logger.Debug("hostname unavailable", "error", err)
	}
	metadata := schema.Metadata{
		Service: schema.Service{
			Name:        cfg.ServiceName,
			Version:     cfg.ServiceVersion,
			Environment: cfg.Environment,
			NodeName:    cfg.ServiceNodeName,
			Agent:       schema.Agent{Name: AgentName, Version: version.Short()},
			Runtime:     &schema.Named{Name: "go", Version: runtime.Version()},
			Language:    &schema.Named{Name: "go"},
		},
		Process: &schema.Process{PID: os.Getpid(), PPID: os.Getppid(), Argv: os.Args},
		System: &schema.System{
			Hostname:     hostname,
			Architecture: runtime.GOARCH,
			Platform:     runtime.GOOS,
		},
		Labels: a.labelsLocked(cfg),
	}
	switch {
	case a.framework != nil:
		framework := *a.framework
		metadata.Service.Framework = &framework
	case cfg.FrameworkName != "":
		metadata.Service.Framework = &schema.Named{Name: cfg.FrameworkName, Version: cfg.FrameworkVersion}
	}
	return metadata
}

// labelsLocked merges configured global labels with those set at
// runtime. Caller holds a.mu.
func (a *Agent) labelsLocked(cfg *config.Config) map[string]string {
	if len(cfg.GlobalLabels) == 0 && len(a.globalLabels) == 0 {
		return nil
	}
	labels := maps.Clone(cfg.GlobalLabels)
	if labels == nil {
		labels = make(map[string]string, len(a.globalLabels))
	}
	maps.Copy(labels, a.globalLabels)
	return labels
}

func userAgent(cfg *config.Config) string {
	service := cfg.ServiceName
	if cfg.ServiceVersion != "" {
		service += " " + cfg.ServiceVersion
	}
	return fmt.Sprintf("%s/%s (%s)", AgentName, version.Short(), service)
}

// discardSender accepts every batch, for disable_send.
type discardSender struct{}

func (discardSender) Send(context.Context, *transport.Request) error { return nil }
