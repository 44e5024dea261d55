// Package sinks implements the pipeline's transports: pluggable sinks that
// deliver batched log entries to a destination. Each transport buffers and
// retries at the wire level on its own, because payload limits, sequence
// tokens, and auth schemes cannot be generalized across destinations.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fieldserve/pulselog/configuration"
	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// Factory constructs a transport from configuration. A factory that cannot
// build an operational transport (missing credentials, bad endpoint) should
// return a disabled transport rather than an error, so one sink's
// misconfiguration cannot break the others; errors are reserved for
// programmer mistakes.
type Factory func(cfg *configuration.Config) (core.Transport, error)

// Registry maps sink names to factories and instantiates the enabled set
// from configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in sinks.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("console", func(cfg *configuration.Config) (core.Transport, error) {
		return NewConsole(ConsoleOptions{Pretty: cfg.PrettyConsole()}), nil
	})
	r.Register("file", func(cfg *configuration.Config) (core.Transport, error) {
		return NewFile(FileOptions{
			Path:       cfg.FilePath,
			MaxSize:    cfg.FileMaxSize,
			MaxAgeDays: cfg.FileMaxAgeDays,
			MaxFiles:   cfg.FileMaxFiles,
			Rotate:     cfg.FileRotate,
		})
	})
	r.Register("http", func(cfg *configuration.Config) (core.Transport, error) {
		opts := []HTTPOption{
			WithHTTPBatchSize(cfg.HTTPBatchSize),
			WithHTTPTimeout(cfg.HTTPTimeout),
		}
		switch {
		case cfg.HTTPAuthToken != "":
			opts = append(opts, WithHTTPBearerAuth(cfg.HTTPAuthToken))
		case cfg.HTTPAuthUser != "":
			opts = append(opts, WithHTTPBasicAuth(cfg.HTTPAuthUser, cfg.HTTPAuthPass))
		case cfg.HTTPAPIKey != "":
			opts = append(opts, WithHTTPAPIKey(cfg.HTTPAPIKey))
		}
		switch cfg.HTTPFormat {
		case "bulk":
			opts = append(opts, WithHTTPTransformer(BulkTransformer("logs")))
		case "stream":
			opts = append(opts, WithHTTPTransformer(StreamTransformer(map[string]string{
				"service": cfg.ServiceName,
				"env":     cfg.Environment,
			})))
		}
		return NewHTTP(cfg.HTTPEndpoint, opts...), nil
	})
	r.Register("cloudwatch", func(cfg *configuration.Config) (core.Transport, error) {
		return NewCloudWatch(CloudWatchOptions{
			Region:    cfg.AWSRegion,
			AccessKey: cfg.AWSAccessKeyID,
			SecretKey: cfg.AWSSecretAccessKey,
			Group:     cfg.CloudWatchGroup,
			Stream:    cfg.CloudWatchStream,
		}), nil
	})
	r.Register("datadog", func(cfg *configuration.Config) (core.Transport, error) {
		return NewDatadog(DatadogOptions{
			APIKey:  cfg.DatadogAPIKey,
			Site:    cfg.DatadogSite,
			Service: cfg.ServiceName,
			Env:     cfg.Environment,
			Version: cfg.ServiceVersion,
		}), nil
	})
	r.Register("sentry", func(cfg *configuration.Config) (core.Transport, error) {
		return NewSentry(SentryOptions{
			DSN:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     cfg.ServiceVersion,
		}), nil
	})
	return r
}

// Register adds or replaces a factory under name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// Names returns the registered sink names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the transports named in cfg.Transports, honoring the
// feature flags for the cloud sinks. Unknown names are skipped with a
// selflog note. If nothing operational comes out, the console transport is
// force-enabled so a fully misconfigured environment never yields a silent
// pipeline.
func (r *Registry) Build(cfg *configuration.Config) []core.Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var transports []core.Transport
	for _, name := range cfg.Transports {
		if !flagAllows(cfg, name) {
			continue
		}
		factory, ok := r.factories[name]
		if !ok {
			selflog.Printf("[registry] unknown transport %q skipped", name)
			continue
		}
		t, err := factory(cfg)
		if err != nil {
			selflog.Printf("[registry] transport %q failed to build: %v", name, err)
			continue
		}
		transports = append(transports, t)
	}

	anyEnabled := false
	for _, t := range transports {
		if t.Enabled() {
			anyEnabled = true
			break
		}
	}
	if !anyEnabled {
		selflog.Printf("[registry] no operational transports, forcing console")
		transports = append(transports, NewConsole(ConsoleOptions{Pretty: cfg.PrettyConsole()}))
	}

	return transports
}

// flagAllows applies the ENABLE_* feature flags to the optional cloud sinks.
func flagAllows(cfg *configuration.Config, name string) bool {
	switch name {
	case "sentry":
		return cfg.EnableSentry
	case "datadog":
		return cfg.EnableDatadog
	case "cloudwatch":
		return cfg.EnableCloudWatch
	default:
		return true
	}
}

// Dispatch fans a batch out to every enabled transport concurrently,
// applying each transport's minimum-level filter. It returns an error only
// when the batch could not be handed off to any enabled transport; a single
// degraded sink is not a delivery failure.
func Dispatch(ctx context.Context, transports []core.Transport, batch []*core.LogEntry) error {
	if len(batch) == 0 {
		return nil
	}

	var (
		enabled   int
		attempted int
		mu        sync.Mutex
		succeeded int
		errs      []error
	)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, t := range transports {
		if !t.Enabled() {
			continue
		}
		enabled++
		filtered := filterByLevel(batch, t.MinLevel())
		if len(filtered) == 0 {
			continue
		}
		attempted++
		t := t
		g.Go(func() error {
			if err := t.LogBatch(gctx, filtered); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
				mu.Unlock()
				if selflog.IsEnabled() {
					selflog.Printf("[registry] %s rejected batch of %d: %v", t.Name(), len(filtered), err)
				}
				return nil
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if enabled == 0 {
		return errors.New("no enabled transports")
	}
	if attempted == 0 {
		// Every entry fell below every sink's threshold; nothing to deliver.
		return nil
	}
	if succeeded == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func filterByLevel(batch []*core.LogEntry, min core.Level) []*core.LogEntry {
	filtered := make([]*core.LogEntry, 0, len(batch))
	for _, e := range batch {
		if e.Level >= min {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
