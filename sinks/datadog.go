package sinks

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// DatadogOptions configures the Datadog logs transport.
type DatadogOptions struct {
	// APIKey authenticates against the intake API. Empty disables the
	// transport.
	APIKey string

	// Site is the Datadog site, e.g. "datadoghq.com" or "datadoghq.eu".
	Site string

	// Service, Env, and Version become ddtags on every entry.
	Service string
	Env     string
	Version string

	// Endpoint overrides the intake URL, for tests.
	Endpoint string

	// BatchSize caps entries per request. Defaults to 100.
	BatchSize int

	// Timeout bounds each delivery request. Defaults to 10s.
	Timeout time.Duration

	// MinLevel filters entries below this severity.
	MinLevel core.Level
}

// Datadog ships entries to the Datadog logs intake. Entries carry a flat
// key:value tag string (ddtags) built from the static service identity plus
// the entry's own tags. Delivery rides the generic HTTP worker.
type Datadog struct {
	*HTTP
	enabled bool
}

// NewDatadog creates a Datadog transport. A missing API key yields a
// disabled no-op transport.
func NewDatadog(opts DatadogOptions) *Datadog {
	if opts.APIKey == "" {
		selflog.Printf("[datadog] api key not configured, transport disabled")
		return &Datadog{HTTP: NewHTTP("")}
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		site := opts.Site
		if site == "" {
			site = "datadoghq.com"
		}
		endpoint = fmt.Sprintf("https://http-intake.logs.%s/api/v2/logs", site)
	}

	httpOpts := []HTTPOption{
		WithHTTPHeader("DD-API-KEY", opts.APIKey),
		WithHTTPTransformer(datadogTransformer(opts)),
		WithHTTPMinLevel(opts.MinLevel),
	}
	if opts.BatchSize > 0 {
		httpOpts = append(httpOpts, WithHTTPBatchSize(opts.BatchSize))
	}
	if opts.Timeout > 0 {
		httpOpts = append(httpOpts, WithHTTPTimeout(opts.Timeout))
	}

	return &Datadog{
		HTTP:    NewHTTP(endpoint, httpOpts...),
		enabled: true,
	}
}

func (d *Datadog) Name() string  { return "datadog" }
func (d *Datadog) Enabled() bool { return d.enabled }

// datadogTransformer encodes entries as the v2 logs intake payload.
func datadogTransformer(opts DatadogOptions) PayloadTransformer {
	staticTags := map[string]string{
		"service": opts.Service,
		"env":     opts.Env,
		"version": opts.Version,
	}

	type ddEntry struct {
		Message    string         `json:"message"`
		Status     string         `json:"status"`
		Service    string         `json:"service,omitempty"`
		Source     string         `json:"ddsource"`
		Tags       string         `json:"ddtags"`
		Timestamp  int64          `json:"timestamp"`
		Attributes *core.LogEntry `json:"attributes"`
	}

	return func(entries []*core.LogEntry) ([]byte, string, error) {
		items := make([]ddEntry, 0, len(entries))
		for _, entry := range entries {
			items = append(items, ddEntry{
				Message:    entry.Message,
				Status:     entry.Level.String(),
				Service:    opts.Service,
				Source:     "pulselog",
				Tags:       flattenTags(staticTags, entry),
				Timestamp:  entry.Timestamp.UnixMilli(),
				Attributes: entry,
			})
		}
		body, err := json.Marshal(items)
		return body, "application/json", err
	}
}

// flattenTags merges static identity tags with the entry's own tags into
// the flat "key:value,key:value" string the intake expects, sorted for a
// stable wire form.
func flattenTags(static map[string]string, entry *core.LogEntry) string {
	merged := make(map[string]string, len(static)+4)
	for k, v := range static {
		if v != "" {
			merged[k] = v
		}
	}
	if entry.Context != nil {
		if entry.Context.Component != "" {
			merged["component"] = entry.Context.Component
		}
		for k, v := range entry.Context.Tags {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+merged[k])
	}
	return strings.Join(pairs, ",")
}
