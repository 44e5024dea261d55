package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// cloudWatchAPI is the slice of the CloudWatch Logs client the transport
// uses, narrowed so tests can fake it.
type cloudWatchAPI interface {
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
}

// CloudWatchOptions configures the CloudWatch Logs transport.
type CloudWatchOptions struct {
	Region    string
	AccessKey string
	SecretKey string
	Group     string
	Stream    string

	// BatchSize caps entries per PutLogEvents call. Defaults to 100.
	BatchSize int

	// FlushInterval is how often pending entries are shipped. Defaults to 5s.
	FlushInterval time.Duration

	// MinLevel filters entries below this severity.
	MinLevel core.Level

	// Client overrides the AWS client, for tests.
	Client cloudWatchAPI
}

// CloudWatch ships entries to CloudWatch Logs. The service requires ordered
// delivery with a rotating sequence token, so batches are sorted by
// timestamp and a sequence conflict is retried once with the server-supplied
// token. Missing credentials degrade the transport to a disabled no-op.
type CloudWatch struct {
	opts   CloudWatchOptions
	client cloudWatchAPI

	mu            sync.Mutex
	pending       []*core.LogEntry
	sequenceToken *string
	streamReady   bool

	stopCh   chan struct{}
	flushCh  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	enabled bool
}

// NewCloudWatch creates a CloudWatch Logs transport.
func NewCloudWatch(opts CloudWatchOptions) *CloudWatch {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}

	cw := &CloudWatch{
		opts:    opts,
		client:  opts.Client,
		stopCh:  make(chan struct{}),
		flushCh: make(chan struct{}, 1),
	}

	if opts.Group == "" || opts.Stream == "" {
		selflog.Printf("[cloudwatch] log group/stream not configured, transport disabled")
		return cw
	}
	if cw.client == nil {
		if opts.AccessKey == "" || opts.SecretKey == "" {
			selflog.Printf("[cloudwatch] credentials not configured, transport disabled")
			return cw
		}
		cw.client = cloudwatchlogs.New(cloudwatchlogs.Options{}, func(o *cloudwatchlogs.Options) {
			o.Region = opts.Region
			o.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		})
	}

	cw.enabled = true
	cw.wg.Add(1)
	go cw.worker()
	return cw
}

func (cw *CloudWatch) Name() string         { return "cloudwatch" }
func (cw *CloudWatch) MinLevel() core.Level { return cw.opts.MinLevel }
func (cw *CloudWatch) Enabled() bool        { return cw.enabled }

// Log enqueues a single entry.
func (cw *CloudWatch) Log(entry *core.LogEntry) {
	_ = cw.LogBatch(context.Background(), []*core.LogEntry{entry})
}

// LogBatch enqueues entries into the sink-local buffer.
func (cw *CloudWatch) LogBatch(_ context.Context, entries []*core.LogEntry) error {
	if !cw.enabled {
		return nil
	}

	cw.mu.Lock()
	cw.pending = append(cw.pending, entries...)
	if over := len(cw.pending) - 10*cw.opts.BatchSize; over > 0 {
		cw.pending = cw.pending[over:]
		if selflog.IsEnabled() {
			selflog.Printf("[cloudwatch] local buffer full, dropped %d entries", over)
		}
	}
	shouldFlush := len(cw.pending) >= cw.opts.BatchSize
	cw.mu.Unlock()

	if shouldFlush {
		select {
		case cw.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush forces delivery of everything pending.
func (cw *CloudWatch) Flush(ctx context.Context) error {
	if !cw.enabled {
		return nil
	}
	cw.ship(ctx)
	return nil
}

// Close flushes pending entries and stops the worker.
func (cw *CloudWatch) Close() error {
	if !cw.enabled {
		return nil
	}
	cw.stopOnce.Do(func() { close(cw.stopCh) })
	cw.wg.Wait()
	return nil
}

func (cw *CloudWatch) worker() {
	defer cw.wg.Done()

	ticker := time.NewTicker(cw.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cw.stopCh:
			cw.ship(context.Background())
			return
		case <-ticker.C:
			cw.ship(context.Background())
		case <-cw.flushCh:
			cw.ship(context.Background())
		}
	}
}

// ship drains the pending buffer in batch-size chunks. A failed chunk goes
// back to the front of the buffer and shipping stops until the next cycle.
func (cw *CloudWatch) ship(ctx context.Context) {
	for {
		cw.mu.Lock()
		if len(cw.pending) == 0 {
			cw.mu.Unlock()
			return
		}
		n := min(len(cw.pending), cw.opts.BatchSize)
		batch := make([]*core.LogEntry, n)
		copy(batch, cw.pending[:n])
		cw.pending = cw.pending[n:]
		cw.mu.Unlock()

		if err := cw.putBatch(ctx, batch); err != nil {
			if selflog.IsEnabled() {
				selflog.Printf("[cloudwatch] put of %d entries failed: %v", len(batch), err)
			}
			cw.mu.Lock()
			cw.pending = append(batch, cw.pending...)
			cw.mu.Unlock()
			return
		}
	}
}

// putBatch sends one PutLogEvents call, sorted by timestamp as the service
// requires, handling the sequence-token rotation.
func (cw *CloudWatch) putBatch(ctx context.Context, batch []*core.LogEntry) error {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	events := make([]types.InputLogEvent, 0, len(batch))
	for _, entry := range batch {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		events = append(events, types.InputLogEvent{
			Message:   aws.String(string(data)),
			Timestamp: aws.Int64(entry.Timestamp.UnixMilli()),
		})
	}
	if len(events) == 0 {
		return nil
	}

	cw.mu.Lock()
	token := cw.sequenceToken
	streamReady := cw.streamReady
	cw.mu.Unlock()

	if !streamReady {
		if err := cw.ensureStream(ctx); err != nil {
			return err
		}
	}

	input := &cloudwatchlogs.PutLogEventsInput{
		LogEvents:     events,
		LogGroupName:  aws.String(cw.opts.Group),
		LogStreamName: aws.String(cw.opts.Stream),
		SequenceToken: token,
	}

	out, err := cw.client.PutLogEvents(ctx, input)
	if err != nil {
		var seqErr *types.InvalidSequenceTokenException
		if errors.As(err, &seqErr) {
			// Retry once with the token the server expected.
			input.SequenceToken = seqErr.ExpectedSequenceToken
			out, err = cw.client.PutLogEvents(ctx, input)
		}
		if err != nil {
			return err
		}
	}

	cw.mu.Lock()
	cw.sequenceToken = out.NextSequenceToken
	cw.mu.Unlock()
	return nil
}

// ensureStream creates the log stream if it does not exist yet. An
// already-exists response counts as success.
func (cw *CloudWatch) ensureStream(ctx context.Context) error {
	_, err := cw.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(cw.opts.Group),
		LogStreamName: aws.String(cw.opts.Stream),
	})
	if err != nil {
		var exists *types.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return err
		}
	}
	cw.mu.Lock()
	cw.streamReady = true
	cw.mu.Unlock()
	return nil
}
