package sinks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pulselog/core"
)

// fakeCloudWatch records calls and can simulate the sequence-token dance.
type fakeCloudWatch struct {
	mu            sync.Mutex
	puts          []*cloudwatchlogs.PutLogEventsInput
	streamCreates int
	nextToken     string
	rejectToken   *string
	streamExists  bool
}

func (f *fakeCloudWatch) PutLogEvents(_ context.Context, params *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejectToken != nil {
		sent := ""
		if params.SequenceToken != nil {
			sent = *params.SequenceToken
		}
		if sent != *f.rejectToken {
			expected := *f.rejectToken
			return nil, &types.InvalidSequenceTokenException{ExpectedSequenceToken: &expected}
		}
	}

	f.puts = append(f.puts, params)
	f.nextToken += "n"
	return &cloudwatchlogs.PutLogEventsOutput{NextSequenceToken: aws.String(f.nextToken)}, nil
}

func (f *fakeCloudWatch) CreateLogStream(_ context.Context, _ *cloudwatchlogs.CreateLogStreamInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCreates++
	if f.streamExists {
		return nil, &types.ResourceAlreadyExistsException{}
	}
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}

func (f *fakeCloudWatch) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func newFakeCloudWatchSink(t *testing.T, fake *fakeCloudWatch) *CloudWatch {
	t.Helper()
	cw := NewCloudWatch(CloudWatchOptions{
		Group:         "g",
		Stream:        "s",
		Client:        fake,
		FlushInterval: time.Hour,
	})
	t.Cleanup(func() { cw.Close() })
	require.True(t, cw.Enabled())
	return cw
}

func TestCloudWatchDisabledWithoutConfig(t *testing.T) {
	assert.False(t, NewCloudWatch(CloudWatchOptions{}).Enabled())
	assert.False(t, NewCloudWatch(CloudWatchOptions{Group: "g", Stream: "s"}).Enabled())
}

func TestCloudWatchShipsSortedEvents(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw := newFakeCloudWatchSink(t, fake)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	late := stampedEntry(core.InfoLevel, "late", base.Add(time.Second))
	early := stampedEntry(core.InfoLevel, "early", base)

	require.NoError(t, cw.LogBatch(context.Background(), []*core.LogEntry{late, early}))
	require.NoError(t, cw.Flush(context.Background()))

	require.Equal(t, 1, fake.putCount())
	put := fake.puts[0]
	assert.Equal(t, "g", *put.LogGroupName)
	assert.Equal(t, "s", *put.LogStreamName)
	require.Len(t, put.LogEvents, 2)

	// Events arrive timestamp-ordered as the service requires.
	assert.Equal(t, base.UnixMilli(), *put.LogEvents[0].Timestamp)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(*put.LogEvents[0].Message), &m))
	assert.Equal(t, "early", m["message"])

	// The stream was created once.
	assert.Equal(t, 1, fake.streamCreates)
}

func TestCloudWatchExistingStreamIsFine(t *testing.T) {
	fake := &fakeCloudWatch{streamExists: true}
	cw := newFakeCloudWatchSink(t, fake)

	cw.Log(stampedEntry(core.InfoLevel, "m", time.Now()))
	require.NoError(t, cw.Flush(context.Background()))
	assert.Equal(t, 1, fake.putCount())
}

func TestCloudWatchSequenceTokenRotation(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw := newFakeCloudWatchSink(t, fake)

	cw.Log(stampedEntry(core.InfoLevel, "one", time.Now()))
	require.NoError(t, cw.Flush(context.Background()))

	cw.Log(stampedEntry(core.InfoLevel, "two", time.Now()))
	require.NoError(t, cw.Flush(context.Background()))

	require.Equal(t, 2, fake.putCount())
	// The second put carries the token returned by the first.
	require.NotNil(t, fake.puts[1].SequenceToken)
	assert.Equal(t, "n", *fake.puts[1].SequenceToken)
}

func TestCloudWatchRecoversFromTokenConflict(t *testing.T) {
	expected := "server-token"
	fake := &fakeCloudWatch{rejectToken: &expected}
	cw := newFakeCloudWatchSink(t, fake)

	cw.Log(stampedEntry(core.InfoLevel, "m", time.Now()))
	require.NoError(t, cw.Flush(context.Background()))

	// The first attempt was rejected; the retry used the server's token and
	// succeeded.
	require.Equal(t, 1, fake.putCount())
	require.NotNil(t, fake.puts[0].SequenceToken)
	assert.Equal(t, expected, *fake.puts[0].SequenceToken)
}
