package sinks

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/fieldserve/pulselog/core"
)

// PayloadTransformer encodes a batch of entries into a sink-specific request
// body, returning the body and its content type.
type PayloadTransformer func(entries []*core.LogEntry) (body []byte, contentType string, err error)

// JSONTransformer encodes the batch as a plain JSON array. This is the
// default HTTP payload.
func JSONTransformer() PayloadTransformer {
	return func(entries []*core.LogEntry) ([]byte, string, error) {
		body, err := json.Marshal(entries)
		return body, "application/json", err
	}
}

// BulkTransformer encodes the batch as newline-delimited bulk format for a
// search-index sink: each entry is preceded by an action line naming the
// date-suffixed index.
func BulkTransformer(index string) PayloadTransformer {
	return func(entries []*core.LogEntry) ([]byte, string, error) {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, entry := range entries {
			action := map[string]any{
				"index": map[string]any{
					"_index": index + "-" + entry.Timestamp.Format("2006.01.02"),
				},
			}
			if err := enc.Encode(action); err != nil {
				return nil, "", err
			}
			if err := enc.Encode(entry); err != nil {
				return nil, "", err
			}
		}
		return buf.Bytes(), "application/x-ndjson", nil
	}
}

// StreamTransformer encodes the batch as a push-style streams payload for a
// log-aggregation sink: entries are grouped into labeled streams (the static
// labels plus the entry level) with nanosecond timestamps and JSON lines,
// each stream sorted by timestamp.
func StreamTransformer(labels map[string]string) PayloadTransformer {
	return func(entries []*core.LogEntry) ([]byte, string, error) {
		type stream struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		}

		byLevel := make(map[core.Level][]*core.LogEntry)
		for _, entry := range entries {
			byLevel[entry.Level] = append(byLevel[entry.Level], entry)
		}

		levels := make([]core.Level, 0, len(byLevel))
		for lvl := range byLevel {
			levels = append(levels, lvl)
		}
		sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

		streams := make([]stream, 0, len(levels))
		for _, lvl := range levels {
			group := byLevel[lvl]
			sort.SliceStable(group, func(i, j int) bool {
				return group[i].Timestamp.Before(group[j].Timestamp)
			})

			labelSet := make(map[string]string, len(labels)+1)
			for k, v := range labels {
				labelSet[k] = v
			}
			labelSet["level"] = lvl.String()

			values := make([][2]string, 0, len(group))
			for _, entry := range group {
				line, err := json.Marshal(entry)
				if err != nil {
					return nil, "", err
				}
				values = append(values, [2]string{
					strconv.FormatInt(entry.Timestamp.UnixNano(), 10),
					string(line),
				})
			}
			streams = append(streams, stream{Stream: labelSet, Values: values})
		}

		body, err := json.Marshal(map[string]any{"streams": streams})
		return body, "application/json", err
	}
}
