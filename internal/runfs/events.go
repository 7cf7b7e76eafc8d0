package runfs

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
)

// EventType is the discriminator of an events.jsonl line.
type EventType string

const (
	EventMetric        EventType = "metric"
	EventLog           EventType = "log"
	EventImage         EventType = "image"
	EventSummary       EventType = "summary"
	EventStatus        EventType = "status"
	EventPrimaryMetric EventType = "primary_metric"
)

// RawEvent is the outer envelope used to discriminate on Type before
// unmarshaling into a concrete event struct. Unknown Type values are kept
// as opaque passthrough in Raw for the debug endpoint.
type RawEvent struct {
	Type EventType       `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// MetricEvent is a single metric observation.
type MetricEvent struct {
	Ts    float64  `json:"ts"`
	Step  int64    `json:"step"`
	Name  string   `json:"name"`
	Value *float64 `json:"value"` // nil is treated as NaN, excluded from best-metric updates
	Stage string   `json:"stage,omitempty"`
}

// LogEvent is a single captured log line, also mirrored verbatim to logs.txt.
type LogEvent struct {
	Ts   float64 `json:"ts"`
	Text string  `json:"text"`
}

// ImageEvent references a logged image file relative to the run directory.
type ImageEvent struct {
	Ts      float64 `json:"ts"`
	Step    int64   `json:"step"`
	Key     string  `json:"key"`
	Path    string  `json:"path"`
	Caption string  `json:"caption,omitempty"`
}

// SummaryEvent carries a partial update folded into summary.json.
type SummaryEvent struct {
	Ts     float64        `json:"ts"`
	Update map[string]any `json:"update"`
}

// StatusEvent records a status transition observed by the writer.
type StatusEvent struct {
	Ts     float64 `json:"ts"`
	Status string  `json:"status"`
	Reason string  `json:"reason,omitempty"`
}

// PrimaryMetricEvent designates (or redesignates) the optimization target.
type PrimaryMetricEvent struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

// EventVisitor receives each successfully parsed line of an events.jsonl
// scan. index is the zero-based ordinal of the line within the file,
// independent of parse failures, used as an insertion-order tiebreaker.
// Unknown types invoke Unknown with the raw bytes so the debug endpoint
// can render them.
type EventVisitor struct {
	Metric        func(index int64, e MetricEvent)
	Log           func(index int64, e LogEvent)
	Image         func(index int64, e ImageEvent)
	Summary       func(index int64, e SummaryEvent)
	Status        func(index int64, e StatusEvent)
	PrimaryMetric func(index int64, e PrimaryMetricEvent)
	Unknown       func(index int64, eventType string, raw json.RawMessage)
}

// ScanResult reports how much of the file was consumed and how many lines
// failed to parse.
type ScanResult struct {
	BytesConsumed int64
	LinesSeen     int64
	ParseErrors   int64
}

// ScanEvents reads newline-delimited JSON objects from r starting at
// startIndex (the ordinal of the first line in r), dispatching each to v.
// A partial final line (no trailing newline, EOF mid-object) is ignored
// rather than treated as a parse error, since a writer may still be
// appending to the file concurrently.
func ScanEvents(r io.Reader, startIndex int64, v EventVisitor) (ScanResult, error) {
	var res ScanResult
	reader := bufio.NewReaderSize(r, 64*1024)
	index := startIndex

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			res.BytesConsumed += int64(len(line))
			dispatchLine(line, index, v, &res)
			index++
		}
		if err != nil {
			// io.EOF with a non-empty, non-newline-terminated line means a
			// partial trailing line — deliberately dropped, not consumed.
			break
		}
	}
	res.LinesSeen = index - startIndex
	return res, nil
}

func dispatchLine(line []byte, index int64, v EventVisitor, res *ScanResult) {
	trimmed := trimNewline(line)
	if len(trimmed) == 0 {
		return
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		res.ParseErrors++
		return
	}

	switch EventType(head.Type) {
	case EventMetric:
		var e MetricEvent
		if json.Unmarshal(trimmed, &e) == nil {
			if v.Metric != nil {
				v.Metric(index, e)
			}
		} else {
			res.ParseErrors++
		}
	case EventLog:
		var e LogEvent
		if json.Unmarshal(trimmed, &e) == nil {
			if v.Log != nil {
				v.Log(index, e)
			}
		} else {
			res.ParseErrors++
		}
	case EventImage:
		var e ImageEvent
		if json.Unmarshal(trimmed, &e) == nil {
			if v.Image != nil {
				v.Image(index, e)
			}
		} else {
			res.ParseErrors++
		}
	case EventSummary:
		var e SummaryEvent
		if json.Unmarshal(trimmed, &e) == nil {
			if v.Summary != nil {
				v.Summary(index, e)
			}
		} else {
			res.ParseErrors++
		}
	case EventStatus:
		var e StatusEvent
		if json.Unmarshal(trimmed, &e) == nil {
			if v.Status != nil {
				v.Status(index, e)
			}
		} else {
			res.ParseErrors++
		}
	case EventPrimaryMetric:
		var e PrimaryMetricEvent
		if json.Unmarshal(trimmed, &e) == nil {
			if v.PrimaryMetric != nil {
				v.PrimaryMetric(index, e)
			}
		} else {
			res.ParseErrors++
		}
	default:
		// Forward-compatible: unknown types are never an error.
		if v.Unknown != nil {
			v.Unknown(index, head.Type, json.RawMessage(append([]byte(nil), trimmed...)))
		}
	}
}

func trimNewline(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}

// FoldSummary replays every summary event in events.jsonl (from byte 0,
// since summary.json is the accumulated fold of the whole stream per
// ) and merges each Update into the result key-by-key in
// file order, later updates overwriting earlier ones.
func FoldSummary(eventsPath string) (map[string]any, error) {
	f, err := os.Open(eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	defer f.Close()

	acc := map[string]any{}
	_, err = ScanEvents(f, 0, EventVisitor{
		Summary: func(_ int64, e SummaryEvent) {
			for k, v := range e.Update {
				acc[k] = v
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}
