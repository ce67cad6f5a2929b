// Package query turns fetch requests into a normalized export query.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultDuration applies to every omitted duration field.
const DefaultDuration = time.Minute

// Query types.
const (
	TypeFilter = "filter"
	TypeEvent  = "event"
)

// FetchRequest is the raw request as submitted by a client.
type FetchRequest struct {
	QueryType      string
	Spool          string
	Filter         string
	StartTime      string
	Duration       string
	Event          string
	DurationBefore string
	DurationAfter  string
}

// RequestFromValues reads a request from query or form values.
func RequestFromValues(v url.Values) FetchRequest {
	return FetchRequest{
		QueryType:      v.Get("query-type"),
		Spool:          v.Get("spool"),
		Filter:         v.Get("filter"),
		StartTime:      v.Get("start-time"),
		Duration:       v.Get("duration"),
		Event:          v.Get("event"),
		DurationBefore: v.Get("duration-before"),
		DurationAfter:  v.Get("duration-after"),
	}
}

// FetchQuery is the normalized form of a request.
type FetchQuery struct {
	StartTime  time.Time
	Duration   time.Duration
	Filter     string
	OutputName string
}

// Event is a network event as produced by an IDS.
type Event struct {
	Timestamp string      `json:"timestamp"`
	EventType string      `json:"event_type"`
	Proto     string      `json:"proto"`
	SrcIP     string      `json:"src_ip"`
	SrcPort   *uint16     `json:"src_port,omitempty"`
	DestIP    string      `json:"dest_ip"`
	DestPort  *uint16     `json:"dest_port,omitempty"`
	Alert     *EventAlert `json:"alert,omitempty"`
	Flow      *EventFlow  `json:"flow,omitempty"`
	Netflow   *EventFlow  `json:"netflow,omitempty"`
}

type EventAlert struct {
	SignatureID uint64 `json:"signature_id"`
}

type EventFlow struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// ValidationError is a rejected request. Reason is safe to show to the
// client; Err carries the detail for the server log.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(reason string, err error) error {
	return &ValidationError{Reason: reason, Err: err}
}

// IsValidationError reports whether err is a rejected request.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Translate normalizes a request. Spool resolution is left to the caller.
func Translate(req FetchRequest) (FetchQuery, error) {
	var (
		q   FetchQuery
		err error
	)
	switch req.QueryType {
	case TypeFilter:
		q, err = translateFilter(req)
	case TypeEvent:
		q, err = translateEvent(req)
	default:
		return FetchQuery{}, invalid("bad query type", fmt.Errorf("query type %q", req.QueryType))
	}
	if err != nil {
		return FetchQuery{}, err
	}
	if q.Duration <= 0 {
		return FetchQuery{}, invalid("invalid duration", fmt.Errorf("window of %s", q.Duration))
	}
	return q, nil
}

func translateFilter(req FetchRequest) (FetchQuery, error) {
	if req.StartTime == "" {
		return FetchQuery{}, invalid("start-time is required", nil)
	}
	start, err := ParseTimestamp(req.StartTime)
	if err != nil {
		return FetchQuery{}, invalid("invalid start-time", err)
	}
	duration, err := durationOrDefault(req.Duration)
	if err != nil {
		return FetchQuery{}, invalid("invalid duration", err)
	}
	if strings.TrimSpace(req.Filter) == "" {
		return FetchQuery{}, invalid("filter is required", nil)
	}
	return FetchQuery{
		StartTime:  start,
		Duration:   duration,
		Filter:     req.Filter,
		OutputName: fmt.Sprintf("%d.pcap", start.Unix()),
	}, nil
}

func translateEvent(req FetchRequest) (FetchQuery, error) {
	if req.Event == "" {
		return FetchQuery{}, invalid("no event provided for event query", nil)
	}
	var event Event
	if err := json.Unmarshal([]byte(req.Event), &event); err != nil {
		return FetchQuery{}, invalid("bad event", fmt.Errorf("failed to decode event %q: %w", req.Event, err))
	}
	if event.Proto == "" || event.SrcIP == "" || event.DestIP == "" || event.EventType == "" {
		return FetchQuery{}, invalid("bad event", fmt.Errorf("event is missing required fields: %q", req.Event))
	}

	start, duration, err := eventTimeframe(event, req)
	if err != nil {
		return FetchQuery{}, err
	}
	return FetchQuery{
		StartTime:  start,
		Duration:   duration,
		Filter:     EventFilter(event),
		OutputName: EventOutputName(event, start),
	}, nil
}

// EventFilter builds the traffic filter for an event's flow.
func EventFilter(event Event) string {
	proto := strings.ToLower(event.Proto)
	if event.SrcPort != nil && event.DestPort != nil {
		return fmt.Sprintf("%s and ((host %s and port %d) and (host %s and port %d))",
			proto, event.SrcIP, *event.SrcPort, event.DestIP, *event.DestPort)
	}
	return fmt.Sprintf("%s and host %s and host %s", proto, event.SrcIP, event.DestIP)
}

// EventOutputName names the download for an event.
func EventOutputName(event Event, start time.Time) string {
	var sig uint64
	if event.Alert != nil {
		sig = event.Alert.SignatureID
	}
	var sport, dport uint16
	if event.SrcPort != nil {
		sport = *event.SrcPort
	}
	if event.DestPort != nil {
		dport = *event.DestPort
	}
	return fmt.Sprintf("%d-%d-%s-%d-%s-%d.pcap", sig, start.Unix(), event.SrcIP, sport, event.DestIP, dport)
}

func eventTimeframe(event Event, req FetchRequest) (time.Time, time.Duration, error) {
	var flow *EventFlow
	switch event.EventType {
	case "flow":
		flow = event.Flow
	case "netflow":
		flow = event.Netflow
	}
	if flow != nil {
		if start, duration, ok := flowTimeframe(flow); ok {
			return start, duration, nil
		}
	}

	ts, err := ParseTimestamp(event.Timestamp)
	if err != nil {
		return time.Time{}, 0, invalid("failed to parse event timestamp", err)
	}
	before, err := durationOrDefault(req.DurationBefore)
	if err != nil {
		return time.Time{}, 0, invalid("invalid duration-before", err)
	}
	after, err := durationOrDefault(req.DurationAfter)
	if err != nil {
		return time.Time{}, 0, invalid("invalid duration-after", err)
	}
	start := ts.Add(-before)
	end := ts.Add(after)
	return start, end.Sub(start), nil
}

// flowTimeframe widens a flow by a second on each side so the first and last
// packets of the flow fall inside the window.
func flowTimeframe(flow *EventFlow) (time.Time, time.Duration, bool) {
	start, err := ParseTimestamp(flow.Start)
	if err != nil {
		return time.Time{}, 0, false
	}
	adjusted := start.Add(-time.Second)
	if flow.End != nil {
		if end, err := ParseTimestamp(*flow.End); err == nil {
			return adjusted, end.Sub(start) + 2*time.Second, true
		}
	}
	return adjusted, DefaultDuration, true
}

func durationOrDefault(s string) (time.Duration, error) {
	if s == "" {
		return DefaultDuration, nil
	}
	return ParseDuration(s)
}

var durationPattern = regexp.MustCompile(`^(\d+)(.+)$`)

// ParseDuration parses "<integer><unit>" where unit is s, m or h.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration string: %s", s)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %w", err)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	default:
		return 0, fmt.Errorf("invalid duration unit: %s", m[2])
	}
	if value > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("duration out of range: %s", s)
	}
	return time.Duration(value) * unit, nil
}

var offsetPattern = regexp.MustCompile(`([+-])(\d\d)(\d\d)$`)

// ParseTimestamp parses integer epoch seconds or an RFC3339 timestamp. An
// offset written without a colon, as in 2022-01-01T00:00:00.000-0600, is
// accepted.
func ParseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	fixed := offsetPattern.ReplaceAllString(s, "$1$2:$3")
	t, err := time.Parse(time.RFC3339, fixed)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
