package query

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"1m", time.Minute, false},
		{"2h", 2 * time.Hour, false},
		{"0s", 0, false},
		{"10", 0, true},
		{"m", 0, true},
		{"5d", 0, true},
		{"-5s", 0, true},
		{"99999999999999h", 0, true},
		{"99999999999999999999s", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2022, 1, 1, 6, 0, 0, 0, time.UTC)
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2022-01-01T06:00:00Z", want},
		{"2022-01-01T00:00:00-06:00", want},
		{"2022-01-01T00:00:00-0600", want},
		{"2022-01-01T00:00:00.000000-0600", want},
		{"2022-01-01T11:30:00+0530", want},
		{"1641016800", want},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTranslate_Filter(t *testing.T) {
	q, err := Translate(FetchRequest{
		QueryType: TypeFilter,
		StartTime: "2022-01-01T00:00:00Z",
		Filter:    "host 10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1640995200), q.StartTime.Unix())
	assert.Equal(t, time.Minute, q.Duration)
	assert.Equal(t, "host 10.0.0.1", q.Filter)
	assert.Equal(t, "1640995200.pcap", q.OutputName)

	q, err = Translate(FetchRequest{
		QueryType: TypeFilter,
		StartTime: "1640995200",
		Duration:  "5m",
		Filter:    "udp",
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, q.Duration)
}

func TestTranslate_FlowEvent(t *testing.T) {
	q, err := Translate(FetchRequest{
		QueryType: TypeEvent,
		Event: `{"timestamp":"2022-01-01T00:05:00.000000+0000","event_type":"flow","proto":"TCP",
			"src_ip":"10.0.0.1","src_port":40000,"dest_ip":"10.0.0.2","dest_port":443,
			"flow":{"start":"2022-01-01T00:00:00Z","end":"2022-01-01T00:01:00Z"}}`,
	})
	require.NoError(t, err)
	assert.True(t, time.Date(2021, 12, 31, 23, 59, 59, 0, time.UTC).Equal(q.StartTime))
	assert.Equal(t, 62*time.Second, q.Duration)
	assert.Equal(t, "tcp and ((host 10.0.0.1 and port 40000) and (host 10.0.0.2 and port 443))", q.Filter)
	assert.Equal(t, "0-1640995199-10.0.0.1-40000-10.0.0.2-443.pcap", q.OutputName)
}

func TestTranslate_NetflowWithoutEnd(t *testing.T) {
	q, err := Translate(FetchRequest{
		QueryType: TypeEvent,
		Event: `{"timestamp":"2022-01-01T00:05:00Z","event_type":"netflow","proto":"UDP",
			"src_ip":"10.0.0.1","dest_ip":"10.0.0.2","netflow":{"start":"2022-01-01T00:00:00Z"}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1640995199), q.StartTime.Unix())
	assert.Equal(t, DefaultDuration, q.Duration)
	assert.Equal(t, "udp and host 10.0.0.1 and host 10.0.0.2", q.Filter)
	assert.Equal(t, "0-1640995199-10.0.0.1-0-10.0.0.2-0.pcap", q.OutputName)
}

func TestTranslate_AlertEvent(t *testing.T) {
	q, err := Translate(FetchRequest{
		QueryType:      TypeEvent,
		DurationBefore: "30s",
		DurationAfter:  "2m",
		Event: `{"timestamp":"2022-01-01T00:00:00-0600","event_type":"alert","proto":"TCP",
			"src_ip":"10.0.0.1","src_port":1234,"dest_ip":"10.0.0.2","dest_port":80,
			"alert":{"signature_id":2100498},
			"flow":{"start":"2020-01-01T00:00:00Z"}}`,
	})
	require.NoError(t, err)
	ts := time.Date(2022, 1, 1, 6, 0, 0, 0, time.UTC)
	assert.True(t, ts.Add(-30*time.Second).Equal(q.StartTime))
	assert.Equal(t, 150*time.Second, q.Duration)
	assert.Equal(t, "2100498-1641016770-10.0.0.1-1234-10.0.0.2-80.pcap", q.OutputName)
}

func TestTranslate_FlowWithBadStartUsesTimestamp(t *testing.T) {
	q, err := Translate(FetchRequest{
		QueryType: TypeEvent,
		Event: `{"timestamp":"2022-01-01T00:05:00Z","event_type":"flow","proto":"tcp",
			"src_ip":"10.0.0.1","dest_ip":"10.0.0.2","flow":{"start":"soon"}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1640995500-60), q.StartTime.Unix())
	assert.Equal(t, 2*time.Minute, q.Duration)
}

func TestTranslate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		req    FetchRequest
		reason string
	}{
		{"unknown type", FetchRequest{QueryType: "pcap"}, "bad query type"},
		{"missing start", FetchRequest{QueryType: TypeFilter, Filter: "tcp"}, "start-time is required"},
		{"bad start", FetchRequest{QueryType: TypeFilter, StartTime: "noon", Filter: "tcp"}, "invalid start-time"},
		{"bad duration", FetchRequest{QueryType: TypeFilter, StartTime: "1", Duration: "1w", Filter: "tcp"}, "invalid duration"},
		{"zero duration", FetchRequest{QueryType: TypeFilter, StartTime: "1", Duration: "0s", Filter: "tcp"}, "invalid duration"},
		{"missing filter", FetchRequest{QueryType: TypeFilter, StartTime: "1"}, "filter is required"},
		{"missing event", FetchRequest{QueryType: TypeEvent}, "no event provided for event query"},
		{"bad json", FetchRequest{QueryType: TypeEvent, Event: "{"}, "bad event"},
		{"incomplete event", FetchRequest{QueryType: TypeEvent, Event: `{"event_type":"alert"}`}, "bad event"},
		{"bad timestamp", FetchRequest{QueryType: TypeEvent,
			Event: `{"timestamp":"x","event_type":"alert","proto":"tcp","src_ip":"a","dest_ip":"b"}`}, "failed to parse event timestamp"},
		{"bad before", FetchRequest{QueryType: TypeEvent, DurationBefore: "x",
			Event: `{"timestamp":"1","event_type":"alert","proto":"tcp","src_ip":"a","dest_ip":"b"}`}, "invalid duration-before"},
		{"bad after", FetchRequest{QueryType: TypeEvent, DurationAfter: "x",
			Event: `{"timestamp":"1","event_type":"alert","proto":"tcp","src_ip":"a","dest_ip":"b"}`}, "invalid duration-after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Translate(tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestRequestFromValues(t *testing.T) {
	v := url.Values{}
	v.Set("query-type", "filter")
	v.Set("spool", "default")
	v.Set("start-time", "1")
	v.Set("duration-before", "5m")
	req := RequestFromValues(v)
	assert.Equal(t, "filter", req.QueryType)
	assert.Equal(t, "default", req.Spool)
	assert.Equal(t, "1", req.StartTime)
	assert.Equal(t, "5m", req.DurationBefore)
}
