// Package load generates fetch traffic against a running spool server.
package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Config controls the generated load.
type Config struct {
	// URL is the server base URL, e.g. http://127.0.0.1:7000.
	URL   string
	Spool string
	// StartTime and Window select the exported time range.
	StartTime time.Time
	Window    time.Duration
	Filter    string

	// Duration is how long requests are generated.
	Duration time.Duration
	// Concurrency is the number of clients fetching in parallel.
	Concurrency int
	// Interval is the pause between two requests of one client.
	Interval time.Duration

	User     string
	Password string
	Client   *http.Client
}

// Report aggregates the outcome of a run.
type Report struct {
	Requests int
	ByStatus map[int]int
	Errors   int
	Bytes    uint64
	Elapsed  time.Duration
}

func (r Report) String() string {
	codes := make([]int, 0, len(r.ByStatus))
	for code := range r.ByStatus {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%d=%d", code, r.ByStatus[code]))
	}
	rate := uint64(0)
	if secs := r.Elapsed.Seconds(); secs > 0 {
		rate = uint64(float64(r.Bytes) / secs)
	}
	return fmt.Sprintf("requests=%d errors=%d status[%s] received=%s (%s/s) elapsed=%s",
		r.Requests, r.Errors, strings.Join(parts, " "),
		humanize.IBytes(r.Bytes), humanize.IBytes(rate), r.Elapsed.Round(time.Millisecond))
}

// RequestURL builds the fetch URL for cfg.
func (cfg Config) RequestURL() (string, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if cfg.Window < time.Second {
		return "", errors.New("window must be at least one second")
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/fetch"
	v := url.Values{}
	v.Set("spool", cfg.Spool)
	v.Set("query-type", "filter")
	v.Set("start-time", strconv.FormatInt(cfg.StartTime.Unix(), 10))
	v.Set("duration", strconv.FormatInt(int64(cfg.Window/time.Second), 10)+"s")
	v.Set("filter", cfg.Filter)
	base.RawQuery = v.Encode()
	return base.String(), nil
}

// RunFetchLoad issues fetches from Concurrency clients until Duration has
// passed or ctx is done, and reports what came back.
func RunFetchLoad(ctx context.Context, cfg Config) (Report, error) {
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	target, err := cfg.RequestURL()
	if err != nil {
		return Report{}, err
	}

	report := Report{ByStatus: make(map[int]int)}
	var mu sync.Mutex
	record := func(status int, n int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Requests++
		if err != nil {
			report.Errors++
			return
		}
		report.ByStatus[status]++
		report.Bytes += uint64(n)
	}

	began := time.Now()
	genCtx, cancelGen := context.WithTimeout(ctx, cfg.Duration)
	defer cancelGen()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for genCtx.Err() == nil {
				status, n, err := fetchOnce(genCtx, cfg, target)
				if genCtx.Err() != nil {
					// Cut off by the deadline, not a server failure.
					return
				}
				record(status, n, err)
				if cfg.Interval > 0 {
					select {
					case <-genCtx.Done():
					case <-time.After(cfg.Interval):
					}
				}
			}
		}()
	}
	wg.Wait()
	report.Elapsed = time.Since(began)
	return report, ctx.Err()
}

func fetchOnce(ctx context.Context, cfg Config, target string) (int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}
	if cfg.User != "" {
		req.SetBasicAuth(cfg.User, cfg.Password)
	}
	resp, err := cfg.Client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return resp.StatusCode, n, err
	}
	return resp.StatusCode, n, nil
}
