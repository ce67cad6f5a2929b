// Package spool indexes rotated capture files in a spool directory and selects
// the minimal time-ordered set that can hold packets for a time window.
package spool

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// filenamePattern matches prefix.timestamp and prefix.producer.timestamp.
var filenamePattern = regexp.MustCompile(`(.*?)\.(\d+)(\.(\d+))?`)

// CaptureFile is one rotated capture file in a spool.
type CaptureFile struct {
	Path       string
	Name       string
	ProducerID uint64
	Timestamp  uint64
	Size       int64
	ModTime    time.Time
}

// Groups holds capture files by producer id, each ascending by timestamp.
// A file covers [Timestamp, next.Timestamp); the last one is open ended.
type Groups map[uint64][]CaptureFile

// Options selects files for a window.
type Options struct {
	Prefix    string
	StartTime time.Time
	// Duration of zero means the window has no end.
	Duration time.Duration
}

// ParseFilename extracts the producer id and start timestamp from a rotated
// capture file name. A name with a single numeric group has producer 0. With
// two groups the smaller is the producer id.
func ParseFilename(name string) (producer, timestamp uint64, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	a, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if m[4] == "" {
		return 0, a, true
	}
	b, err := strconv.ParseUint(m[4], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if a > b {
		a, b = b, a
	}
	return a, b, true
}

// SelectFiles lists the regular files of directory that may hold packets in
// the window. It returns ok=false as soon as a name does not follow the
// rotation scheme; the caller then has to scan every file.
func SelectFiles(directory string, opts Options) (Groups, bool, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read spool directory: %w", err)
	}

	groups := make(Groups)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if opts.Prefix != "" && !strings.HasPrefix(name, opts.Prefix) {
			continue
		}
		producer, ts, ok := ParseFilename(name)
		if !ok {
			return nil, false, nil
		}
		info, err := entry.Info()
		if err != nil {
			// Rotated away between listing and stat.
			continue
		}
		groups[producer] = append(groups[producer], CaptureFile{
			Path:       filepath.Join(directory, name),
			Name:       name,
			ProducerID: producer,
			Timestamp:  ts,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
	}

	start, end := WindowSeconds(opts.StartTime, opts.Duration)
	for producer, files := range groups {
		sort.Slice(files, func(i, j int) bool { return files[i].Timestamp < files[j].Timestamp })
		kept := files[:0:0]
		for i, f := range files {
			if f.Timestamp > end {
				continue
			}
			if i+1 < len(files) && files[i+1].Timestamp < start {
				continue
			}
			kept = append(kept, f)
		}
		if len(kept) == 0 {
			delete(groups, producer)
			continue
		}
		groups[producer] = kept
	}
	return groups, true, nil
}

// WindowSeconds converts a window to whole epoch seconds. A zero start time is
// epoch 0 and a zero duration gives an end of math.MaxUint64.
func WindowSeconds(startTime time.Time, duration time.Duration) (start, end uint64) {
	if !startTime.IsZero() && startTime.Unix() > 0 {
		start = uint64(startTime.Unix())
	}
	if duration <= 0 {
		return start, math.MaxUint64
	}
	secs := uint64((duration + time.Second - 1) / time.Second)
	if start > math.MaxUint64-secs {
		return start, math.MaxUint64
	}
	return start, start + secs
}

// Sequences returns the groups ordered by ascending producer id.
func (g Groups) Sequences() [][]CaptureFile {
	ids := make([]uint64, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	seqs := make([][]CaptureFile, 0, len(ids))
	for _, id := range ids {
		seqs = append(seqs, g[id])
	}
	return seqs
}

// Len is the total number of files across all groups.
func (g Groups) Len() int {
	n := 0
	for _, files := range g {
		n += len(files)
	}
	return n
}
