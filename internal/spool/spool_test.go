package spool

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
}

func names(files []CaptureFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name         string
		wantProducer uint64
		wantTS       uint64
		wantOK       bool
	}{
		{"log.pcap.1700000000", 0, 1700000000, true},
		{"log.pcap.2.1700000000", 2, 1700000000, true},
		{"log.pcap.1700000000.2", 2, 1700000000, true},
		{"capture.7.7", 7, 7, true},
		{"log.pcap", 0, 0, false},
		{"README", 0, 0, false},
		{"log.pcap.99999999999999999999999", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer, ts, ok := ParseFilename(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantProducer, producer)
			assert.Equal(t, tt.wantTS, ts)
		})
	}
}

func TestSelectFiles_PrunesOutsideWindow(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "log.pcap.100", "log.pcap.200", "log.pcap.300", "log.pcap.400")

	groups, ok, err := SelectFiles(dir, Options{
		StartTime: time.Unix(250, 0),
		Duration:  60 * time.Second,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// 100 ends at 200 before the window; 400 starts after 310.
	assert.Equal(t, []string{"log.pcap.200", "log.pcap.300"}, names(groups[0]))
}

func TestSelectFiles_LastFileNeverPrunedByNext(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "log.pcap.100", "log.pcap.200")

	groups, ok, err := SelectFiles(dir, Options{StartTime: time.Unix(5000, 0)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"log.pcap.200"}, names(groups[0]))
}

func TestSelectFiles_Defaults(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "log.pcap.300", "log.pcap.100", "log.pcap.200")

	groups, ok, err := SelectFiles(dir, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"log.pcap.100", "log.pcap.200", "log.pcap.300"}, names(groups[0]))
}

func TestSelectFiles_GroupsByProducer(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "eve.2.100", "eve.1.150", "eve.2.50", "eve.1.120")

	groups, ok, err := SelectFiles(dir, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, groups.Len())

	seqs := groups.Sequences()
	require.Len(t, seqs, 2)
	assert.Equal(t, []string{"eve.1.120", "eve.1.150"}, names(seqs[0]))
	assert.Equal(t, []string{"eve.2.50", "eve.2.100"}, names(seqs[1]))
}

func TestSelectFiles_PrefixFilter(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "log.pcap.100", "notes.txt", "other.200")

	groups, ok, err := SelectFiles(dir, Options{Prefix: "log.pcap"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"log.pcap.100"}, names(groups[0]))
}

func TestSelectFiles_UnparsableFallsBack(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "log.pcap.100", "log.pcap.current")

	groups, ok, err := SelectFiles(dir, Options{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, groups)
}

func TestSelectFiles_SkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "log.pcap.100")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0755))

	groups, ok, err := SelectFiles(dir, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, groups.Len())
}

func TestSelectFiles_MissingDirectory(t *testing.T) {
	_, _, err := SelectFiles(filepath.Join(t.TempDir(), "nope"), Options{})
	assert.Error(t, err)
}

func TestWindowSeconds(t *testing.T) {
	start, end := WindowSeconds(time.Time{}, 0)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(math.MaxUint64), end)

	start, end = WindowSeconds(time.Unix(1000, 0), 1500*time.Millisecond)
	assert.Equal(t, uint64(1000), start)
	assert.Equal(t, uint64(1002), end)
}
