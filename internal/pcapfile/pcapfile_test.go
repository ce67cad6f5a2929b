package pcapfile_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EnigmaNetz/Enigma-Spool/internal/pcapfile"
	"EnigmaNetz/Enigma-Spool/internal/spooltest"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func samplePackets() []spooltest.Packet {
	return spooltest.Series(base, time.Second, 3, spooltest.Packet{
		Proto: "tcp", SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 40000, DstPort: 443,
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	pcapPath := filepath.Join(dir, "classic.pcap")
	ngPath := filepath.Join(dir, "next.pcapng")
	require.NoError(t, spooltest.WriteFile(pcapPath, samplePackets()))
	require.NoError(t, spooltest.WriteNgFile(ngPath, samplePackets()))

	tests := []struct {
		name        string
		path        string
		wantSnaplen uint32
	}{
		{"pcap", pcapPath, spooltest.Snaplen},
		{"pcapng", ngPath, pcapfile.DefaultSnaplen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := pcapfile.Open(tt.path)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
			assert.Equal(t, tt.wantSnaplen, r.Snaplen())

			count := 0
			for {
				_, ci, err := r.ReadPacketData()
				if err != nil {
					assert.True(t, pcapfile.EndOfCapture(err), "unexpected error: %v", err)
					break
				}
				assert.True(t, ci.Timestamp.Equal(base.Add(time.Duration(count)*time.Second)))
				count++
			}
			assert.Equal(t, 3, count)
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	_, err := pcapfile.Open(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a capture file"), 0644))
	_, err = pcapfile.Open(junk)
	assert.Error(t, err)
}

func TestOpen_TruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.pcap")
	require.NoError(t, spooltest.WriteFile(path, samplePackets()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-10))

	r, err := pcapfile.Open(path)
	require.NoError(t, err)
	defer r.Close()

	count := 0
	for {
		_, _, err := r.ReadPacketData()
		if err != nil {
			assert.True(t, pcapfile.EndOfCapture(err), "truncation is a normal end: %v", err)
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}

func TestEndOfCapture(t *testing.T) {
	assert.True(t, pcapfile.EndOfCapture(io.EOF))
	assert.True(t, pcapfile.EndOfCapture(fmt.Errorf("reading: %w", io.ErrUnexpectedEOF)))
	assert.True(t, pcapfile.EndOfCapture(errors.New("packet data truncated")))
	assert.False(t, pcapfile.EndOfCapture(errors.New("bad checksum")))
	assert.False(t, pcapfile.EndOfCapture(nil))
}

func TestOutput_Lazy(t *testing.T) {
	created := 0
	var buf bytes.Buffer
	out := pcapfile.NewOutput(func() (io.WriteCloser, error) {
		created++
		return nopWriteCloser{&buf}, nil
	})

	assert.False(t, out.Started())
	require.NoError(t, out.Close())
	assert.Equal(t, 0, created)
	assert.Zero(t, out.Bytes())
}

func TestOutput_WritesHeaderOnce(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.pcap")
	require.NoError(t, spooltest.WriteFile(src, samplePackets()))
	r, err := pcapfile.Open(src)
	require.NoError(t, err)
	defer r.Close()

	dst := filepath.Join(t.TempDir(), "out.pcap")
	out := pcapfile.NewOutput(pcapfile.FileSink(dst))
	for {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			break
		}
		require.NoError(t, out.WritePacket(pcapfile.HeaderOf(r), ci, data))
	}
	require.NoError(t, out.Close())

	assert.True(t, out.Started())
	assert.Equal(t, 3, out.Packets())
	assert.Equal(t, layers.LinkTypeEthernet, out.Header().LinkType)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), out.Bytes())

	pkts, err := spooltest.ReadAll(dst)
	require.NoError(t, err)
	require.Len(t, pkts, 3)
	assert.Equal(t, "10.0.0.1", pkts[0].SrcIP)
	assert.Equal(t, uint16(443), pkts[2].DstPort)
}

func TestOutput_SinkError(t *testing.T) {
	out := pcapfile.NewOutput(func() (io.WriteCloser, error) {
		return nil, errors.New("disk full")
	})
	data, err := spooltest.Build(samplePackets()[0])
	require.NoError(t, err)
	err = out.WritePacket(pcapfile.Header{LinkType: layers.LinkTypeEthernet}, captureInfo(data), data)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, out.Started())
}

func TestMatchAll(t *testing.T) {
	assert.True(t, pcapfile.MatchAll{}.Matches(captureInfo(nil), nil))
}
