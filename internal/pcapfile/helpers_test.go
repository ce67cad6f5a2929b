package pcapfile_test

import (
	"io"

	"github.com/google/gopacket"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func captureInfo(data []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{Timestamp: base, CaptureLength: len(data), Length: len(data)}
}
