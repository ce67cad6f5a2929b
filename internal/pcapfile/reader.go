// Package pcapfile reads and writes capture files in pcap and pcapng format.
package pcapfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultSnaplen is used when a file does not declare one (pcapng).
const DefaultSnaplen = 262144

// Reader yields packets from a single capture file in file order.
type Reader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Snaplen() uint32
	Close() error
}

type fileReader struct {
	file     *os.File
	source   gopacket.PacketDataSource
	linkType layers.LinkType
	snaplen  uint32
}

// Open opens a capture file, trying pcapng first and falling back to pcap.
func Open(path string) (Reader, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening pcap file: %w", err)
	}

	ngReader, err := pcapgo.NewNgReader(handle, pcapgo.DefaultNgReaderOptions)
	if err == nil {
		return &fileReader{
			file:     handle,
			source:   ngReader,
			linkType: ngReader.LinkType(),
			snaplen:  DefaultSnaplen,
		}, nil
	}

	if _, err := handle.Seek(0, io.SeekStart); err != nil {
		handle.Close()
		return nil, fmt.Errorf("error resetting file position: %w", err)
	}
	reader, err := pcapgo.NewReader(handle)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("error creating pcap reader: %w", err)
	}
	snaplen := reader.Snaplen()
	if snaplen == 0 {
		snaplen = DefaultSnaplen
	}
	return &fileReader{
		file:     handle,
		source:   reader,
		linkType: reader.LinkType(),
		snaplen:  snaplen,
	}, nil
}

func (r *fileReader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return r.source.ReadPacketData()
}

func (r *fileReader) LinkType() layers.LinkType { return r.linkType }
func (r *fileReader) Snaplen() uint32           { return r.snaplen }
func (r *fileReader) Close() error              { return r.file.Close() }

// EndOfCapture reports whether err is a normal end of a capture file: a clean
// EOF or a file cut short mid-record, which is expected for a file that is
// still being written by the capture daemon.
func EndOfCapture(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "truncated")
}
