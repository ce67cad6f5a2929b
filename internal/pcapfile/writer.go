package pcapfile

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Header is the per-file information an output stream inherits from the
// first capture file that produced a match.
type Header struct {
	LinkType layers.LinkType
	Snaplen  uint32
}

// HeaderOf returns the header of an open reader.
func HeaderOf(r Reader) Header {
	return Header{LinkType: r.LinkType(), Snaplen: r.Snaplen()}
}

// Sink creates the destination of an output stream.
type Sink func() (io.WriteCloser, error)

// FileSink creates (truncating) path when the first packet is written.
func FileSink(path string) Sink {
	return func() (io.WriteCloser, error) {
		return os.Create(path)
	}
}

// WriterSink writes to w and never closes it.
func WriterSink(w io.Writer) Sink {
	return func() (io.WriteCloser, error) {
		return nopCloser{w}, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Output is a capture stream that only comes into existence on its first
// packet, so a run without matches leaves no artifact behind.
type Output struct {
	sink    Sink
	dst     io.WriteCloser
	counter *countingWriter
	writer  *pcapgo.Writer
	header  Header
	packets int
}

// NewOutput returns an output stream backed by sink.
func NewOutput(sink Sink) *Output {
	return &Output{sink: sink}
}

// WritePacket appends a packet, creating the stream with hdr if needed.
func (o *Output) WritePacket(hdr Header, ci gopacket.CaptureInfo, data []byte) error {
	if o.writer == nil {
		dst, err := o.sink()
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		o.dst = dst
		o.counter = &countingWriter{w: dst}
		o.writer = pcapgo.NewWriter(o.counter)
		o.header = hdr
		snaplen := hdr.Snaplen
		if snaplen == 0 {
			snaplen = DefaultSnaplen
		}
		if err := o.writer.WriteFileHeader(snaplen, hdr.LinkType); err != nil {
			return fmt.Errorf("failed to write pcap header: %w", err)
		}
	}
	if err := o.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	o.packets++
	return nil
}

// Started reports whether the stream has been created.
func (o *Output) Started() bool { return o.writer != nil }

// Header is the header the stream was created with.
func (o *Output) Header() Header { return o.header }

// Packets is the number of packets written.
func (o *Output) Packets() int { return o.packets }

// Bytes is the number of bytes written, file header included.
func (o *Output) Bytes() int64 {
	if o.counter == nil {
		return 0
	}
	return o.counter.n
}

// Close closes the destination if it was ever created.
func (o *Output) Close() error {
	if o.dst == nil {
		return nil
	}
	return o.dst.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
