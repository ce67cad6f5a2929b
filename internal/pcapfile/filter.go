package pcapfile

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Matcher decides whether a packet passes a compiled traffic filter.
type Matcher interface {
	Matches(ci gopacket.CaptureInfo, data []byte) bool
}

// Compiler turns a filter expression into a Matcher. The expression is
// compiled against the link type and snap length of the file being read.
type Compiler interface {
	Compile(linkType layers.LinkType, snaplen uint32, expr string) (Matcher, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(linkType layers.LinkType, snaplen uint32, expr string) (Matcher, error)

func (f CompilerFunc) Compile(linkType layers.LinkType, snaplen uint32, expr string) (Matcher, error) {
	return f(linkType, snaplen, expr)
}

// MatchAll passes every packet.
type MatchAll struct{}

func (MatchAll) Matches(gopacket.CaptureInfo, []byte) bool { return true }

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ci gopacket.CaptureInfo, data []byte) bool

func (f MatcherFunc) Matches(ci gopacket.CaptureInfo, data []byte) bool { return f(ci, data) }
