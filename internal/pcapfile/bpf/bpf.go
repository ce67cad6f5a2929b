// Package bpf compiles traffic filters with libpcap.
package bpf

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"EnigmaNetz/Enigma-Spool/internal/pcapfile"
)

// Compiler compiles tcpdump-style filter expressions into BPF programs.
type Compiler struct{}

// Compile implements pcapfile.Compiler.
func (Compiler) Compile(linkType layers.LinkType, snaplen uint32, expr string) (pcapfile.Matcher, error) {
	if snaplen == 0 {
		snaplen = pcapfile.DefaultSnaplen
	}
	program, err := pcap.NewBPF(linkType, int(snaplen), expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter: %w", err)
	}
	return program, nil
}
