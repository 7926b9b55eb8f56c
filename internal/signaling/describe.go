package signaling

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Summary is what a person checking a code wants to know about it
type Summary struct {
	Type webrtc.SDPType
	// Media lists the m-line kinds in order (audio, video, application)
	Media []string
	// Candidates counts ICE candidates by type (host, srflx, relay, prflx)
	Candidates map[string]int
	// Addresses are the distinct candidate addresses
	Addresses []string
	// PublicAddress is the first publicly routable server-reflexive
	// address, the one a peer behind another NAT will try.
	PublicAddress string
}

// HasDataChannel reports whether the description negotiates a data channel
func (s Summary) HasDataChannel() bool {
	for _, m := range s.Media {
		if m == "application" {
			return true
		}
	}
	return false
}

// Describe parses a description and summarizes its media and candidates
func Describe(desc webrtc.SessionDescription) (Summary, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return Summary{}, fmt.Errorf("failed to parse sdp: %w", err)
	}

	sum := Summary{Type: desc.Type, Candidates: make(map[string]int)}
	seen := make(map[string]bool)
	add := func(attrs []sdp.Attribute) {
		for _, attr := range attrs {
			if attr.Key != "candidate" {
				continue
			}
			typ, addr := candidateFields(attr.Value)
			if typ == "" {
				continue
			}
			sum.Candidates[typ]++
			if typ == "srflx" && sum.PublicAddress == "" && isPublicIP(net.ParseIP(addr)) {
				sum.PublicAddress = addr
			}
			if addr != "" && !seen[addr] {
				seen[addr] = true
				sum.Addresses = append(sum.Addresses, addr)
			}
		}
	}

	add(parsed.Attributes)
	for _, media := range parsed.MediaDescriptions {
		sum.Media = append(sum.Media, media.MediaName.Media)
		add(media.Attributes)
	}
	sort.Strings(sum.Addresses)
	return sum, nil
}

// candidateFields pulls the type and address out of a candidate attribute:
// foundation component transport priority address port typ <type> ...
func candidateFields(value string) (typ, addr string) {
	fields := strings.Fields(value)
	if len(fields) < 8 {
		return "", ""
	}
	for i := 6; i < len(fields)-1; i++ {
		if fields[i] == "typ" {
			return fields[i+1], fields[4]
		}
	}
	return "", ""
}

// isPublicIP checks if an IP address is publicly routable
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return false
	}

	// CGNAT range (100.64.0.0/10)
	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
			return false
		}
	}
	return true
}
