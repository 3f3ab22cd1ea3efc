package keys

import (
	"net"
	"strings"
)

// ParseWhitelist splits a stored whitelist blob into entries. Entries may be
// separated by newlines, commas, or semicolons.
func ParseWhitelist(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	})
	var entries []string
	for _, f := range fields {
		if e := strings.TrimSpace(f); e != "" {
			entries = append(entries, e)
		}
	}
	return entries
}

// IPAllowed reports whether ip matches any whitelist entry. Entries may be a
// literal IPv4 address, a CIDR block, or a dash-delimited inclusive range.
// Malformed input on either side never matches and never panics.
func IPAllowed(ip string, whitelist []string) bool {
	addr, ok := parseIPv4(ip)
	if !ok {
		return false
	}

	for _, entry := range whitelist {
		switch {
		case strings.Contains(entry, "/"):
			if ipInCIDR(ip, entry) {
				return true
			}
		case strings.Contains(entry, "-"):
			if ipInRange(addr, entry) {
				return true
			}
		default:
			if ip == entry {
				return true
			}
		}
	}
	return false
}

func ipInCIDR(ip, cidr string) bool {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return network.Contains(parsed)
}

func ipInRange(addr uint32, entry string) bool {
	bounds := strings.SplitN(entry, "-", 2)
	if len(bounds) != 2 {
		return false
	}
	start, okStart := parseIPv4(strings.TrimSpace(bounds[0]))
	end, okEnd := parseIPv4(strings.TrimSpace(bounds[1]))
	if !okStart || !okEnd {
		return false
	}
	return addr >= start && addr <= end
}

func parseIPv4(s string) (uint32, bool) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}
