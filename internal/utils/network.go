package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

var privateRanges = mustParseCIDRs("10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16")

// GetRealIP returns the client IP recorded on payment audits.
//
// Order: X-Real-IP when public, then the first public address in
// X-Forwarded-For, then the first valid X-Forwarded-For entry, then gin's
// ClientIP.
func GetRealIP(c *gin.Context) string {
	if realIP := strings.TrimSpace(c.Request.Header.Get("X-Real-IP")); realIP != "" {
		if ip := net.ParseIP(realIP); ip != nil && !isPrivateIP(ip) {
			return realIP
		}
	}

	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		entries := strings.Split(forwarded, ",")
		for _, entry := range entries {
			candidate := strings.TrimSpace(entry)
			ip := net.ParseIP(candidate)
			if ip != nil && !isPrivateIP(ip) && !ip.IsLoopback() {
				return candidate
			}
		}
		if first := strings.TrimSpace(entries[0]); net.ParseIP(first) != nil {
			return first
		}
	}

	return c.ClientIP()
}

// GetUserAgent returns the User-Agent header, "Unknown" when absent
func GetUserAgent(c *gin.Context) string {
	if userAgent := c.Request.UserAgent(); userAgent != "" {
		return userAgent
	}
	return "Unknown"
}

func isPrivateIP(ip net.IP) bool {
	for _, subnet := range privateRanges {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, subnet)
	}
	return nets
}
