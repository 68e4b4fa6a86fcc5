// Package clientinfo captures who submitted a request: address, user agent,
// device class and country. Moderators use it to spot abusive reporters.
package clientinfo

import (
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"
)

// Info is the client context stored alongside a report.
type Info struct {
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Resolver extracts Info from HTTP requests. A nil Geo leaves Country empty.
type Resolver struct {
	Geo *Geo
}

// NewResolver creates a resolver using geo for country lookups.
func NewResolver(geo *Geo) *Resolver {
	return &Resolver{Geo: geo}
}

// FromRequest resolves client info from r.
func (res *Resolver) FromRequest(r *http.Request) Info {
	ua := r.Header.Get("User-Agent")
	info := Info{
		IPAddress:  ClientIP(r),
		UserAgent:  ua,
		DeviceType: DeviceType(ua),
	}
	if res != nil && res.Geo != nil {
		info.Country = res.Geo.Country(net.ParseIP(info.IPAddress))
	}
	return info
}

// DeviceType maps a User-Agent string to desktop, mobile, tablet or other.
func DeviceType(ua string) string {
	if ua == "" {
		return "other"
	}
	switch uasurfer.Parse(ua).DeviceType {
	case uasurfer.DeviceComputer:
		return "desktop"
	case uasurfer.DevicePhone:
		return "mobile"
	case uasurfer.DeviceTablet:
		return "tablet"
	default:
		return "other"
	}
}

// ClientIP returns the first X-Forwarded-For hop, or the remote address
// without its port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
