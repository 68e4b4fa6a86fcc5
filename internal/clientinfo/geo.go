package clientinfo

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// Geo looks up countries using a MaxMind DB or a JSON list of CIDR ranges.
type Geo struct {
	db       *geoip2.Reader
	fallback []cidrCountry
}

type cidrCountry struct {
	net     *net.IPNet
	country string
}

// OpenGeo opens the GeoIP2 database at path. When the file is not a MaxMind
// database it is read as a JSON array of {"net": "...", "country": "..."}.
func OpenGeo(path string) (*Geo, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &Geo{db: db}, nil
	}

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, fmt.Errorf("open geoip %s: %w", path, err)
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if jerr := json.Unmarshal(data, &entries); jerr != nil {
		return nil, fmt.Errorf("open geoip %s: %w", path, err)
	}
	g := &Geo{}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, cidrCountry{net: n, country: e.Country})
		}
	}
	return g, nil
}

// Country returns the ISO country code for ip, or "" when unknown.
func (g *Geo) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	if g.db != nil {
		if rec, err := g.db.Country(ip); err == nil {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// Close releases the database.
func (g *Geo) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
