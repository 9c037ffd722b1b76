package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is the subset of GeoIP data visits carry.
type Location struct {
	Country string
	City    string
}

// Provider resolves an IP address to a location. Implementations
// return an error for unparseable input; an IP the database simply
// does not know yields an empty Location, not an error.
type Provider interface {
	Lookup(ip string) (*Location, error)
	Close() error
}

// MaxMindProvider implements Provider over a MaxMind GeoLite2 City
// database file.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

func (m *MaxMindProvider) Lookup(ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.City(parsed)
	if err != nil {
		return nil, err
	}

	return &Location{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}, nil
}

func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
