package geo

import (
	"context"
	"strings"
)

// Resolver turns a shipping address into coordinates. Implementations must
// degrade, not fail: an address that cannot be resolved yields (nil, nil) so
// the triggering operation can fall back to coordinate-free behavior.
type Resolver interface {
	Resolve(ctx context.Context, addr Address) (*Coordinates, error)
}

// StaticResolver resolves addresses against in-process centroid tables with
// a city → state → country fallback chain. It stands in for the external
// geocoding service and mirrors its degradation behavior: the finer the
// table that matched, the higher the confidence.
type StaticResolver struct {
	cities    map[string]point // "country/city"
	states    map[string]point // "country/state"
	countries map[string]point
}

type point struct {
	lat, lon float64
}

const (
	cityConfidence    = 0.9
	stateConfidence   = 0.6
	countryConfidence = 0.3
)

// NewStaticResolver returns a resolver seeded with a small built-in centroid
// table covering the markets the platform ships to.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		cities: map[string]point{
			"uk/london":        {51.5074, -0.1278},
			"uk/leeds":         {53.8008, -1.5491},
			"uk/manchester":    {53.4808, -2.2426},
			"uk/birmingham":    {52.4862, -1.8904},
			"us/new york":      {40.7128, -74.0060},
			"us/los angeles":   {34.0522, -118.2437},
			"us/chicago":       {41.8781, -87.6298},
			"de/berlin":        {52.5200, 13.4050},
			"de/munich":        {48.1351, 11.5820},
			"fr/paris":         {48.8566, 2.3522},
			"nl/amsterdam":     {52.3676, 4.9041},
			"es/madrid":        {40.4168, -3.7038},
			"it/milan":         {45.4642, 9.1900},
			"ie/dublin":        {53.3498, -6.2603},
			"ca/toronto":       {43.6532, -79.3832},
			"au/sydney":        {-33.8688, 151.2093},
			"sg/singapore":     {1.3521, 103.8198},
			"jp/tokyo":         {35.6762, 139.6503},
			"in/mumbai":        {19.0760, 72.8777},
			"br/sao paulo":     {-23.5505, -46.6333},
		},
		states: map[string]point{
			"us/ny": {42.1657, -74.9481},
			"us/ca": {36.7783, -119.4179},
			"us/il": {40.6331, -89.3985},
			"us/tx": {31.9686, -99.9018},
			"de/by": {48.7904, 11.4979},
			"ca/on": {51.2538, -85.3232},
			"au/nsw": {-31.2532, 146.9211},
		},
		countries: map[string]point{
			"uk": {55.3781, -3.4360},
			"us": {37.0902, -95.7129},
			"de": {51.1657, 10.4515},
			"fr": {46.2276, 2.2137},
			"nl": {52.1326, 5.2913},
			"es": {40.4637, -3.7492},
			"it": {41.8719, 12.5674},
			"ie": {53.1424, -7.6921},
			"ca": {56.1304, -106.3468},
			"au": {-25.2744, 133.7751},
			"sg": {1.3521, 103.8198},
			"jp": {36.2048, 138.2529},
			"in": {20.5937, 78.9629},
			"br": {-14.2350, -51.9253},
		},
	}
}

// Resolve walks city, then state, then country tables. Unknown addresses
// return (nil, nil).
func (r *StaticResolver) Resolve(_ context.Context, addr Address) (*Coordinates, error) {
	country := normalize(addr.Country)
	if country == "" {
		return nil, nil
	}

	if city := normalize(addr.City); city != "" {
		if p, ok := r.cities[country+"/"+city]; ok {
			return &Coordinates{Latitude: p.lat, Longitude: p.lon, Confidence: cityConfidence}, nil
		}
	}
	if state := normalize(addr.State); state != "" {
		if p, ok := r.states[country+"/"+state]; ok {
			return &Coordinates{Latitude: p.lat, Longitude: p.lon, Confidence: stateConfidence}, nil
		}
	}
	if p, ok := r.countries[country]; ok {
		return &Coordinates{Latitude: p.lat, Longitude: p.lon, Confidence: countryConfidence}, nil
	}
	return nil, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
