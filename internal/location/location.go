// Package location holds the reference city list and the autocomplete filter
// run against it.
package location

import (
	"strings"

	"golang.org/x/text/cases"
)

// UnknownCountry is used when a city is not present in the reference list.
const UnknownCountry = "Unknown"

// City is one entry of the reference city list served by the backend.
type City struct {
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Filter returns the cities whose name contains query, ignoring case, in the
// order they appear in cities. An empty query returns every city. The result
// is always a new slice so filtering one field never aliases another's.
func Filter(cities []City, query string) []City {
	out := make([]City, 0, len(cities))
	if query == "" {
		return append(out, cities...)
	}
	fold := cases.Fold()
	q := fold.String(query)
	for _, c := range cities {
		if strings.Contains(fold.String(c.City), q) {
			out = append(out, c)
		}
	}
	return out
}

// CountryOf returns the country of the first city whose name equals name
// exactly, or UnknownCountry.
func CountryOf(cities []City, name string) string {
	for _, c := range cities {
		if c.City == name {
			return c.Country
		}
	}
	return UnknownCountry
}
