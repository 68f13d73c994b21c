// Package gps converts simulated unit positions to and from NMEA 0183 RMC
// sentences, so the fleet can feed devices that expect a GPS receiver.
package gps

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// KnotsPerMeterPerSecond converts m/s to knots.
const KnotsPerMeterPerSecond = 1.943844

// Fix represents a single GPS fix for one unit.
type Fix struct {
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"lat"`         // decimal degrees
	Longitude  float64   `json:"lon"`         // decimal degrees
	SpeedKnots float64   `json:"speed_knots"` // speed over ground
	CourseDeg  float64   `json:"course_deg"`  // course over ground
	Valid      bool      `json:"valid"`
}

// ErrNotRMC is returned by ParseRMC for well-formed sentences of another type.
var ErrNotRMC = errors.New("gps: not an RMC sentence")

// EncodeRMC renders f as a $GPRMC sentence with checksum, without the
// trailing CRLF.
func EncodeRMC(f Fix) string {
	validity := nmea.ValidRMC
	if !f.Valid {
		validity = nmea.InvalidRMC
	}
	lat, ns := degreesMinutes(f.Latitude, 2, nmea.North, nmea.South)
	lon, ew := degreesMinutes(f.Longitude, 3, nmea.East, nmea.West)
	t := f.Time.UTC()

	body := strings.Join([]string{
		"GPRMC",
		t.Format("150405.000"),
		validity,
		lat, ns,
		lon, ew,
		fmt.Sprintf("%.1f", f.SpeedKnots),
		fmt.Sprintf("%.1f", f.CourseDeg),
		t.Format("020106"),
		"", "", // magnetic variation
		"A",
	}, ",")
	return "$" + body + "*" + nmea.Checksum(body)
}

// ParseRMC parses one NMEA line into a Fix.
func ParseRMC(line string) (Fix, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, fmt.Errorf("gps: missing sentence start: %q", line)
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, err
	}
	if sentence.DataType() != nmea.TypeRMC {
		return Fix{}, ErrNotRMC
	}
	m := sentence.(nmea.RMC)

	return Fix{
		Time: time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
			m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC),
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKnots: m.Speed,
		CourseDeg:  m.Course,
		Valid:      m.Validity == nmea.ValidRMC,
	}, nil
}

// degreesMinutes formats an angle as NMEA (d)ddmm.mmmm plus hemisphere.
func degreesMinutes(v float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	min := math.Round((v-deg)*60*1e4) / 1e4
	if min >= 60 {
		deg++
		min -= 60
	}
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(deg), min), hemi
}
