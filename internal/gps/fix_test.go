package gps

import (
	"strings"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRMCParsesBack(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	fix := Fix{
		Time:       at,
		Latitude:   -25.4480,
		Longitude:  -49.2770,
		SpeedKnots: 21.6,
		CourseDeg:  273.4,
		Valid:      true,
	}

	line := EncodeRMC(fix)
	assert.True(t, strings.HasPrefix(line, "$GPRMC,150926.000,A,2526.8800,S,04916.6200,W,21.6,273.4,140326,"), line)

	s, err := nmea.Parse(line)
	require.NoError(t, err)
	rmc, ok := s.(nmea.RMC)
	require.True(t, ok)
	assert.InDelta(t, -25.4480, rmc.Latitude, 1e-5)
	assert.InDelta(t, -49.2770, rmc.Longitude, 1e-5)
	assert.InDelta(t, 21.6, rmc.Speed, 1e-9)
	assert.InDelta(t, 273.4, rmc.Course, 1e-9)
	assert.Equal(t, nmea.ValidRMC, rmc.Validity)

	got, err := ParseRMC(line + "\r\n")
	require.NoError(t, err)
	assert.Equal(t, at, got.Time)
	assert.True(t, got.Valid)
}

func TestEncodeRMCHemispheres(t *testing.T) {
	line := EncodeRMC(Fix{Time: time.Unix(0, 0), Latitude: 51.5, Longitude: 0.25})
	assert.Contains(t, line, ",V,5130.0000,N,00015.0000,E,")

	got, err := ParseRMC(line)
	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.InDelta(t, 51.5, got.Latitude, 1e-9)
	assert.InDelta(t, 0.25, got.Longitude, 1e-9)
}

func TestEncodeRMCMinutesCarry(t *testing.T) {
	// 59.99999' rounds up to the next whole degree instead of printing 60.0000.
	line := EncodeRMC(Fix{Time: time.Unix(0, 0), Latitude: 10.9999999, Longitude: 20})
	assert.Contains(t, line, ",1100.0000,N,")
}

func TestParseRMCRejects(t *testing.T) {
	_, err := ParseRMC("GPRMC,no,dollar")
	assert.Error(t, err)

	_, err = ParseRMC("$GPRMC,150926.000,A,2526.8800,S,04916.6200,W,21.6,273.4,140326,,,A*00")
	assert.Error(t, err, "bad checksum")

	body := "GPGGA,150926.000,2526.8800,S,04916.6200,W,1,08,0.9,920.0,M,0.0,M,,"
	_, err = ParseRMC("$" + body + "*" + nmea.Checksum(body))
	assert.ErrorIs(t, err, ErrNotRMC)
}
