package normalize

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

func fragment(coords string) models.Fragment {
	return models.Fragment{Seq: 7, Label: " A ", Coordinates: coords, HasCoordinates: true}
}

func TestFragmentValidCoordinates(t *testing.T) {
	testCases := []struct {
		coords   string
		lat, lon float64
	}{
		{"13.405,52.52", 52.52, 13.405},
		{" 13.405 , 52.52 , 34.0 ", 52.52, 13.405},
		{"-180,-90", -90, -180},
		{"180,90,0", 90, 180},
		{"\n\t-74.0060,40.7128\n", 40.7128, -74.0060},
	}

	for _, tc := range testCases {
		t.Run(tc.coords, func(t *testing.T) {
			res := Fragment(fragment(tc.coords))
			require.True(t, res.OK())
			assert.Nil(t, res.Rejection)
			assert.InDelta(t, tc.lat, res.Record.Latitude, 1e-9)
			assert.InDelta(t, tc.lon, res.Record.Longitude, 1e-9)
			assert.Equal(t, 7, res.Record.Seq)
			assert.Equal(t, "A", res.Record.Label)
		})
	}
}

func TestFragmentRandomValidPairs(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		lat := r.Float64()*180 - 90
		lon := r.Float64()*360 - 180
		res := Fragment(fragment(fmt.Sprintf("%v,%v", lon, lat)))
		require.True(t, res.OK(), "lon=%v lat=%v", lon, lat)
		assert.InDelta(t, lat, res.Record.Latitude, 1e-9)
		assert.InDelta(t, lon, res.Record.Longitude, 1e-9)
	}
}

func TestFragmentRejections(t *testing.T) {
	testCases := []struct {
		name   string
		frag   models.Fragment
		reason models.Reason
	}{
		{"latitude out of range", fragment("10,95"), models.ReasonOutOfRange},
		{"longitude out of range", fragment("200,52.52"), models.ReasonOutOfRange},
		{"negative latitude out of range", fragment("0,-90.0001"), models.ReasonOutOfRange},
		{"non numeric", fragment("abc,def"), models.ReasonMalformedCoordinates},
		{"too many components", fragment("1,2,3,4"), models.ReasonMalformedCoordinates},
		{"single component", fragment("1"), models.ReasonMalformedCoordinates},
		{"empty element", fragment("   "), models.ReasonMalformedCoordinates},
		{"empty component", fragment("1,"), models.ReasonMalformedCoordinates},
		{"NaN", fragment("NaN,1"), models.ReasonMalformedCoordinates},
		{"infinity", fragment("1,Inf"), models.ReasonMalformedCoordinates},
		{"line string", fragment("1,2,0 3,4,0"), models.ReasonMalformedCoordinates},
		{"missing element", models.Fragment{Seq: 7, Label: "A"}, models.ReasonMissingCoordinates},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := Fragment(tc.frag)
			require.False(t, res.OK())
			assert.Nil(t, res.Record)
			require.NotNil(t, res.Rejection)
			assert.Equal(t, tc.reason, res.Rejection.Reason)
			assert.Equal(t, 7, res.Rejection.Seq)
			assert.Equal(t, "A", res.Rejection.Label)
		})
	}
}

func TestFragmentSwappedCoordinatesDetail(t *testing.T) {
	res := Fragment(fragment("52.52,120"))
	require.NotNil(t, res.Rejection)
	assert.Equal(t, models.ReasonOutOfRange, res.Rejection.Reason)
	assert.Contains(t, res.Rejection.Detail, "look swapped")

	res = Fragment(fragment("200,95"))
	require.NotNil(t, res.Rejection)
	assert.NotContains(t, res.Rejection.Detail, "look swapped")
}

func TestFragmentTimestampIsOptional(t *testing.T) {
	f := fragment("13.405,52.52")
	f.Timestamp = "yesterday-ish"
	res := Fragment(f)
	require.True(t, res.OK())
	assert.Nil(t, res.Record.Timestamp)

	f.Timestamp = "2021-05-23T14:03:11Z"
	res = Fragment(f)
	require.True(t, res.OK())
	require.NotNil(t, res.Record.Timestamp)
	assert.Equal(t, time.Date(2021, 5, 23, 14, 3, 11, 0, time.UTC), *res.Record.Timestamp)
}

func TestFragmentTextFields(t *testing.T) {
	res := Fragment(models.Fragment{Coordinates: "1,2", HasCoordinates: true})
	require.True(t, res.OK())
	assert.Equal(t, "", res.Record.Label)
	assert.Equal(t, "", res.Record.Description)

	res = Fragment(models.Fragment{Coordinates: "1,2", HasCoordinates: true, Description: "\n  seen near tower \n"})
	assert.Equal(t, "seen near tower", res.Record.Description)
}

func TestFragmentDeterministic(t *testing.T) {
	f := models.Fragment{Seq: 3, Label: "x", Coordinates: "1,2", HasCoordinates: true, Timestamp: "02.01.2020 10:00:00(UTC+1)"}
	assert.Equal(t, Fragment(f), Fragment(f))
}

func TestParseTimestamp(t *testing.T) {
	testCases := []struct {
		input    string
		expected time.Time
	}{
		{"2021-05-23T14:03:11Z", time.Date(2021, 5, 23, 14, 3, 11, 0, time.UTC)},
		{"2021-05-23T14:03:11.250+02:00", time.Date(2021, 5, 23, 12, 3, 11, 250000000, time.UTC)},
		{"2021-05-23T14:03:11", time.Date(2021, 5, 23, 14, 3, 11, 0, time.UTC)},
		{"2021-05-23 14:03:11", time.Date(2021, 5, 23, 14, 3, 11, 0, time.UTC)},
		{"23/05/2021 14:03:11(UTC+2)", time.Date(2021, 5, 23, 12, 3, 11, 0, time.UTC)},
		{"23/05/2021 14:03:11 (UTC-05:30)", time.Date(2021, 5, 23, 19, 33, 11, 0, time.UTC)},
		{"23.05.2021 14:03:11(UTC+0)", time.Date(2021, 5, 23, 14, 3, 11, 0, time.UTC)},
		{"23.05.2021 14:03(UTC)", time.Date(2021, 5, 23, 14, 3, 0, 0, time.UTC)},
		{"May 23, 2012 04:10:08", time.Date(2012, 5, 23, 4, 10, 8, 0, time.UTC)},
		{"2021-05-23", time.Date(2021, 5, 23, 0, 0, 0, 0, time.UTC)},
		{"2021-05", time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2021", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := ParseTimestamp(tc.input)
			require.True(t, ok)
			assert.True(t, tc.expected.Equal(got), "expected %v, got %v", tc.expected, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseTimestampRejects(t *testing.T) {
	for _, input := range []string{"", "   ", "not a date", "32/01/2021 10:00:00", "23/05/2021 14:03:11(UTC+99)"} {
		t.Run(input, func(t *testing.T) {
			_, ok := ParseTimestamp(input)
			assert.False(t, ok)
		})
	}
}

func BenchmarkFragment(b *testing.B) {
	f := models.Fragment{Label: "x", Coordinates: "13.405,52.52,0", HasCoordinates: true, Timestamp: "23/05/2021 14:03:11(UTC+2)"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fragment(f)
	}
}
