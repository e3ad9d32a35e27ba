package kml

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand"
	"time"
)

// GenerateOptions describes a synthetic placemark export
type GenerateOptions struct {
	Placemarks int
	Seed       int64

	// BrokenRatio is the share of placemarks with missing, malformed or out
	// of range coordinates.
	BrokenRatio float64

	// Geographic bounds for generated points
	MinLat, MaxLat float64
	MinLon, MaxLon float64

	Start time.Time
}

// DefaultGenerateOptions returns options for a small European track.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Placemarks:  1000,
		Seed:        1,
		BrokenRatio: 0.05,
		MinLat:      47.0,
		MaxLat:      55.0,
		MinLon:      5.0,
		MaxLon:      15.0,
		Start:       time.Date(2021, 5, 23, 8, 0, 0, 0, time.UTC),
	}
}

// Generate writes a KML document shaped like a UFED location export. The
// output is fully determined by opts.
func Generate(w io.Writer, opts GenerateOptions) error {
	r := rand.New(rand.NewSource(opts.Seed))
	bw := bufio.NewWriter(w)

	fmt.Fprint(bw, xml.Header)
	fmt.Fprintln(bw, `<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:gx="http://www.google.com/kml/ext/2.2">`)
	fmt.Fprintln(bw, `<Document><name>Locations</name><Folder><name>Locations</name>`)

	for i := 0; i < opts.Placemarks; i++ {
		lat := opts.MinLat + r.Float64()*(opts.MaxLat-opts.MinLat)
		lon := opts.MinLon + r.Float64()*(opts.MaxLon-opts.MinLon)
		when := opts.Start.Add(time.Duration(i) * time.Minute)

		coords := fmt.Sprintf("<Point><coordinates>%.6f,%.6f,0</coordinates></Point>", lon, lat)
		if r.Float64() < opts.BrokenRatio {
			switch r.Intn(3) {
			case 0:
				coords = ""
			case 1:
				coords = "<Point><coordinates>n/a,n/a</coordinates></Point>"
			default:
				coords = fmt.Sprintf("<Point><coordinates>%.6f,%.6f</coordinates></Point>", lon+200, lat)
			}
		}

		// Every third placemark carries its time the way UFED does, in ExtendedData.
		var timeBlock string
		if i%3 == 0 {
			timeBlock = fmt.Sprintf(`<ExtendedData><Data name="Timestamp"><value>%s(UTC+0)</value></Data></ExtendedData>`,
				when.Format("02/01/2006 15:04:05"))
		} else {
			timeBlock = fmt.Sprintf("<TimeStamp><when>%s</when></TimeStamp>", when.Format(time.RFC3339))
		}

		fmt.Fprintf(bw, "<Placemark><name>Location %d</name><description><![CDATA[Source: %s]]></description>%s%s</Placemark>\n",
			i+1, sources[r.Intn(len(sources))], timeBlock, coords)
	}

	fmt.Fprintln(bw, `</Folder></Document></kml>`)
	return bw.Flush()
}

var sources = []string{"GPS", "WiFi", "Cell tower", "Photo EXIF", "App data"}
