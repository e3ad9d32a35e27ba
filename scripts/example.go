package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/1F47E/ufed-kml-map/pkg/export"
	"github.com/1F47E/ufed-kml-map/pkg/geo"
	"github.com/1F47E/ufed-kml-map/pkg/kml"
	"github.com/1F47E/ufed-kml-map/pkg/models"
	"github.com/1F47E/ufed-kml-map/pkg/pipeline"
)

// A few placemarks the way a UFED export writes them, including one with
// swapped coordinates and one without any.
const doc = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document><Folder>
  <Placemark><name>Home</name><TimeStamp><when>2021-05-23T07:58:00Z</when></TimeStamp>
    <Point><coordinates>13.4050,52.5200,0</coordinates></Point></Placemark>
  <Placemark><name>Office</name><TimeStamp><when>2021-05-23T08:41:12Z</when></TimeStamp>
    <Point><coordinates>13.3777,52.5163,0</coordinates></Point></Placemark>
  <Placemark><name>Cell tower 262-02</name>
    <ExtendedData><Data name="Timestamp"><value>23/05/2021 12:03:11(UTC+2)</value></Data></ExtendedData>
    <Point><coordinates>13.0645,52.3906,0</coordinates></Point></Placemark>
  <Placemark><name>Airport</name><TimeStamp><when>2021-05-23T15:20:00Z</when></TimeStamp>
    <Point><coordinates>11.7861,48.3538,0</coordinates></Point></Placemark>
  <Placemark><name>Swapped</name><Point><coordinates>52.5200,113.4050,0</coordinates></Point></Placemark>
  <Placemark><name>Empty</name></Placemark>
</Folder></Document>
</kml>`

func main() {
	// Extract and normalize
	ds, err := pipeline.Run(context.Background(), kml.NewExtractor(strings.NewReader(doc)), pipeline.DefaultOptions())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Extracted %d placemarks, %d valid records\n\n", ds.Fragments, len(ds.Records))

	// Example 1: rejected placemarks and why
	fmt.Println("Rejected placemarks:")
	for _, r := range ds.Rejections.Samples {
		fmt.Printf("  #%d %s: %s (%s)\n", r.Seq, r.Label, r.Reason, r.Detail)
	}

	// Example 2: the CSV written by the converter
	fmt.Println("\nCSV:")
	if err := export.WriteCSV(os.Stdout, ds.Records); err != nil {
		log.Fatal(err)
	}

	index := geo.NewIndex(ds.Records)

	// Example 3: records within central Berlin (bounding box)
	berlin := models.BoundingBox{
		BottomLeft: models.Location{Lat: 52.45, Lon: 13.30},
		TopRight:   models.Location{Lat: 52.55, Lon: 13.50},
	}
	inBerlin, err := index.QueryBox(berlin)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\nRecords in central Berlin: %d\n", len(inBerlin))
	for _, r := range inBerlin {
		fmt.Printf("  - %s\n", r.Label)
	}

	// Example 4: records within 30 km of Berlin Hbf
	hbf := models.Location{Lat: 52.5251, Lon: 13.3694}
	nearby, err := index.QueryRadius(hbf, 30)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("\nRecords within 30 km of Berlin Hbf: %d\n", len(nearby))
	for _, r := range nearby {
		fmt.Printf("  - %s (%.1f km)\n", r.Label, geo.Distance(hbf, r.Location()))
	}

	// Example 5: the two records closest to Munich
	munich := models.Location{Lat: 48.1351, Lon: 11.5820}
	fmt.Println("\nClosest to Munich:")
	for i, r := range index.Nearest(munich, 2) {
		fmt.Printf("  %d. %s (%.1f km)\n", i+1, r.Label, geo.Distance(munich, r.Location()))
	}
}
