package kml

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:gx="http://www.google.com/kml/ext/2.2">
  <Document>
    <name>Locations</name>
    <Folder>
      <Placemark>
        <name>A</name>
        <description><![CDATA[<b>cell</b> tower]]></description>
        <TimeStamp><when>2021-05-23T14:03:11Z</when></TimeStamp>
        <Point><coordinates>13.405,52.52</coordinates></Point>
      </Placemark>
      <Placemark>
        <name>B</name>
        <ExtendedData>
          <Data name="Source"><value>WiFi</value></Data>
          <Data name="Timestamp"><value>23/05/2021 14:03:11(UTC+2)</value></Data>
        </ExtendedData>
        <Point><coordinates> 200,52.52,0 </coordinates></Point>
      </Placemark>
      <Placemark>
        <name>C</name>
      </Placemark>
    </Folder>
  </Document>
</kml>`

func collect(t *testing.T, e *Extractor) []models.Fragment {
	t.Helper()
	var out []models.Fragment
	for {
		f, err := e.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, f)
	}
}

func TestExtractorYieldsEveryPlacemark(t *testing.T) {
	frags := collect(t, NewExtractor(strings.NewReader(sampleKML)))
	require.Len(t, frags, 3)

	assert.Equal(t, 0, frags[0].Seq)
	assert.Equal(t, "A", frags[0].Label)
	assert.Equal(t, "<b>cell</b> tower", frags[0].Description)
	assert.Equal(t, "13.405,52.52", frags[0].Coordinates)
	assert.True(t, frags[0].HasCoordinates)
	assert.Equal(t, "2021-05-23T14:03:11Z", frags[0].Timestamp)

	assert.Equal(t, 1, frags[1].Seq)
	assert.Equal(t, " 200,52.52,0 ", frags[1].Coordinates)
	assert.Equal(t, "23/05/2021 14:03:11(UTC+2)", frags[1].Timestamp)

	// The document-level <name> must not leak into placemarks
	assert.Equal(t, "C", frags[2].Label)
	assert.False(t, frags[2].HasCoordinates)
	assert.Empty(t, frags[2].Coordinates)
}

func TestExtractorNamespaces(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{
			name: "no namespace",
			doc:  `<kml><Placemark><name>x</name><Point><coordinates>1,2</coordinates></Point></Placemark></kml>`,
		},
		{
			name: "prefixed kml namespace",
			doc: `<kml:kml xmlns:kml="http://www.opengis.net/kml/2.2"><kml:Placemark><kml:name>x</kml:name>` +
				`<kml:Point><kml:coordinates>1,2</kml:coordinates></kml:Point></kml:Placemark></kml:kml>`,
		},
		{
			name: "vendor extension inside placemark",
			doc: `<kml xmlns="http://www.opengis.net/kml/2.2" xmlns:gx="http://www.google.com/kml/ext/2.2">` +
				`<Placemark><name>x</name><gx:balloonVisibility>1</gx:balloonVisibility>` +
				`<Point><coordinates>1,2</coordinates></Point></Placemark></kml>`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frags := collect(t, NewExtractor(strings.NewReader(tc.doc)))
			require.Len(t, frags, 1)
			assert.Equal(t, "x", frags[0].Label)
			assert.Equal(t, "1,2", frags[0].Coordinates)
		})
	}
}

func TestExtractorTimestampSources(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected string
	}{
		{"TimeStamp wins", `<TimeStamp><when>2020</when></TimeStamp><TimeSpan><begin>2019</begin></TimeSpan>`, "2020"},
		{"TimeSpan begin", `<TimeSpan><begin>2019-01-02</begin><end>2019-01-03</end></TimeSpan>`, "2019-01-02"},
		{"SimpleData", `<ExtendedData><SchemaData><SimpleData name="DateTime">2018-01-01</SimpleData></SchemaData></ExtendedData>`, "2018-01-01"},
		{"unrelated extended data", `<ExtendedData><Data name="Source"><value>GPS</value></Data></ExtendedData>`, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc := `<kml><Placemark>` + tc.body + `</Placemark></kml>`
			frags := collect(t, NewExtractor(strings.NewReader(doc)))
			require.Len(t, frags, 1)
			assert.Equal(t, tc.expected, frags[0].Timestamp)
		})
	}
}

func TestExtractorFirstCoordinatesWin(t *testing.T) {
	doc := `<kml><Placemark><MultiGeometry>` +
		`<Point><coordinates>1,2</coordinates></Point>` +
		`<Point><coordinates>3,4</coordinates></Point>` +
		`</MultiGeometry></Placemark></kml>`
	frags := collect(t, NewExtractor(strings.NewReader(doc)))
	require.Len(t, frags, 1)
	assert.Equal(t, "1,2", frags[0].Coordinates)
}

func TestExtractorMixedContent(t *testing.T) {
	doc := `<kml><Placemark>` +
		`<name>Cell <i>262</i>-02</name>` +
		`<description>Seen at <b>home</b> today</description>` +
		`<Point><coordinates>13.405,52.52</coordinates></Point>` +
		`</Placemark></kml>`
	frags := collect(t, NewExtractor(strings.NewReader(doc)))
	require.Len(t, frags, 1)
	assert.Equal(t, "Cell 262-02", frags[0].Label)
	assert.Equal(t, "Seen at home today", frags[0].Description)
	assert.Equal(t, "13.405,52.52", frags[0].Coordinates)
	assert.True(t, frags[0].HasCoordinates)
}

func TestExtractorMalformedDocument(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"unclosed placemark", `<kml><Placemark><name>A</name>`},
		{"mismatched tag", `<kml><Placemark><name>A</Placemark></kml>`},
		{"empty document", ``},
		{"prolog only", `<?xml version="1.0"?>`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewExtractor(strings.NewReader(tc.doc))
			var err error
			for err == nil {
				_, err = e.Next()
			}
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "expected ParseError, got %v", err)

			// Errors are sticky
			_, again := e.Next()
			assert.Equal(t, err, again)
		})
	}
}

func TestExtractorValidPlacemarksBeforeError(t *testing.T) {
	doc := `<kml><Placemark><name>A</name></Placemark><Placemark><name>B</kml>`
	e := NewExtractor(strings.NewReader(doc))

	f, err := e.Next()
	require.NoError(t, err)
	assert.Equal(t, "A", f.Label)

	_, err = e.Next()
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestExtractorLatin1Document(t *testing.T) {
	// "Café" with é encoded as 0xE9
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<kml><Placemark><name>Caf\xe9</name></Placemark></kml>"
	frags := collect(t, NewExtractor(strings.NewReader(doc)))
	require.Len(t, frags, 1)
	assert.Equal(t, "Café", frags[0].Label)
}

func TestExtractorByteOrderMark(t *testing.T) {
	doc := "\xef\xbb\xbf<kml><Placemark><name>A</name></Placemark></kml>"
	frags := collect(t, NewExtractor(strings.NewReader(doc)))
	require.Len(t, frags, 1)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.kml"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenFileReportsPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Locations.kml")
	require.NoError(t, os.WriteFile(path, []byte(sampleKML), 0o644))

	e, err := Open(path)
	require.NoError(t, err)
	defer e.Close()

	frags := collect(t, e)
	assert.Len(t, frags, 3)

	read, total := e.Position()
	assert.Equal(t, int64(len(sampleKML)), total)
	assert.Equal(t, total, read)
	assert.Equal(t, path, e.Path())
}

func TestOpenKMZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Locations.kmz")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	w, err := zw.Create("files/readme.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("not a map"))
	w, err = zw.Create("doc.kml")
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleKML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	e, err := Open(path)
	require.NoError(t, err)
	defer e.Close()

	assert.Len(t, collect(t, e), 3)
}
