// Package kml streams <Placemark> elements out of KML documents.
//
// The document is walked token by token with encoding/xml, so memory use is
// bounded by the largest single placemark rather than by the file size.
// Elements are matched by local name only: the default KML namespace, a
// kml: prefix and vendor extensions (gx:, ExtendedData blocks) all parse the
// same way.
package kml

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/1F47E/ufed-kml-map/pkg/models"
)

// ErrNoRoot is returned for documents that contain no element at all.
var ErrNoRoot = errors.New("document has no root element")

// ParseError is fatal: the document could not be opened, read or parsed as
// well-formed XML. There is no partial-document recovery.
type ParseError struct {
	Path   string
	Line   int
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("kml parse error")
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extractor yields one Fragment per <Placemark> in document order
type Extractor struct {
	dec     *xml.Decoder
	counter *countingReader
	closer  io.Closer
	path    string
	size    int64
	seq     int
	sawRoot bool
	err     error
}

// NewExtractor reads KML from r. The caller keeps ownership of r.
func NewExtractor(r io.Reader) *Extractor {
	counter := &countingReader{r: r}
	dec := xml.NewDecoder(transform.NewReader(counter, unicode.BOMOverride(transform.Nop)))
	dec.CharsetReader = charsetReader
	return &Extractor{dec: dec, counter: counter}
}

// Open opens a .kml file, or the first .kml entry of a .kmz archive.
func Open(path string) (*Extractor, error) {
	if strings.EqualFold(filepath.Ext(path), ".kmz") {
		return openKMZ(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("failed to open file: %w", err)}
	}
	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	e := NewExtractor(file)
	e.closer = file
	e.path = path
	e.size = size
	return e, nil
}

func openKMZ(path string) (*Extractor, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("failed to open archive: %w", err)}
	}

	for _, entry := range archive.File {
		if !strings.EqualFold(filepath.Ext(entry.Name), ".kml") {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			archive.Close()
			return nil, &ParseError{Path: path, Err: fmt.Errorf("failed to open %s: %w", entry.Name, err)}
		}
		e := NewExtractor(rc)
		e.closer = multiCloser{rc, archive}
		e.path = path + "!" + entry.Name
		e.size = int64(entry.UncompressedSize64)
		return e, nil
	}

	archive.Close()
	return nil, &ParseError{Path: path, Err: errors.New("archive contains no .kml document")}
}

// Next returns the next placemark. It returns io.EOF after the last one and
// a *ParseError if the document is broken; both are sticky.
func (e *Extractor) Next() (models.Fragment, error) {
	if e.err != nil {
		return models.Fragment{}, e.err
	}

	for {
		tok, err := e.dec.Token()
		if err == io.EOF {
			if !e.sawRoot {
				e.err = e.fail(ErrNoRoot)
			} else {
				e.err = io.EOF
			}
			return models.Fragment{}, e.err
		}
		if err != nil {
			e.err = e.fail(err)
			return models.Fragment{}, e.err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		e.sawRoot = true
		if start.Name.Local != "Placemark" {
			continue
		}

		frag, err := e.readPlacemark()
		if err != nil {
			e.err = e.fail(err)
			return models.Fragment{}, e.err
		}
		frag.Seq = e.seq
		e.seq++
		return frag, nil
	}
}

// Position reports how many bytes of the document were consumed so far and
// the total size when it is known (0 otherwise).
func (e *Extractor) Position() (read, total int64) {
	return e.counter.n.Load(), e.size
}

// Path is the file the extractor was opened on, if any.
func (e *Extractor) Path() string {
	return e.path
}

// Close releases the underlying file.
func (e *Extractor) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

// readPlacemark consumes tokens up to and including </Placemark>.
func (e *Extractor) readPlacemark() (models.Fragment, error) {
	var (
		frag     models.Fragment
		path     []string
		text     strings.Builder
		dataName string
		when     string
		begin    string
		extended string
	)
	// name and description keep the text of their whole subtree
	inRichText := func() bool {
		return len(path) > 1 && (path[0] == "name" || path[0] == "description")
	}

	for {
		tok, err := e.dec.Token()
		if err == io.EOF {
			return frag, io.ErrUnexpectedEOF
		}
		if err != nil {
			return frag, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			path = append(path, t.Name.Local)
			if t.Name.Local == "Data" || t.Name.Local == "SimpleData" {
				dataName = attr(t, "name")
			}
			if !inRichText() {
				text.Reset()
			}

		case xml.CharData:
			text.Write(t)

		case xml.EndElement:
			if len(path) == 0 {
				switch {
				case when != "":
					frag.Timestamp = when
				case begin != "":
					frag.Timestamp = begin
				default:
					frag.Timestamp = extended
				}
				return frag, nil
			}
			if inRichText() {
				path = path[:len(path)-1]
				continue
			}

			name := path[len(path)-1]
			parent := ""
			if len(path) > 1 {
				parent = path[len(path)-2]
			}
			value := text.String()

			switch {
			case len(path) == 1 && name == "name":
				frag.Label = value
			case len(path) == 1 && name == "description":
				frag.Description = value
			case name == "coordinates" && !frag.HasCoordinates:
				frag.Coordinates = value
				frag.HasCoordinates = true
			case name == "when" && parent == "TimeStamp" && when == "":
				when = strings.TrimSpace(value)
			case name == "begin" && parent == "TimeSpan" && begin == "":
				begin = strings.TrimSpace(value)
			case name == "value" && parent == "Data" && extended == "" && isTimeField(dataName):
				extended = strings.TrimSpace(value)
			case name == "SimpleData" && extended == "" && isTimeField(dataName):
				extended = strings.TrimSpace(value)
			}

			path = path[:len(path)-1]
			text.Reset()
		}
	}
}

func (e *Extractor) fail(err error) error {
	pe := &ParseError{Path: e.path, Offset: e.dec.InputOffset(), Err: err}
	var syntax *xml.SyntaxError
	if errors.As(err, &syntax) {
		pe.Line = syntax.Line
	}
	return pe
}

func attr(start xml.StartElement, local string) string {
	for _, a := range start.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// isTimeField matches vendor extended-data fields that carry the fix time.
func isTimeField(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "time") || strings.Contains(name, "date")
}

// charsetReader decodes documents that declare a non UTF-8 encoding. UTF-16
// input has already been converted by the BOM override.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	if strings.HasPrefix(strings.ToLower(label), "utf-16") {
		return input, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported document encoding %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
