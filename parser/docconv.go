package parser

import (
	"bufio"
	"context"
	"io"
	"mime"
	"net/http"

	"code.sajari.com/docconv"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

const (
	sniffLen    = 512
	octetStream = "application/octet-stream"
)

var _ Engine = (*DocconvEngine)(nil)

// DocconvEngine parses documents in-process with docconv.
type DocconvEngine struct {
	readability   bool
	maxFieldBytes int
}

// NewDocconvEngine creates an in-process engine. maxFieldBytes < 0 keeps
// metadata values whole.
func NewDocconvEngine(readability bool, maxFieldBytes int) *DocconvEngine {
	return &DocconvEngine{readability: readability, maxFieldBytes: maxFieldBytes}
}

// Parse returns a single record holding the extracted text, the content
// type and whatever metadata docconv reports.
func (e *DocconvEngine) Parse(ctx context.Context, r io.Reader, hints pipes.Metadata) ([]pipes.Record, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	contentType := detectContentType(br, hints)

	type converted struct {
		res *docconv.Response
		err error
	}
	done := make(chan converted, 1)
	go func() {
		res, err := docconv.Convert(br, contentType, e.readability)
		done <- converted{res, err}
	}()

	// docconv does not take a context; an abandoned conversion finishes in
	// the background and its result is dropped
	var out converted
	select {
	case out = <-done:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "docconv parse interrupted")
	}

	rec := pipes.Record{}
	rec.Set(pipes.FieldContentType, contentType)
	if name := resourceName(hints); name != "." && name != "/" {
		rec.Set(pipes.FieldResourceName, name)
	}
	if out.err != nil {
		return []pipes.Record{rec}, errors.Wrapf(out.err, "docconv failed for %s", contentType)
	}

	rec.Set(pipes.FieldContent, out.res.Body)
	for k, v := range out.res.Meta {
		rec.Add(k, v)
	}
	truncateRecord(rec, e.maxFieldBytes)
	return []pipes.Record{rec}, nil
}

// detectContentType prefers the fetcher's Content-Type, then the resource
// name's extension, then the leading bytes of the stream.
func detectContentType(br *bufio.Reader, hints pipes.Metadata) string {
	if ct := contentTypeHint(hints); ct != "" && ct != octetStream {
		return ct
	}
	if name, ok := hints.String(pipes.FieldResourceName); ok && name != "" {
		if ct := docconv.MimeTypeByExtension(name); ct != octetStream {
			return ct
		}
	}
	head, _ := br.Peek(sniffLen)
	if len(head) == 0 {
		return octetStream
	}
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(head))
	if err != nil {
		return octetStream
	}
	return mediaType
}
