// ABOUTME: HTTP input stream for internet radio and remote files
// ABOUTME: Requests ICY metadata and buffers the body in the background
package input

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// HTTPClient is used for all remote streams; it has no timeout because
// streams are unbounded
var HTTPClient = &http.Client{}

// UserAgent is sent with every request
var UserAgent = "playd/1.0"

// OpenHTTP starts fetching an http or https URL
func OpenHTTP(uri string) (Stream, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Icy-MetaData", "1")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}

	var body io.ReadCloser = resp.Body
	size := resp.ContentLength

	var icy *icyReader
	if metaint, err := strconv.Atoi(resp.Header.Get("icy-metaint")); err == nil && metaint > 0 {
		icy = newIcyReader(resp.Body, metaint)
		body = icy
		size = -1
		log.Debug().Str("uri", uri).Int("metaint", metaint).Msg("ICY metadata enabled")
	}

	s := newAsync(uri, mimeType, size, body, DefaultAsyncBuffer)
	name := resp.Header.Get("icy-name")
	if icy != nil {
		icy.onTag = func(t *tag.Tag) {
			t.Add(tag.Name, name)
			s.SetTag(t)
		}
	}
	if name != "" {
		t := tag.New()
		t.Add(tag.Name, name)
		s.SetTag(t)
	}

	go s.fill()
	return s, nil
}
