// Package download hands captured URLs to something that can fetch them:
// either this process (direct) or the local media-extraction server
// (delegate).
package download

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dgnsrekt/mediasniff/internal/types"
)

// ErrInvalidURL is returned when a download URL is not absolute.
var ErrInvalidURL = errors.New("download: invalid url")

// Request describes one download.
type Request struct {
	URL      string     `json:"url"`
	Filename string     `json:"filename"`
	Site     types.Site `json:"site"`
	Quality  string     `json:"quality,omitempty"`
	Title    string     `json:"title,omitempty"`
}

// Facility starts downloads. Download returns a handle as soon as the
// download is accepted; completion is not awaited.
type Facility interface {
	Download(ctx context.Context, req Request) (string, error)
}

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
