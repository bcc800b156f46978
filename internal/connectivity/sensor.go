package connectivity

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// HTTPSensor treats the network as reachable when url answers at all.
// Any HTTP status counts; only transport failures mean offline.
type HTTPSensor struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPSensor creates a sensor probing url with a HEAD request.
func NewHTTPSensor(url string) *HTTPSensor {
	return &HTTPSensor{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{},
		timeout:    2 * time.Second,
	}
}

func (s *HTTPSensor) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// StaticSensor reports whatever was last Set. Used for forced offline mode.
type StaticSensor struct {
	online atomic.Bool
}

func NewStaticSensor(online bool) *StaticSensor {
	s := &StaticSensor{}
	s.online.Store(online)
	return s
}

func (s *StaticSensor) Set(online bool) {
	s.online.Store(online)
}

func (s *StaticSensor) Reachable(context.Context) bool {
	return s.online.Load()
}
