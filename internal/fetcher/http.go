package fetcher

import (
	"context"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/litstack/litreview/internal/resilience"
)

func (f *Fetcher) fetchHTTP(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}

	client := &http.Client{Timeout: f.httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: http get")
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err := eris.Errorf("fetcher: unexpected status %d for %s", resp.StatusCode, location)
		return nil, resilience.ClassifyHTTPStatus(err, resp.StatusCode)
	}
	return resp.Body, nil
}
