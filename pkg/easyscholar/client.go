// Package easyscholar is a client for the easyscholar publication rank API,
// which reports journal quality indicators (SCI zones, impact factors,
// custom institutional rankings) by journal name.
package easyscholar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/litstack/litreview/internal/resilience"
)

const defaultBaseURL = "https://www.easyscholar.cc"

// requestsPerSecond is the documented fair-use ceiling for the open API.
const requestsPerSecond = 2

// Client queries publication ranks.
type Client interface {
	GetPublicationRank(ctx context.Context, journalName string) (*PublicationRank, error)
}

// PublicationRank is the rank payload for one journal.
type PublicationRank struct {
	OfficialRank *OfficialRank `json:"officialRank"`
	CustomRank   *CustomRank   `json:"customRank"`
}

// OfficialRank carries the built-in indicator sets. Select holds the
// indicators the account owner picked in their easyscholar profile; All is
// the full set. Values are keyed by indicator code (sci, sciif, jci, ...).
type OfficialRank struct {
	Select map[string]string `json:"select"`
	All    map[string]string `json:"all"`
}

// Indicator returns the value for code, preferring the Select set.
func (r *OfficialRank) Indicator(code string) string {
	if r == nil {
		return ""
	}
	if len(r.Select) > 0 {
		return r.Select[code]
	}
	return r.All[code]
}

// CustomRank carries user-defined ranking datasets. Rank entries use the
// wire format "uuid&&&level" where level 1..5 selects the matching
// RankText field of the dataset named by uuid.
type CustomRank struct {
	RankInfo []CustomDataset `json:"rankInfo"`
	Rank     []string        `json:"rank"`
}

// CustomDataset describes one user-defined ranking dataset.
type CustomDataset struct {
	UUID          string `json:"uuid"`
	AbbName       string `json:"abbName"`
	OneRankText   string `json:"oneRankText"`
	TwoRankText   string `json:"twoRankText"`
	ThreeRankText string `json:"threeRankText"`
	FourRankText  string `json:"fourRankText"`
	FiveRankText  string `json:"fiveRankText"`
}

// RankText returns the text for a 1-based level, or "" for unknown levels.
func (d CustomDataset) RankText(level string) string {
	switch level {
	case "1":
		return d.OneRankText
	case "2":
		return d.TwoRankText
	case "3":
		return d.ThreeRankText
	case "4":
		return d.FourRankText
	case "5":
		return d.FiveRankText
	}
	return ""
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

type httpClient struct {
	secretKey string
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates an easyscholar API client. All requests share one rate
// limiter so concurrent lookups stay inside the API's fair-use ceiling.
func NewClient(secretKey string, opts ...Option) Client {
	c := &httpClient{
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(requestsPerSecond, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope is the API's outer response shape. Code 200 means success; any
// other code carries a human-readable msg.
type envelope struct {
	Code int              `json:"code"`
	Msg  string           `json:"msg"`
	Data *PublicationRank `json:"data"`
}

func (c *httpClient) GetPublicationRank(ctx context.Context, journalName string) (*PublicationRank, error) {
	if journalName == "" {
		return nil, eris.New("easyscholar: empty journal name")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "easyscholar: rate limiter wait")
	}

	q := url.Values{}
	q.Set("secretKey", c.secretKey)
	q.Set("publicationName", journalName)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/open/getPublicationRank?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "easyscholar: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "easyscholar: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "easyscholar: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("easyscholar: unexpected status %d: %s", resp.StatusCode, string(respBody))
		return nil, resilience.ClassifyHTTPStatus(err, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, eris.Wrap(err, "easyscholar: unmarshal response")
	}
	if env.Code != 200 {
		return nil, eris.Errorf("easyscholar: api error %d: %s", env.Code, env.Msg)
	}
	if env.Data == nil {
		// Unknown journal: the API answers 200 with a null payload.
		return nil, nil
	}
	return env.Data, nil
}
