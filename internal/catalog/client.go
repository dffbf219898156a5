package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/mover/internal/logctx"
)

const maxErrorBody = 4 << 10

type listMoviesResponse struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	Data          struct {
		MovieCount int     `json:"movie_count"`
		Movies     []Movie `json:"movies"`
	} `json:"data"`
}

// Client talks to the YTS list_movies endpoint.
type Client struct {
	baseURL    string
	sortBy     string
	httpClient *http.Client
}

// NewClient builds a client for baseURL, for example https://yts.mx/api/v2.
func NewClient(baseURL, sortBy string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sortBy:  sortBy,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Search returns the movies matching query, most downloaded first.
func (c *Client) Search(ctx context.Context, query string) ([]Movie, error) {
	logger := logctx.LoggerFromContext(ctx).With("query", query)

	params := url.Values{}
	params.Set("query_term", query)
	if c.sortBy != "" {
		params.Set("sort_by", c.sortBy)
	}

	endpoint := c.baseURL + "/list_movies.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SearchError{Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, &SearchError{
			Query:      query,
			StatusCode: resp.StatusCode,
			APIMessage: strings.TrimSpace(string(body)),
		}
	}

	var payload listMoviesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &SearchError{Query: query, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if payload.Status != "ok" {
		return nil, &SearchError{Query: query, StatusCode: resp.StatusCode, APIMessage: payload.StatusMessage}
	}

	if len(payload.Data.Movies) == 0 {
		return nil, fmt.Errorf("%q: %w", query, ErrNoMoviesFound)
	}

	logger.Debug("catalog search completed", "movie_count", payload.Data.MovieCount, "returned", len(payload.Data.Movies))

	return payload.Data.Movies, nil
}
