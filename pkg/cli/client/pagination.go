package client

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// PaginatedResponse is the envelope of every list endpoint.
type PaginatedResponse struct {
	Data          []any  `json:"data"`
	Total         int64  `json:"total,omitempty"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// FetchAllPages follows next_page_token until the last page and returns the
// concatenated items. baseQuery is not modified.
func FetchAllPages(c *Client, method, path string, baseQuery url.Values) ([]any, error) {
	var all []any
	token := ""
	for {
		q := url.Values{}
		for k, v := range baseQuery {
			q[k] = append([]string(nil), v...)
		}
		if token != "" {
			q.Set("page_token", token)
		}

		resp, err := c.Do(method, path, q, nil)
		if err != nil {
			return nil, err
		}
		if err := CheckError(resp); err != nil {
			return nil, err
		}
		data, err := ReadBody(resp)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		var page PaginatedResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		all = append(all, page.Data...)

		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}
