package probe

import (
	"context"
	"log/slog"
)

// DefaultMaxPages bounds FetchAll.
const DefaultMaxPages = 20

// Model is one entry of an endpoint's model listing.
type Model struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Tags        []string `json:"tags,omitempty"`
}

// Page is one page of a model listing. When Result is not a success,
// Models is empty.
type Page struct {
	Models []Model `json:"models"`
	// NextPageToken is empty on the last page. Pass it back in
	// Request.PageToken to continue.
	NextPageToken string `json:"next_page_token,omitempty"`
	Result        Result `json:"result"`
}

func (p Page) has(id string) bool {
	for _, m := range p.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// FetchModels retrieves one page of the endpoint's model listing. Safe to
// call concurrently for different endpoints or page tokens.
func (c *Client) FetchModels(ctx context.Context, req Request) Page {
	return c.fetch(ctx, req)
}

// FetchAll follows page tokens until the listing ends or maxPages pages
// have been read (zero means DefaultMaxPages). The returned Page carries
// every model read; NextPageToken is set when the page limit cut the
// listing short, and Result reflects the last request made. A failure on
// any page fails the whole listing: Models is empty, as for FetchModels.
func (c *Client) FetchAll(ctx context.Context, req Request, maxPages int) Page {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var all Page
	for i := 0; i < maxPages; i++ {
		page := c.fetch(ctx, req)
		all.Models = append(all.Models, page.Models...)
		all.Result = page.Result
		all.NextPageToken = page.NextPageToken
		if !page.Result.Success || page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == req.PageToken {
			// A server that repeats its token would loop forever.
			slog.Warn("model listing repeated its page token", "endpoint", req.Endpoint)
			all.NextPageToken = ""
			break
		}
		req.PageToken = page.NextPageToken
	}
	if !all.Result.Success {
		all.Models = nil
		all.NextPageToken = ""
	}
	if all.Models == nil {
		all.Models = []Model{}
	}
	return all
}
