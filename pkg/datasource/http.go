package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/kong/retcon/pkg/document"
	"github.com/kong/retcon/pkg/model"
	"github.com/kong/retcon/pkg/rerr"
)

// HTTPDataSource adapts a source that exposes its view of an entity
// over plain HTTP (spec §1: sources may "talk to external systems via
// subprocesses, HTTP, or files"). Requests retry transiently under
// go-retryablehttp's own backoff before the call is reported to the
// kernel as a DataSourceError, mirroring the teacher's use of
// hashicorp/go-retryablehttp for its own Admin API client.
type HTTPDataSource struct {
	Entity model.EntityName
	Source model.SourceName

	// BaseURL is the source's collection endpoint, e.g.
	// "https://crm.example.com/customers".
	BaseURL string

	Client *retryablehttp.Client
}

func (h *HTTPDataSource) client() *retryablehttp.Client {
	if h.Client != nil {
		return h.Client
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return c
}

func (h *HTTPDataSource) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return out, resp.StatusCode, nil
}

func (h *HTTPDataSource) Create(ctx context.Context, doc *document.Document) (model.ForeignKey, error) {
	in, err := doc.ToJSON(nil)
	if err != nil {
		return model.ForeignKey{}, rerr.Document("encoding document for create on %s: %w", h.Source, err)
	}
	body, status, err := h.do(ctx, http.MethodPost, h.BaseURL, in)
	if err != nil || status >= 300 {
		return model.ForeignKey{}, rerr.DataSource(fmt.Errorf("create on %s: status %d: %w", h.Source, status, err))
	}
	var key string
	if err := unmarshalKey(body, &key); err != nil {
		return model.ForeignKey{}, rerr.DataSource(fmt.Errorf("decoding created key from %s: %w", h.Source, err))
	}
	return model.ForeignKey{Entity: h.Entity, Source: h.Source, Key: key}, nil
}

func (h *HTTPDataSource) Read(ctx context.Context, fk model.ForeignKey) (*document.Document, error) {
	body, status, err := h.do(ctx, http.MethodGet, h.BaseURL+"/"+fk.Key, nil)
	if err != nil || status >= 300 {
		return nil, rerr.DataSource(fmt.Errorf("read %s on %s: status %d: %w", fk, h.Source, status, err))
	}
	doc, err := document.FromJSON(body)
	if err != nil {
		return nil, rerr.Document("decoding read result for %s on %s: %w", fk, h.Source, err)
	}
	return doc, nil
}

func (h *HTTPDataSource) Update(ctx context.Context, fk model.ForeignKey, doc *document.Document) (model.ForeignKey, error) {
	in, err := doc.ToJSON(nil)
	if err != nil {
		return model.ForeignKey{}, rerr.Document("encoding document for update on %s: %w", h.Source, err)
	}
	_, status, err := h.do(ctx, http.MethodPut, h.BaseURL+"/"+fk.Key, in)
	if err != nil || status >= 300 {
		return model.ForeignKey{}, rerr.DataSource(fmt.Errorf("update %s on %s: status %d: %w", fk, h.Source, status, err))
	}
	return fk, nil
}

func (h *HTTPDataSource) Delete(ctx context.Context, fk model.ForeignKey) error {
	_, status, err := h.do(ctx, http.MethodDelete, h.BaseURL+"/"+fk.Key, nil)
	if err != nil || status >= 300 {
		return rerr.DataSource(fmt.Errorf("delete %s on %s: status %d: %w", fk, h.Source, status, err))
	}
	return nil
}

func unmarshalKey(body []byte, key *string) error {
	doc, err := document.FromJSON(body)
	if err != nil {
		return err
	}
	v, ok := doc.Get(document.Path{"key"})
	if !ok {
		return fmt.Errorf("response has no \"key\" field")
	}
	*key = v
	return nil
}
