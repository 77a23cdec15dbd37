package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	kserrors "github.com/alexjbarnes/keep-sync/internal/errors"
	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error

	// Status is the HTTP status of the response, zero when no response
	// arrived.
	Status int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Listing pages are the
	// largest responses.
	maxAPIResponseBytes = 32 * 1024 * 1024

	// maxListPages bounds pagination so a server that never stops
	// returning page tokens cannot hold the run forever.
	maxListPages = 10000

	// maxAttempts is the number of tries for a request that keeps
	// failing with a transient error.
	maxAttempts = 4

	// retryBaseDelay is the first retry delay; it doubles per attempt.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the ceiling for the retry delay.
	retryMaxDelay = 8 * time.Second

	// jitterDivisor controls the random jitter added to retry delays:
	// jitter is uniform in [0, delay/jitterDivisor).
	jitterDivisor = 2
)

var _ Store = (*Client)(nil)

// Client talks to the note service HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger

	// retryBase is the first retry delay. Tests shorten it.
	retryBase time.Duration
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so the bearer token never leaks to
// another domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client. If httpClient is nil, a client with a
// 30-second timeout and same-host redirect policy is created.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger,
		retryBase:  retryBaseDelay,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// IsRejected reports whether err is a rate limit response, which the
// server sends without applying the request.
func IsRejected(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.Status == http.StatusTooManyRequests
}

// do sends an idempotent request, retrying transient failures with
// exponential backoff and jitter.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	return c.doRetry(ctx, method, endpoint, body, IsTransient)
}

// doOnce sends a request that must not be applied twice. Only rate limit
// rejections are retried; a timeout or 5xx may have been applied.
func (c *Client) doOnce(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	return c.doRetry(ctx, method, endpoint, body, IsRejected)
}

func (c *Client) doRetry(ctx context.Context, method, endpoint string, body any, retryable func(error) bool) ([]byte, error) {
	delay := c.retryBase

	for attempt := 1; ; attempt++ {
		data, err := c.send(ctx, method, endpoint, body)
		if err == nil {
			return data, nil
		}

		if !retryable(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return nil, err
		}

		c.logger.Warn("remote: request failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		jitter := time.Duration(0)
		if d := int64(delay) / jitterDivisor; d > 0 {
			jitter = time.Duration(rand.Int64N(d)) //nolint:gosec // G404: math/rand is fine for retry jitter, no security impact
		}

		timer := time.NewTimer(delay + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay = min(delay*2, retryMaxDelay)
	}
}

// send performs one request and returns the response body.
func (c *Client) send(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: sending request to %s: %w", kserrors.ErrAPIRequest, endpoint, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("%w: reading response from %s: %w", kserrors.ErrAPIResponse, endpoint, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = gjson.GetBytes(respBody, "error").String()
		}

		if msg == "" {
			msg = sanitizeResponseBody(respBody)
		}

		err := fmt.Errorf("%w: %s %s returned status %d: %s", kserrors.ErrAPIResponse, method, endpoint, resp.StatusCode, msg)
		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err, Status: resp.StatusCode}
		}

		return nil, err
	}

	return respBody, nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// ListNotes pages through /v1/notes. Any failed page fails the whole
// listing; a partial set is never returned.
func (c *Client) ListNotes(ctx context.Context, cursor string) (*Listing, error) {
	listing := &Listing{}
	pageToken := ""

	for page := 0; ; page++ {
		if page >= maxListPages {
			return nil, fmt.Errorf("%w: more than %d pages", kserrors.ErrIncompleteListing, maxListPages)
		}

		q := url.Values{}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		endpoint := "/v1/notes"
		if len(q) > 0 {
			endpoint += "?" + q.Encode()
		}

		data, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("listing notes page %d: %w", page, err)
		}

		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("%w: page %d is not valid JSON", kserrors.ErrIncompleteListing, page)
		}

		res := gjson.ParseBytes(data)

		arr := res.Get("notes")
		if arr.Exists() && !arr.IsArray() {
			return nil, fmt.Errorf("%w: page %d notes is not an array", kserrors.ErrIncompleteListing, page)
		}

		for _, n := range arr.Array() {
			if n.Get("deleted").Bool() {
				listing.Deleted = append(listing.Deleted, n.Get("id").String())
				continue
			}

			listing.Notes = append(listing.Notes, parseNote(n))
		}

		if page == 0 {
			listing.Full = res.Get("full").Bool() || cursor == ""
		}

		if next := res.Get("cursor").String(); next != "" {
			listing.Cursor = next
		}

		pageToken = res.Get("nextPageToken").String()
		if pageToken == "" {
			break
		}
	}

	listing.Complete = true

	c.logger.Debug("remote: listed notes",
		slog.Int("notes", len(listing.Notes)),
		slog.Int("deleted", len(listing.Deleted)),
		slog.Bool("full", listing.Full),
	)

	return listing, nil
}

// parseNote converts one note object into a record.
func parseNote(n gjson.Result) notes.Record {
	rec := notes.Record{
		ID:       n.Get("id").String(),
		Title:    notes.NormalizeTitle(n.Get("title").String()),
		Body:     n.Get("text").String(),
		Pinned:   n.Get("pinned").Bool(),
		Archived: n.Get("archived").Bool(),
		Trashed:  n.Get("trashed").Bool(),
		Fields:   notes.FieldsAll,
	}

	if n.Get("kind").String() == "list" {
		rec.Kind = notes.KindList
	}

	rec.Color, _ = notes.ParseColor(n.Get("color").String())

	type sortedItem struct {
		item notes.Item
		sort int64
	}

	var items []sortedItem

	n.Get("items").ForEach(func(_, it gjson.Result) bool {
		items = append(items, sortedItem{
			item: notes.Item{
				ID:      it.Get("id").String(),
				Text:    notes.NormalizeItemText(it.Get("text").String()),
				Checked: it.Get("checked").Bool(),
			},
			sort: it.Get("sort").Int(),
		})

		return true
	})

	sort.SliceStable(items, func(i, j int) bool { return items[i].sort < items[j].sort })

	for _, it := range items {
		rec.Items = append(rec.Items, it.item)
	}

	for _, l := range n.Get("labels").Array() {
		if name := strings.TrimSpace(l.String()); name != "" {
			rec.Labels = append(rec.Labels, name)
		}
	}

	sort.Strings(rec.Labels)

	for _, a := range n.Get("attachments").Array() {
		rec.Attachments = append(rec.Attachments, a.String())
	}

	rec.Created = parseTime(n.Get("created").String())
	rec.Updated = parseTime(n.Get("updated").String())
	rec.Edited = parseTime(n.Get("edited").String())
	rec.TrashedAt = parseTime(n.Get("trashedAt").String())

	rec.Partition = rec.TargetPartition()
	rec.Fingerprint = notes.Fingerprint(&rec)

	return rec
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}

	return notes.TimePtr(t)
}

type wireItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

type wireCreate struct {
	Ref      string     `json:"ref"`
	Kind     string     `json:"kind"`
	Title    string     `json:"title"`
	Text     string     `json:"text,omitempty"`
	Items    []wireItem `json:"items,omitempty"`
	Color    string     `json:"color"`
	Pinned   bool       `json:"pinned"`
	Archived bool       `json:"archived"`
	Trashed  bool       `json:"trashed"`
	Labels   []string   `json:"labels,omitempty"`
}

type wireUpdate struct {
	ID           string   `json:"id"`
	Title        *string  `json:"title,omitempty"`
	Text         *string  `json:"text,omitempty"`
	Color        *string  `json:"color,omitempty"`
	Pinned       *bool    `json:"pinned,omitempty"`
	Archived     *bool    `json:"archived,omitempty"`
	Trashed      *bool    `json:"trashed,omitempty"`
	AddLabels    []string `json:"addLabels,omitempty"`
	RemoveLabels []string `json:"removeLabels,omitempty"`
}

type commitRequest struct {
	Creates []wireCreate `json:"creates"`
	Updates []wireUpdate `json:"updates"`
}

func toWireItems(items []notes.Item) []wireItem {
	out := make([]wireItem, 0, len(items))
	for _, it := range items {
		out = append(out, wireItem{Text: it.Text, Checked: it.Checked})
	}

	return out
}

// Commit sends the batch to /v1/notes:commit.
func (c *Client) Commit(ctx context.Context, batch *Batch) (*CommitResult, error) {
	req := commitRequest{
		Creates: make([]wireCreate, 0, len(batch.Creates)),
		Updates: make([]wireUpdate, 0, len(batch.Updates)),
	}

	for _, cr := range batch.Creates {
		r := cr.Record
		wc := wireCreate{
			Ref:      cr.Ref,
			Kind:     r.Kind.String(),
			Title:    r.Title,
			Color:    string(r.Color),
			Pinned:   r.Pinned,
			Archived: r.Archived,
			Trashed:  r.Trashed,
			Labels:   r.Labels,
		}

		if r.Kind == notes.KindList {
			wc.Items = toWireItems(r.Items)
		} else {
			wc.Text = r.Body
		}

		req.Creates = append(req.Creates, wc)
	}

	for _, u := range batch.Updates {
		wu := wireUpdate{
			ID:           u.ID,
			Title:        u.Title,
			Text:         u.Text,
			Pinned:       u.Pinned,
			Archived:     u.Archived,
			Trashed:      u.Trashed,
			AddLabels:    u.AddLabels,
			RemoveLabels: u.RemoveLabels,
		}

		if u.Color != nil {
			wu.Color = Ptr(string(*u.Color))
		}

		req.Updates = append(req.Updates, wu)
	}

	data, err := c.doOnce(ctx, http.MethodPost, "/v1/notes:commit", req)
	if err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}

	res := gjson.ParseBytes(data)
	out := &CommitResult{
		Created: make(map[string]notes.Record),
		Updated: make(map[string]notes.Record),
	}

	for _, cr := range res.Get("created").Array() {
		out.Created[cr.Get("ref").String()] = parseNote(cr.Get("note"))
	}

	for _, n := range res.Get("updated").Array() {
		rec := parseNote(n)
		out.Updated[rec.ID] = rec
	}

	for _, f := range res.Get("failed").Array() {
		out.Failed = append(out.Failed, CommitFailure{
			Ref:   f.Get("ref").String(),
			ID:    f.Get("id").String(),
			Error: f.Get("error").String(),
		})
	}

	return out, nil
}

// ClearItems removes all checklist items of a note.
func (c *Client) ClearItems(ctx context.Context, noteID string) error {
	if _, err := c.do(ctx, http.MethodPost, "/v1/notes/"+url.PathEscape(noteID)+"/items:clear", nil); err != nil {
		return fmt.Errorf("clearing items of %s: %w", noteID, err)
	}

	return nil
}

// DeleteItem removes one checklist item.
func (c *Client) DeleteItem(ctx context.Context, noteID, itemID string) error {
	endpoint := "/v1/notes/" + url.PathEscape(noteID) + "/items/" + url.PathEscape(itemID)
	if _, err := c.do(ctx, http.MethodDelete, endpoint, nil); err != nil {
		return fmt.Errorf("deleting item %s of %s: %w", itemID, noteID, err)
	}

	return nil
}

// AddItems appends checklist items to a note.
func (c *Client) AddItems(ctx context.Context, noteID string, items []notes.Item) error {
	body := struct {
		Items []wireItem `json:"items"`
	}{Items: toWireItems(items)}

	if _, err := c.doOnce(ctx, http.MethodPost, "/v1/notes/"+url.PathEscape(noteID)+"/items", body); err != nil {
		return fmt.Errorf("adding items to %s: %w", noteID, err)
	}

	return nil
}
