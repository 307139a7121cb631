// Package archive is a client for the HebrewBooks.org reader API.
//
// The API answers JSONP (callback(...)) regardless of content type; the
// client strips the wrapper and decodes the JSON inside. Book lookups are
// cached in an LRU and concurrent lookups of the same book share one
// request. Catalog lists change rarely and are cached with a TTL.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the public reader API host.
const DefaultBaseURL = "https://beta.hebrewbooks.org"

const apiPath = "/api/api.ashx"

// sharedTimeout bounds a fetch shared by concurrent callers, which no
// single caller's context may cancel.
const sharedTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when the archive has no such book.
	ErrNotFound = errors.New("archive: not found")

	// ErrEmptyQuery is returned by Search when both title and author are empty.
	ErrEmptyQuery = errors.New("archive: title or author required")
)

// StatusError reports a non-2xx answer from the archive.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("archive: %s returned HTTP %d", e.URL, e.Code)
}

// Client talks to the archive API. It is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    *slog.Logger
	cacheSize int
	listTTL   time.Duration

	books *lru.Cache[int, Book]
	lists *expirable.LRU[ListType, []Entry]
	group singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithCacheSize sets how many books are kept in memory.
func WithCacheSize(n int) Option {
	return func(cl *Client) { cl.cacheSize = n }
}

// WithListTTL sets how long catalog lists are cached.
func WithListTTL(d time.Duration) Option {
	return func(cl *Client) { cl.listTTL = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New returns a client for baseURL, or DefaultBaseURL when empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		cacheSize: 1024,
		listTTL:   6 * time.Hour,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.cacheSize <= 0 {
		c.cacheSize = 1
	}

	books, err := lru.New[int, Book](c.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("archive: book cache: %w", err)
	}
	c.books = books
	c.lists = expirable.NewLRU[ListType, []Entry](8, nil, c.listTTL)
	return c, nil
}

// Book returns the book with the given id.
func (c *Client) Book(ctx context.Context, id int) (Book, error) {
	if b, ok := c.books.Get(id); ok {
		return b, nil
	}

	v, err := c.shared(ctx, "book:"+strconv.Itoa(id), func(ctx context.Context) (any, error) {
		if b, ok := c.books.Get(id); ok {
			return b, nil
		}
		var w *wireBook
		q := url.Values{
			"req":      {"book_info"},
			"id":       {strconv.Itoa(id)},
			"callback": {"setBookInfo"},
		}
		if err := c.get(ctx, q, &w); err != nil {
			return Book{}, err
		}
		if w == nil || w.ID == 0 {
			return Book{}, fmt.Errorf("book %d: %w", id, ErrNotFound)
		}
		b := Book{
			ID:        int(w.ID),
			Title:     strings.TrimSpace(w.Title),
			Author:    strings.TrimSpace(w.Author),
			City:      strings.TrimSpace(w.City),
			Year:      strings.TrimSpace(string(w.Year)),
			Pages:     int(w.Pages),
			NewReader: bool(w.NewReader),
		}
		c.books.Add(id, b)
		return b, nil
	})
	if err != nil {
		return Book{}, err
	}
	return v.(Book), nil
}

// List returns every entry of the catalog t.
func (c *Client) List(ctx context.Context, t ListType) ([]Entry, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("archive: unknown list type %q", t)
	}
	if entries, ok := c.lists.Get(t); ok {
		return entries, nil
	}

	v, err := c.shared(ctx, "list:"+string(t), func(ctx context.Context) (any, error) {
		if entries, ok := c.lists.Get(t); ok {
			return entries, nil
		}
		var w []wireEntry
		q := url.Values{
			"req":      {"subject_list"},
			"type":     {string(t)},
			"callback": {"setSubjects"},
		}
		if err := c.get(ctx, q, &w); err != nil {
			return nil, err
		}
		entries := make([]Entry, 0, len(w))
		for _, e := range w {
			entries = append(entries, Entry{
				ID:          string(e.ID),
				Name:        strings.TrimSpace(e.Name),
				Total:       int(e.Total),
				HasChildren: bool(e.HasChildren),
			})
		}
		c.lists.Add(t, entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

// Subjects returns the subject catalog.
func (c *Client) Subjects(ctx context.Context) ([]Entry, error) { return c.List(ctx, ListSubject) }

// Letters returns the title-letter catalog.
func (c *Client) Letters(ctx context.Context) ([]Entry, error) { return c.List(ctx, ListLetter) }

// DateRanges returns the date-range catalog.
func (c *Client) DateRanges(ctx context.Context) ([]Entry, error) { return c.List(ctx, ListDateRange) }

// Search finds books by title and author. offset is 1-based. The second
// result is the total number of hits.
func (c *Client) Search(ctx context.Context, title, author string, offset, limit int) ([]SearchResult, int, error) {
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	if title == "" && author == "" {
		return nil, 0, ErrEmptyQuery
	}
	var w wireResults
	q := url.Values{
		"title_search":  {title},
		"author_search": {author},
		"start":         {strconv.Itoa(max(offset, 1))},
		"length":        {strconv.Itoa(limit)},
		"callback":      {"setTitleAuthorSearch"},
	}
	if err := c.get(ctx, q, &w); err != nil {
		return nil, 0, err
	}
	return w.results(), int(w.Total), nil
}

// Browse lists the books filed under one catalog entry. offset is 1-based.
// The second result is the total when the archive reports one, else -1.
func (c *Client) Browse(ctx context.Context, t ListType, id string, offset, limit int) ([]SearchResult, int, error) {
	if !t.Valid() {
		return nil, 0, fmt.Errorf("archive: unknown list type %q", t)
	}
	var w struct {
		wireResults
		Total *flexInt `json:"total"`
	}
	q := url.Values{
		"req":       {"title_list_for_subject"},
		"list_type": {string(t)},
		"id":        {id},
		"start":     {strconv.Itoa(max(offset, 1))},
		"length":    {strconv.Itoa(limit)},
		"callback":  {"setSubjectTitles"},
	}
	if err := c.get(ctx, q, &w); err != nil {
		return nil, 0, err
	}
	total := -1
	if w.Total != nil {
		total = int(*w.Total)
	}
	return w.results(), total, nil
}

// shared runs fn once for all concurrent callers of key. fn keeps the first
// caller's values but not its cancellation; each caller stops waiting when
// its own ctx is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// get issues one API call and decodes the unwrapped JSONP body into out.
// url.Values encodes keys sorted, so request URLs are stable.
func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	u := c.baseURL + apiPath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("archive: build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("archive: %s: %w", q.Get("req"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("archive: read body: %w", err)
	}
	c.logger.Debug("archive request",
		slog.String("url", u),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, URL: u}
	}

	payload := unwrapJSONP(body)
	if len(payload) == 0 {
		return fmt.Errorf("archive: empty response: %w", ErrNotFound)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("archive: decode response: %w", err)
	}
	return nil
}

// unwrapJSONP strips a "name(...)" or "name(...);" wrapper. Plain JSON is
// returned unchanged.
func unwrapJSONP(b []byte) []byte {
	b = bytes.TrimSpace(b)
	b = bytes.TrimSuffix(b, []byte(";"))
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '{' || b[0] == '[' {
		return b
	}
	open := bytes.IndexByte(b, '(')
	if open < 0 || b[len(b)-1] != ')' {
		return b
	}
	return bytes.TrimSpace(b[open+1 : len(b)-1])
}
