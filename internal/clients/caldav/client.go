package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// ContentType is sent with every calendar object write
const ContentType = ical.MIMEType + "; charset=utf-8"

var (
	// ErrPreconditionFailed means the entity tag no longer matches the server copy
	ErrPreconditionFailed = errors.New("caldav: precondition failed")
	// ErrNotFound means the object is gone
	ErrNotFound = errors.New("caldav: not found")
)

// Client is a CalDAV client for todo lists
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: &http.Client{
			Transport: &basicAuthTransport{
				username: username,
				password: password,
			},
			Timeout: 30 * time.Second,
		},
	}
}

// IsConfigured returns true if the client has a server and credentials
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.username != "" && c.password != ""
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := caldav.NewClient(c.httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// DiscoverCalendars returns all calendars of the current user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			DisplayName: cal.Name,
			URL:         cal.Path,
			Components:  cal.SupportedComponentSet,
		})
	}

	return result, nil
}

// Query runs a calendar-query REPORT against one collection
func (c *Client) Query(ctx context.Context, calendarPath string, filter *Filter) ([]Object, error) {
	if calendarPath == "" {
		return nil, fmt.Errorf("calendar path not specified")
	}

	compFilter, err := filter.CompFilter()
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}

	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: compFilter,
	}

	found, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	objects := make([]Object, 0, len(found))
	for _, obj := range found {
		if obj.Data == nil {
			log.Warn("calendar object without data", "path", obj.Path)
			continue
		}
		data, err := SerializeCalendar(obj.Data)
		if err != nil {
			log.Warn("skip calendar object", "path", obj.Path, "err", err)
			continue
		}
		objects = append(objects, Object{
			Calendar: calendarPath,
			Location: obj.Path,
			ETag:     obj.ETag,
			Data:     data,
		})
	}

	return objects, nil
}

// Update replaces the object at location if its entity tag still matches.
// It returns the new entity tag when the server reports one.
func (c *Client) Update(ctx context.Context, location, payload, etag, contentType string) (string, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	if etag != "" {
		header.Set("If-Match", quoteETag(etag))
	}
	resp, err := c.do(ctx, http.MethodPut, location, header, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("update %s: %w", location, err)
	}
	return unquoteETag(resp.Header.Get("ETag")), nil
}

// Delete removes the object at location if its entity tag still matches
func (c *Client) Delete(ctx context.Context, location, etag string) error {
	header := http.Header{}
	if etag != "" {
		header.Set("If-Match", quoteETag(etag))
	}
	if _, err := c.do(ctx, http.MethodDelete, location, header, nil); err != nil {
		return fmt.Errorf("delete %s: %w", location, err)
	}
	return nil
}

// Create stores a new object named uid.ics in the collection. It fails with
// ErrPreconditionFailed if the name is taken.
func (c *Client) Create(ctx context.Context, calendarPath, uid, payload string) (Object, error) {
	if calendarPath == "" {
		return Object{}, fmt.Errorf("calendar path not specified")
	}

	location := calendarPath
	if !strings.HasSuffix(location, "/") {
		location += "/"
	}
	location += url.PathEscape(uid) + ".ics"

	header := http.Header{}
	header.Set("Content-Type", ContentType)
	header.Set("If-None-Match", "*")
	resp, err := c.do(ctx, http.MethodPut, location, header, strings.NewReader(payload))
	if err != nil {
		return Object{}, fmt.Errorf("create %s: %w", location, err)
	}

	return Object{
		Calendar: calendarPath,
		Location: location,
		ETag:     unquoteETag(resp.Header.Get("ETag")),
		Data:     payload,
	}, nil
}

func (c *Client) do(ctx context.Context, method, location string, header http.Header, body io.Reader) (*http.Response, error) {
	target, err := c.resolve(location)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		return nil, ErrPreconditionFailed
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp, nil
}

// resolve turns an object path into an absolute URL on the server
func (c *Client) resolve(location string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, "W/") {
		return etag
	}
	return `"` + etag + `"`
}

func unquoteETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// SerializeCalendar converts a decoded calendar back to text
func SerializeCalendar(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode calendar: %w", err)
	}
	return buf.String(), nil
}
