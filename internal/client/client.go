package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"io"
	"net/http"
	"prayerreminder/internal/misc"
	"strings"
)

const maxResponseBytes = 300 * 1024

type Client struct {
	*http.Client
	SchedulerURL    string
	OneSignalURL    string
	OneSignalAPIKey string
	Logger          logger
}

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Errorf(format string, v ...any)
}

// APIError is returned for any non-2xx response. Message is the best error
// text recovered from the body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func newRequest(ctx context.Context, method string, url string, body io.Reader) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	setDefaultRequestHeader(r)
	return r, nil
}

func setDefaultRequestHeader(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
}

// doJSON sends reqBody (if any) as JSON and decodes a 2xx response into
// respBody. Non-2xx responses produce an *APIError while still decoding the
// body into respBody when it is JSON.
func (c Client) doJSON(ctx context.Context, funcName string, method string, url string, reqBody any, respBody any) error {
	var bodyRdr io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return errors.Wrapf(err, "%s: JSON marshalling error, req: %+v", funcName, reqBody)
		}
		bodyRdr = bytes.NewReader(b)
	}

	req, err := newRequest(ctx, method, url, bodyRdr)
	if err != nil {
		return errors.Wrapf(err, "%s: error creating HTTP request to %s", funcName, url)
	}
	if c.OneSignalURL != "" && strings.HasPrefix(url, c.OneSignalURL) && c.OneSignalAPIKey != "" {
		req.Header.Set("Authorization", "Key "+c.OneSignalAPIKey)
	}

	c.Logger.Debugf("%s: Sending request %s %s", funcName, method, url)
	resp, err := c.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s: error doing request %s %s", funcName, method, url)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.Logger.Errorf("%s: Error closing response body, url: %s, err: %v", funcName, url, err)
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(nil, resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "%s: error reading response body, status: %s, body:\n%s",
			funcName, resp.Status, misc.BytesLimit(body, 500))
	}

	var jsonErr error
	if len(bytes.TrimSpace(body)) > 0 {
		jsonErr = json.Unmarshal(body, respBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessageFromBody(body, resp.Status)}
	}
	if jsonErr != nil {
		return errors.Wrapf(jsonErr, "%s: error unmarshalling response body, status: %s, body:\n%s",
			funcName, resp.Status, misc.BytesLimit(body, 500))
	}
	return nil
}

// errorMessageFromBody extracts a human-readable message from an error
// response: a JSON error/message field, the title or text of an HTML page
// (proxies and load balancers answer with those), or the status line.
func errorMessageFromBody(body []byte, status string) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return status
	}
	if trimmed[0] == '{' {
		var e struct {
			Error   json.RawMessage `json:"error"`
			Message string          `json:"message"`
		}
		if json.Unmarshal(trimmed, &e) == nil {
			var s string
			if len(e.Error) > 0 && json.Unmarshal(e.Error, &s) == nil && s != "" {
				return s
			}
			var obj struct {
				Message string `json:"message"`
			}
			if len(e.Error) > 0 && json.Unmarshal(e.Error, &obj) == nil && obj.Message != "" {
				return obj.Message
			}
			if e.Message != "" {
				return e.Message
			}
		}
		return status
	}
	if trimmed[0] == '<' {
		if text := htmlText(trimmed); text != "" {
			return misc.StringLimit(text, 200)
		}
		return status
	}
	return misc.StringLimit(string(trimmed), 200)
}

// htmlText returns the page title, or the visible text when there is none.
func htmlText(page []byte) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	var title string
	var text []string
	var walk func(n *html.Node, inTitle bool)
	walk = func(n *html.Node, inTitle bool) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if inTitle && title == "" {
					title = t
				} else {
					text = append(text, t)
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch, inTitle || (n.Type == html.ElementNode && n.Data == "title"))
		}
	}
	walk(doc, false)
	if title != "" {
		return title
	}
	return strings.Join(text, " ")
}
