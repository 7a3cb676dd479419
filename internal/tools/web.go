// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-agent/internal/permission"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

const (
	// DefaultWebMaxBytes bounds a response body.
	DefaultWebMaxBytes = 2 * 1024 * 1024

	defaultWebTimeout = 30 * time.Second
	maxWebRedirects   = 5
	maxWebOutput      = 128 * 1024
)

// ErrBlockedIP is returned when a fetch would reach a private address.
var ErrBlockedIP = errors.New("IP address is blocked (private/internal range)")

// blockedCIDRs are private and reserved ranges.
var blockedCIDRs = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"224.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedNetworks = func() []*net.IPNet {
	out := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}()

var (
	multiSpaceRegex = regexp.MustCompile(`[ \t]+`)
	multiNewline    = regexp.MustCompile(`\n{3,}`)
)

var (
	skipTags  = map[string]bool{"script": true, "style": true, "noscript": true}
	blockTags = map[string]bool{
		"p": true, "div": true, "br": true, "li": true, "tr": true, "td": true, "th": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"section": true, "article": true,
	}
)

// WebFetchExecutor fetches http(s) URLs.
type WebFetchExecutor struct {
	// Limiter paces requests across all sessions
	Limiter *rate.Limiter

	// MaxBytes bounds the body read
	MaxBytes int64

	// AllowPrivate disables the private-address check (tests)
	AllowPrivate bool

	client *http.Client
}

// WebFetchTool returns the web_fetch capability. It is opt-in.
func WebFetchTool(e *WebFetchExecutor) *Tool {
	if e.MaxBytes <= 0 {
		e.MaxBytes = DefaultWebMaxBytes
	}
	if e.client == nil {
		e.client = e.newClient()
	}
	return &Tool{
		Name:        "web_fetch",
		Description: "Fetch an http(s) URL and return its content as text. Private addresses are refused.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "url", Type: TypeString, Required: true},
		}},
		PermissionGroup: permission.GroupInternetAccess,
		Executor:        e,
	}
}

// Execute implements ToolExecutor.
func (e *WebFetchExecutor) Execute(ctx context.Context, params map[string]any, _ *ExecutionContext) (Result, error) {
	u, err := validateURL(stringParam(params, "url", ""))
	if err != nil {
		return Fail("%v", err), nil
	}
	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, Transient(err)
		}
	}

	client := e.client
	if client == nil {
		client = e.newClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Fail("invalid request: %v", err), nil
	}
	req.Header.Set("User-Agent", "rigrun-agent/1.0")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(err, ErrBlockedIP) {
			return Fail("%v", err), nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Result{}, Transient(err)
		}
		return Fail("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.MaxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, Transient(fmt.Errorf("reading body: %w", err))
	}
	clipped := int64(len(body)) > e.MaxBytes
	if clipped {
		body = body[:e.MaxBytes]
	}

	text := string(body)
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		text = htmlToText(text)
	}
	out, truncated := util.TruncateMiddle(text, maxWebOutput)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, Transient(fmt.Errorf("HTTP %d from %s", resp.StatusCode, u.Host))
	case resp.StatusCode >= 400:
		return Result{Success: false, Output: fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, out)}, nil
	}
	return Result{Success: true, Output: out, Truncated: truncated || clipped}, nil
}

func (e *WebFetchExecutor) newClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !e.AllowPrivate {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			if ip := net.ParseIP(host); ip == nil || isBlockedIP(ip) {
				return ErrBlockedIP
			}
			return nil
		}
	}
	return &http.Client{
		Timeout: defaultWebTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxWebRedirects {
				return errors.New("too many redirects")
			}
			_, err := validateURL(req.URL.String())
			return err
		},
	}
}

func validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("URL has no host")
	}
	if u.User != nil {
		return nil, errors.New("URLs with credentials are not allowed")
	}
	return u, nil
}

func isBlockedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return ip.IsUnspecified()
}

// htmlToText reduces an HTML page to readable text.
func htmlToText(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				switch tt {
				case html.StartTagToken:
					skip++
				case html.EndTagToken:
					if skip > 0 {
						skip--
					}
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}

	s = multiSpaceRegex.ReplaceAllString(b.String(), " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
