package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// User agent for HTTP requests
	UserAgent = "LLM-Council-Context-Fetcher/1.0"

	// fetchRetryDelay is the pause between fetch attempts
	fetchRetryDelay = 2 * time.Second
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// ErrNonPublicAddress is returned when a fetch would connect to a loopback,
// private, link-local or otherwise non-public address.
var ErrNonPublicAddress = errors.New("address is not publicly routable")

// sharedAddressSpace is the carrier-grade NAT range (RFC 6598).
var sharedAddressSpace = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// isPublicIP reports whether ip is routable on the public internet.
func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		sharedAddressSpace.Contains(ip))
}

// publicOnlyControl vets every resolved address right before connecting, which
// also covers redirects and DNS answers pointing inside the network.
func publicOnlyControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrNonPublicAddress, host)
	}
	return nil
}

// newFetchClient builds the HTTP client for reference pages. Unless
// AllowPrivateFetch is set it refuses to connect to non-public addresses.
func newFetchClient() *http.Client {
	dialer := &net.Dialer{Timeout: FetchTimeout}
	if !AllowPrivateFetch {
		dialer.Control = publicOnlyControl
	}
	return &http.Client{
		Timeout: FetchTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// contentCache holds recently fetched reference pages
var contentCache = NewContentCache(ContentCacheTTL)

// FetchURLContent fetches a web page and returns its readable text.
// Scripts, styles and navigation chrome are dropped and whitespace is collapsed.
func FetchURLContent(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("invalid URL %q: must be absolute http(s)", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	client := newFetchClient()
	defer client.CloseIdleConnections()

	// Execute request with retry logic
	var resp *http.Response
	maxRetries := 2
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err = client.Do(req)
		if err == nil {
			break
		}
		if errors.Is(err, ErrNonPublicAddress) {
			return "", fmt.Errorf("refusing to fetch %s: %w", rawURL, err)
		}

		if attempt < maxRetries-1 {
			log.Printf("Fetch attempt %d for %s failed, retrying in %s: %v", attempt+1, rawURL, fetchRetryDelay, err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(fetchRetryDelay):
			}
		}
	}

	if err != nil {
		return "", fmt.Errorf("failed to fetch %s after %d attempts: %w", rawURL, maxRetries, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	return ExtractReadableText(doc), nil
}

// ExtractReadableText returns the page title and main text of doc.
func ExtractReadableText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, iframe, svg").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())

	// Prefer the main content region when the page marks one
	body := doc.Find("main, article, [role='main']").First()
	if body.Length() == 0 {
		body = doc.Find("body")
	}

	text := strings.ReplaceAll(body.Text(), "\u00a0", " ") // &nbsp;
	text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))

	if title != "" && !strings.HasPrefix(text, title) {
		return title + "\n\n" + text
	}
	return text
}

// FetchContextCached returns the readable text of rawURL, truncated to
// MaxContextChars, using the shared content cache.
func FetchContextCached(ctx context.Context, rawURL string) (string, error) {
	if text, ok := contentCache.Get(rawURL); ok {
		log.Printf("Using cached content for %s", rawURL)
		return text, nil
	}

	text, err := FetchURLContent(ctx, rawURL)
	if err != nil {
		return "", err
	}

	if runes := []rune(text); len(runes) > MaxContextChars {
		text = string(runes[:MaxContextChars])
	}

	contentCache.Set(rawURL, text)
	if removed := contentCache.Prune(); removed > 0 {
		log.Printf("Pruned %d expired cached pages", removed)
	}
	return text, nil
}

// BuildQueryWithContext prepends reference material to the user's question.
func BuildQueryWithContext(userQuery string, sourceURL string, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return userQuery
	}
	return fmt.Sprintf(`Use the following reference material from %s when answering.

REFERENCE MATERIAL:
%s

QUESTION:
%s`, sourceURL, contextText, userQuery)
}

// PrepareQuery resolves the council input for a request. A failed fetch is
// logged and the question is asked without reference material.
func PrepareQuery(ctx context.Context, request SendMessageRequest) string {
	if request.ContextURL == "" {
		return request.Content
	}

	text, err := FetchContextCached(ctx, request.ContextURL)
	if err != nil {
		log.Printf("Failed to fetch context from %s: %v", request.ContextURL, err)
		return request.Content
	}

	return BuildQueryWithContext(request.Content, request.ContextURL, text)
}
