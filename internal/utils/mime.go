package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	httpClientTimeout         = 20 * time.Second
	httpDialTimeout           = 5 * time.Second
	httpKeepAlive             = 30 * time.Second
	httpTLSHandshakeTimeout   = 5 * time.Second
	httpResponseHeaderTimeout = 10 * time.Second
	httpIdleConnTimeout       = 90 * time.Second

	// filetype needs at most this many leading bytes.
	sniffLen = 261
)

// ErrUnknownMime is returned when neither the content nor the server
// reveal the media type.
var ErrUnknownMime = errors.New("unknown media type")

var httpTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   httpDialTimeout,
		KeepAlive: httpKeepAlive,
	}).DialContext,
	TLSHandshakeTimeout:   httpTLSHandshakeTimeout,
	ResponseHeaderTimeout: httpResponseHeaderTimeout,
	IdleConnTimeout:       httpIdleConnTimeout,
}

func newRetryableHTTPClient(retryMax int) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{
		Timeout:   httpClientTimeout,
		Transport: httpTransport,
	}

	return retryClient.StandardClient()
}

// GetMimeDetailsFromURL returns the media type of the resource at mediaURL.
// It sniffs the first bytes and falls back to the Content-Type header.
func GetMimeDetailsFromURL(ctx context.Context, mediaURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("getMimeDetailsFromURL request error: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", sniffLen-1))

	resp, err := newRetryableHTTPClient(3).Do(req)
	if err != nil {
		return "", fmt.Errorf("getMimeDetailsFromURL do error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return "", fmt.Errorf("getMimeDetailsFromURL status error: %s", resp.Status)
	}

	mimeType, err := GetMimeDetailsFromStream(resp.Body)
	if err == nil {
		return mimeType, nil
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, perr := mime.ParseMediaType(ct); perr == nil {
			return mediaType, nil
		}
	}
	return "", err
}

// GetMimeDetailsFromStream returns the media type sniffed from r.
func GetMimeDetailsFromStream(r io.Reader) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("getMimeDetailsFromStream error: %w", err)
	}

	kind, err := filetype.Match(head[:n])
	if err != nil {
		return "", fmt.Errorf("getMimeDetailsFromStream error #2: %w", err)
	}
	if kind == filetype.Unknown {
		return "", ErrUnknownMime
	}

	return kind.MIME.Value, nil
}
