package collector

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

type IHttpReader interface {
	Read(url string, params map[string]string) (string, error)
}

type HttpReader struct {
	client *http.Client
}

func NewHttpReader(c *http.Client) *HttpReader {
	return &HttpReader{client: c}
}

// Read performs a GET with the given query parameters and returns the
// response body. Non-success statuses come back as typed errors so that
// callers can decide on retry behaviour without parsing messages.
func (r *HttpReader) Read(url string, params map[string]string) (string, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create GET request for %s: %v", url, err)
	}

	q := req.URL.Query()
	for key, val := range params {
		q.Add(key, val)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "factor-investing-system/1.0 Financial Data Fetcher")

	res, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", NewServerError(fmt.Sprintf("Request to %s timed out. Error: %v", url, err), 0)
		}
		return "", fmt.Errorf("failed to perform request for %s: %v", url, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		// Fall through to body handling below.
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return "", NewAuthError(
			fmt.Sprintf("Received auth failure status %s when requesting %s", res.Status, url),
			res.StatusCode)
	case res.StatusCode == http.StatusTooManyRequests:
		return "", NewRateLimitError(
			fmt.Sprintf("Received rate limit status %s when requesting %s", res.Status, url),
			res.StatusCode)
	case res.StatusCode >= 500:
		return "", NewServerError(
			fmt.Sprintf("Received server error status %s when requesting %s", res.Status, url),
			res.StatusCode)
	default:
		return "", NewServerError(
			fmt.Sprintf("Received non-success status %s when requesting %s", res.Status, url),
			res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body for %s: %v", url, err)
	}
	return string(body), nil
}

func isTimeout(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	// http.Client wraps timeouts in *url.Error which satisfies
	// net.Error, but keep the string check for transports that do not.
	return strings.Contains(err.Error(), "Client.Timeout")
}

func NewLocalClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewProxyClient builds a client that tunnels through a SOCKS5 proxy.
// The proxy string format is host:port:user:password.
func NewProxyClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	proxyParts := strings.Split(proxyURL, ":")
	if len(proxyParts) != 4 {
		return nil, fmt.Errorf("failed to parse proxy string %s", proxyURL)
	}
	proxyAddr := fmt.Sprintf("%s:%s", proxyParts[0], proxyParts[1])
	auth := proxy.Auth{
		User:     proxyParts[2],
		Password: proxyParts[3],
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, &auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 proxy dialer for %s: %v", proxyAddr, err)
	}

	httpTransport := &http.Transport{
		Dial: dialer.Dial,
	}

	return &http.Client{Transport: httpTransport, Timeout: timeout}, nil
}
