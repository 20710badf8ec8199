// Package device polls a single air-quality sensor over HTTP and classifies
// the answer as an Outcome. Failures are values here, never errors: an
// unreachable sensor is normal operating state for the poller.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

const maxBodySize = 1 << 20

// Payload is a decoded sensor body. A nil field means the device did not
// send it.
type Payload struct {
	CO2  *float64 `json:"co2"`
	TVOC *float64 `json:"tvoc"`
}

// Decoder turns a raw response body into a Payload.
type Decoder func(body []byte) (Payload, error)

// DecodeJSON expects a body of the form {"co2": number, "tvoc": number}.
func DecodeJSON(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Target describes one request.
type Target struct {
	Address string
	Port    int
	Path    string
	Timeout time.Duration
	// Decoder defaults to DecodeJSON.
	Decoder Decoder
}

// URL returns the address the request is sent to.
func (t Target) URL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(t.Address, strconv.Itoa(t.Port)), t.Path)
}

// Client performs sensor requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client. A nil httpClient uses a dedicated client with
// keep-alives disabled, since each sensor is contacted once per pass.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			},
		}
	}
	return &Client{httpClient: httpClient}
}

// Fetch issues one GET to the target and classifies the result.
func (c *Client) Fetch(ctx context.Context, target Target) Outcome {
	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL(), nil)
	if err != nil {
		return ErrorOutcome(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return OfflineOutcome("service unavailable")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ErrorOutcome(fmt.Sprintf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return classifyTransportError(err)
	}

	decode := target.Decoder
	if decode == nil {
		decode = DecodeJSON
	}
	payload, err := decode(body)
	if err != nil {
		return ErrorOutcome(fmt.Sprintf("invalid payload: %v", err))
	}
	if payload.CO2 == nil || payload.TVOC == nil {
		return ErrorOutcome("invalid payload: missing co2 or tvoc")
	}

	return OnlineOutcome(*payload.CO2, *payload.TVOC)
}

// classifyTransportError maps a failed exchange to Offline when the device is
// unreachable and to Error for anything else.
func classifyTransportError(err error) Outcome {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return OfflineOutcome("timeout")
	}

	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return OfflineOutcome(fmt.Sprintf("connection failed: %v", err))
	}

	return ErrorOutcome(fmt.Sprintf("request failed: %v", err))
}
