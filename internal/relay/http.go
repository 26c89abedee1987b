package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"waypoint/internal/domain"
)

// HTTP is the client side of Server.
type HTTP struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a client for the relay at base.
func NewHTTP(base string) *HTTP {
	return &HTTP{Base: strings.TrimRight(base, "/"), HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func (c *HTTP) PublishBundle(ctx context.Context, b domain.PublicKeyBundle) error {
	return c.post(ctx, "/bundles", b)
}

func (c *HTTP) FetchBundle(ctx context.Context, user domain.UserID) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.getJSON(ctx, "/bundles/"+url.PathEscape(user.String()), &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

func (c *HTTP) PreKeyStatus(ctx context.Context, user domain.UserID) (domain.PreKeyStatus, error) {
	var out domain.PreKeyStatus
	if err := c.getJSON(ctx, "/prekeys/"+url.PathEscape(user.String())+"/status", &out); err != nil {
		return domain.PreKeyStatus{}, err
	}
	return out, nil
}

func (c *HTTP) Deliver(ctx context.Context, d domain.Delivery, hint domain.DeliveryHint) error {
	return c.post(ctx, "/inbox/"+url.PathEscape(d.To.String()), deliverRequest{Delivery: d, Hint: hint})
}

func (c *HTTP) FetchDeliveries(ctx context.Context, user domain.UserID, limit int) ([]domain.Delivery, error) {
	path := "/inbox/" + url.PathEscape(user.String())
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.Delivery
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTP) AckDeliveries(ctx context.Context, user domain.UserID, count int) error {
	return c.post(ctx, "/inbox/"+url.PathEscape(user.String())+"/ack", ackRequest{Count: count})
}

func (c *HTTP) post(ctx context.Context, path string, in any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.MethodPost, path)
}

func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.MethodGet, path); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("relay %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusNotFound && relayError(body) {
		return fmt.Errorf("%w: %w", ErrUnknownUser, err)
	}
	return err
}

// relayError reports whether body is an error document written by Server.
// A bare 404 from a proxy or a wrong base path is not one.
func relayError(body []byte) bool {
	var doc struct {
		Error string `json:"error"`
	}
	return json.Unmarshal(body, &doc) == nil && doc.Error != ""
}

var _ domain.Relay = (*HTTP)(nil)
