package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"otrkit/internal/domain"
)

// HTTP is a RelayClient speaking to a relay Server.
type HTTP struct {
	Base string
	HTTP *http.Client

	log *logging.Logger
}

// NewHTTP returns a client for the relay at base. A nil httpClient uses
// http.DefaultClient.
func NewHTTP(log *logging.Logger, base string, httpClient *http.Client) *HTTP {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTP{Base: strings.TrimRight(base, "/"), HTTP: httpClient, log: log}
}

var _ domain.RelayClient = (*HTTP)(nil)

// SendMessage posts env to its recipient's queue.
func (c *HTTP) SendMessage(ctx context.Context, env domain.Envelope) error {
	if env.To == "" {
		return fmt.Errorf("relay: envelope has no recipient")
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	}
	return c.post(ctx, "/msg/"+url.PathEscape(string(env.To)), env)
}

// FetchMessages drains the queue of username.
func (c *HTTP) FetchMessages(
	ctx context.Context,
	username domain.Username,
) ([]domain.Envelope, error) {
	var envs []domain.Envelope
	if err := c.getJSON(ctx, "/msg/"+url.PathEscape(string(username)), &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// Subscribe opens the push channel of username. The returned channel is
// closed when ctx is done or the connection drops.
func (c *HTTP) Subscribe(
	ctx context.Context,
	username domain.Username,
) (<-chan domain.Envelope, error) {
	u := wsBase(c.Base) + "/ws/" + url.PathEscape(string(username))
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: c.HTTP})
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", u, err)
	}

	out := make(chan domain.Envelope)
	go func() {
		defer close(out)
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warningf("Subscription for %v ended: %v", username, err)
				}
				return
			}
			var env domain.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.log.Errorf("Dropping undecodable envelope: %v", err)
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
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
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay post %s: %s", path, resp.Status)
	}
	return nil
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
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay get %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
