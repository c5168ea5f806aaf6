package xclient

import (
	"context"
	"fmt"

	stealth "github.com/anatolykoptev/go-stealth"
)

// Transport performs one HTTP exchange and returns body and status.
type Transport interface {
	Do(ctx context.Context, method, url string, headers map[string]string) ([]byte, int, error)
}

// StealthTransport sends requests through a browser-fingerprinted client.
type StealthTransport struct {
	client *stealth.BrowserClient
	order  []string
}

// NewStealthTransport builds the transport, optionally through a proxy.
func NewStealthTransport(proxy string) (*StealthTransport, error) {
	opts := []stealth.ClientOption{stealth.WithHeaderOrder(headerOrder)}
	if proxy != "" {
		opts = append(opts, stealth.WithProxy(proxy))
	}
	bc, err := stealth.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("stealth client: %w", err)
	}
	return &StealthTransport{client: bc, order: headerOrder}, nil
}

type reply struct {
	body   []byte
	status int
	err    error
}

// Do runs the request and abandons it when ctx ends first.
func (t *StealthTransport) Do(ctx context.Context, method, url string, headers map[string]string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	ch := make(chan reply, 1)
	go func() {
		body, _, status, err := t.client.DoWithHeaderOrder(method, url, headers, nil, t.order)
		ch <- reply{body: body, status: status, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-ch:
		return r.body, r.status, r.err
	}
}
