// ABOUTME: Live query subscriptions over the gateway's SSE endpoint
// ABOUTME: Each subscription owns one stream and one reader goroutine until Cancel

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/2389/coven-chat/internal/query"
)

// stream is a live subscription backed by one SSE response.
type stream struct {
	collection string
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// Cancel closes the stream and waits for the reader goroutine, so no
// handler call starts or runs after it returns. It must not be called from
// the subscription's own handler.
func (s *stream) Cancel() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe opens a live query. It returns once the gateway confirms the
// subscription; ctx bounds only that setup.
func (c *Client) Subscribe(ctx context.Context, collection string, filter *query.Filter, handler query.Handler) (query.Subscription, error) {
	if err := query.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribing to %s: handler is required", collection)
	}

	params := url.Values{"collection": {collection}}
	if filter != nil {
		data, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("encoding filter: %w", err)
		}
		params.Set("filter", string(data))
	}

	// The stream outlives ctx, so it runs on its own context. ctx may still
	// abort the setup.
	streamCtx, cancel := context.WithCancel(context.Background())
	stopSetup := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/api/live?"+params.Encode(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	fail := func(err error) (query.Subscription, error) {
		stopSetup()
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(fmt.Errorf("opening live stream: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		err := handleErrorResponse(resp)
		resp.Body.Close()
		return fail(err)
	}

	reader := newSSEReader(resp.Body)
	if err := awaitReady(reader); err != nil {
		resp.Body.Close()
		return fail(err)
	}
	if !stopSetup() {
		// ctx ended while the stream was being confirmed.
		resp.Body.Close()
		cancel()
		return nil, ctx.Err()
	}

	s := &stream{
		collection: collection,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.readStream(streamCtx, s, resp.Body, reader, handler)

	c.logger.Debug("live stream opened", "collection", collection, "filter", filter.String())
	return s, nil
}

// awaitReady consumes events up to the gateway's ready event.
func awaitReady(reader *sseReader) error {
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamEnded
			}
			return err
		}
		switch ev.Type {
		case "ready":
			return nil
		case "error":
			return &APIError{StatusCode: http.StatusOK, Message: decodeStreamError(ev.Data)}
		}
	}
}

func (c *Client) readStream(ctx context.Context, s *stream, body io.ReadCloser, reader *sseReader, handler query.Handler) {
	defer close(s.done)
	defer body.Close()

	for {
		ev, err := reader.Next()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			c.logger.Warn("live stream ended", "collection", s.collection, "error", err)
			handler(query.Error(err))
			return
		}

		switch ev.Type {
		case "data":
			var payload struct {
				Records []query.Record `json:"records"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				handler(query.Error(fmt.Errorf("decoding live data: %w", err)))
				continue
			}
			if payload.Records == nil {
				payload.Records = []query.Record{}
			}
			handler(query.Data(payload.Records))
		case "error":
			handler(query.Error(errors.New(decodeStreamError(ev.Data))))
		default:
			c.logger.Debug("ignoring live event", "type", ev.Type)
		}
	}
}

func decodeStreamError(data string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(data), &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return data
}
