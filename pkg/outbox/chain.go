package outbox

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// Chain presents one Store over an ordered list of backends. Every operation
// tries the primary first and falls through on error, so callers never need
// to know which backend served the request. With every backend down the
// chain reports ErrStorageUnavailable.
type Chain struct {
	stores []Store
	logger *slog.Logger
}

func NewChain(logger *slog.Logger, stores ...Store) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{stores: stores, logger: logger}
}

func (c *Chain) fallthroughErr(op string, firstErr error) error {
	if firstErr == nil {
		firstErr = ErrStorageUnavailable
	}
	return errors.Wrap(firstErr, op)
}

func (c *Chain) Put(ctx context.Context, e Entry) error {
	var firstErr error
	for i, s := range c.stores {
		err := s.Put(ctx, e)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("outbox store failed, falling through", "op", "put", "store", i, "err", err)
	}
	return c.fallthroughErr("put", firstErr)
}

func (c *Chain) Get(ctx context.Context, key string) (Entry, error) {
	var firstErr error
	for i, s := range c.stores {
		e, err := s.Get(ctx, key)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, ErrEntryNotFound) {
			return Entry{}, err
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("outbox store failed, falling through", "op", "get", "store", i, "err", err)
	}
	return Entry{}, c.fallthroughErr("get", firstErr)
}

func (c *Chain) Find(ctx context.Context, localID string) (Entry, error) {
	var firstErr error
	for i, s := range c.stores {
		e, err := s.Find(ctx, localID)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, ErrEntryNotFound) {
			return Entry{}, err
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("outbox store failed, falling through", "op", "find", "store", i, "err", err)
	}
	return Entry{}, c.fallthroughErr("find", firstErr)
}

func (c *Chain) List(ctx context.Context) ([]Entry, error) {
	var firstErr error
	for i, s := range c.stores {
		out, err := s.List(ctx)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("outbox store failed, falling through", "op", "list", "store", i, "err", err)
	}
	return nil, c.fallthroughErr("list", firstErr)
}

func (c *Chain) Delete(ctx context.Context, key string) error {
	var firstErr error
	for i, s := range c.stores {
		err := s.Delete(ctx, key)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("outbox store failed, falling through", "op", "delete", "store", i, "err", err)
	}
	return c.fallthroughErr("delete", firstErr)
}

func (c *Chain) Clear(ctx context.Context) error {
	var firstErr error
	for i, s := range c.stores {
		err := s.Clear(ctx)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		c.logger.Warn("outbox store failed, falling through", "op", "clear", "store", i, "err", err)
	}
	return c.fallthroughErr("clear", firstErr)
}

func (c *Chain) Close() error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
