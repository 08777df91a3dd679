// Package syncer drains a durable outbox into the ledger whenever
// connectivity allows: sequentially, oldest first, tolerant of partial
// failure, and safe to trigger while a previous cycle is still in flight.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/mufa2906/uangku/pkg/outbox"
)

// TokenFunc supplies the bearer token for ledger requests.
type TokenFunc func(ctx context.Context) (string, error)

// Options tunes the orchestrator.
type Options struct {
	// Interval enables periodic syncing while online. Zero disables the
	// ticker; transitions and manual triggers still sync.
	Interval time.Duration
	// RetryMax bounds transient retries within one submission.
	RetryMax int
	Logger   *slog.Logger
}

// Orchestrator drives sync cycles against the ledger's transaction endpoint.
type Orchestrator struct {
	queue   *outbox.Queue
	http    *retryablehttp.Client
	baseURL string
	token   TokenFunc
	conn    Connectivity
	logger  *slog.Logger

	interval time.Duration
	syncing  atomic.Bool
}

func New(queue *outbox.Queue, baseURL string, token TokenFunc, conn Connectivity, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.Logger = nil
	client.HTTPClient.Timeout = 30 * time.Second
	return &Orchestrator{
		queue:    queue,
		http:     client,
		baseURL:  baseURL,
		token:    token,
		conn:     conn,
		logger:   logger,
		interval: opts.Interval,
	}
}

// permanentError is a business-rule rejection from the ledger. Retrying the
// same payload can never succeed, so the entry is marked failed instead of
// left pending.
type permanentError struct {
	status  int
	message string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("rejected by ledger (%d): %s", e.status, e.message)
}

// SyncPending drains the queue once. Offline is a no-op, not an error, and
// so is a call that lands while a previous cycle's round-trips are still
// outstanding: at most one cycle runs at a time, so no entry is ever
// submitted twice concurrently.
func (o *Orchestrator) SyncPending(ctx context.Context) error {
	if !o.conn.Online() {
		return nil
	}
	if !o.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer o.syncing.Store(false)

	entries, err := o.queue.ListPending(ctx)
	if err != nil {
		return errors.Wrap(err, "list pending")
	}
	for _, e := range entries {
		serverID, err := o.submit(ctx, e)
		if err == nil {
			if err := o.queue.MarkSynced(ctx, e.LocalID, serverID); err != nil {
				return err
			}
			continue
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			o.logger.Warn("entry permanently rejected", "localId", e.LocalID, "err", err)
			if err := o.queue.MarkFailed(ctx, e.LocalID, perm.message); err != nil {
				return err
			}
			continue
		}
		// transient: leave pending for the next trigger, keep draining so
		// one slow entry does not block independent ones
		o.logger.Info("entry submission failed, will retry", "localId", e.LocalID, "err", err)
	}
	return o.queue.Cleanup(ctx)
}

// submit POSTs one entry, carrying its local id so the ledger can
// deduplicate replays, and returns the server-assigned id.
func (o *Orchestrator) submit(ctx context.Context, e outbox.Entry) (string, error) {
	payload := struct {
		outbox.Draft
		Amount  string `json:"amount"`
		Date    string `json:"date"`
		LocalID string `json:"localId"`
	}{
		Draft:   e.Draft,
		Amount:  e.Draft.Amount.String(),
		Date:    e.Draft.Date.Format(time.RFC3339),
		LocalID: e.LocalID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode payload")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if o.token != nil {
		tok, err := o.token(ctx)
		if err != nil {
			return "", errors.Wrap(err, "fetch token")
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "submit entry")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var created struct {
			ID uint `json:"id"`
		}
		if err := json.Unmarshal(raw, &created); err != nil {
			return "", errors.Wrap(err, "decode response")
		}
		return strconv.FormatUint(uint64(created.ID), 10), nil
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusNotFound ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		return "", &permanentError{status: resp.StatusCode, message: rejectionMessage(raw)}
	default:
		return "", errors.Errorf("server error %d", resp.StatusCode)
	}
}

func rejectionMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return string(raw)
}

// Run syncs on offline-to-online transitions and, when configured, on a
// periodic ticker while online. Going offline mid-cycle needs no special
// handling: the in-flight submissions fail as ordinary per-entry errors and
// the entries stay pending.
func (o *Orchestrator) Run(ctx context.Context) error {
	var changes <-chan bool
	if n, ok := o.conn.(Notifier); ok {
		changes = n.Changes()
	}
	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	if o.conn.Online() {
		if err := o.SyncPending(ctx); err != nil {
			o.logger.Warn("sync cycle failed", "err", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online := <-changes:
			if online {
				if err := o.SyncPending(ctx); err != nil {
					o.logger.Warn("sync cycle failed", "err", err)
				}
			}
		case <-tick:
			if o.conn.Online() {
				if err := o.SyncPending(ctx); err != nil {
					o.logger.Warn("sync cycle failed", "err", err)
				}
			}
		}
	}
}
