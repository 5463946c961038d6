package scu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/interfaces"
)

// DefaultResponseTimeout bounds each wait for a response while the window
// is full or during the final drain.
const DefaultResponseTimeout = 10 * time.Second

// Progress receives the number of bytes read for each item.
// *progressbar.ProgressBar satisfies it.
type Progress interface {
	Add64(n int64) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResponseTimeout sets how long each response wait blocks.
func WithResponseTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.responseTimeout = timeout
	}
}

// WithIdleTimeout aborts the session when no response is matched for this
// long while responses are awaited. Zero waits forever.
func WithIdleTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.idleTimeout = timeout
	}
}

// WithProgress reports bytes read to p.
func WithProgress(p Progress) DispatcherOption {
	return func(d *Dispatcher) {
		d.progress = p
	}
}

// Dispatcher drives the send loop for one session.
type Dispatcher struct {
	queue      *WorkQueue
	reader     interfaces.Reader
	session    *Session
	correlator *Correlator
	logger     *slog.Logger

	responseTimeout time.Duration
	idleTimeout     time.Duration
	progress        Progress

	// observe is called after every window wait; tests use it to sample
	// the outstanding count.
	observe func(outstanding int)
}

// NewDispatcher creates a dispatcher sending the items of queue over session.
func NewDispatcher(queue *WorkQueue, reader interfaces.Reader, session *Session, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:           queue,
		reader:          reader,
		session:         session,
		logger:          session.Logger(),
		responseTimeout: DefaultResponseTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.correlator = NewCorrelator(queue, session, d.logger)
	return d
}

// Result reports the outcome of Run.
type Result struct {
	Summary
	ImagesSent int
	BytesRead  int64
	Elapsed    time.Duration

	// Aborted is set when a fatal error ended the session early.
	Aborted bool
}

// Run sends every queued item and waits for the outstanding responses.
// Item level failures are recorded on the items. A non-nil error means the
// session was aborted; items still awaiting a response are marked failed.
// Request handles are released before Run returns.
func (d *Dispatcher) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	err := d.dispatch(ctx)
	if err == nil {
		err = d.awaitResponses(ctx, func() bool { return d.queue.Outstanding() == 0 })
	}

	if err != nil {
		d.logger.Error("Session failed, aborting", "error", err)
		d.session.Abort()
		d.failOutstanding()
	}
	d.queue.ReleaseAll()

	result := Result{
		Summary:    d.queue.Summary(),
		ImagesSent: d.session.ImagesSent(),
		BytesRead:  d.session.BytesRead(),
		Elapsed:    time.Since(start),
		Aborted:    err != nil,
	}

	d.logger.Info("Send loop complete",
		"total", result.Total,
		"sent", result.ImagesSent,
		"acknowledged", result.Acknowledged,
		"warnings", result.Warnings,
		"failed", result.Failed,
		"unread", result.Unread,
		"aborted", result.Aborted,
		"elapsed", result.Elapsed)

	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context) error {
	window := d.session.MaxOutstanding()

	for i := 0; i < d.queue.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, err)
		}

		if err := d.sendItem(ctx, i); err != nil {
			return err
		}

		// Pick up whatever has already arrived without blocking
		if err := d.correlator.DrainOne(ctx, 0); err != nil {
			return err
		}

		if window > 0 {
			err := d.awaitResponses(ctx, func() bool { return d.queue.Outstanding() < window })
			if err != nil {
				return err
			}
			if d.observe != nil {
				d.observe(d.queue.Outstanding())
			}
		}
	}
	return nil
}

// sendItem reads and sends item i. Only session-fatal errors are returned.
func (d *Dispatcher) sendItem(ctx context.Context, i int) error {
	item := d.queue.Item(i)

	prepared, err := d.reader.Prepare(item.SourcePath)
	if err != nil {
		item.State = StateReadFailed
		item.Failed = true
		item.Err = err
		d.logger.Warn("Skipping unreadable file", "file", item.SourcePath, "error", err)
		return nil
	}

	item.Handle = prepared.Handle
	item.TransferSyntax = prepared.TransferSyntax
	item.SOPClassUID = prepared.SOPClassUID
	item.SOPInstanceUID = prepared.SOPInstanceUID
	item.ByteSize = prepared.ByteSize
	item.State = StateReady

	d.session.AddBytesRead(prepared.ByteSize)
	if d.progress != nil {
		if err := d.progress.Add64(prepared.ByteSize); err != nil {
			d.logger.Debug("Progress update failed", "file", item.SourcePath, "error", err)
		}
	}

	messageID, err := d.session.Send(ctx, item)
	if err != nil {
		item.State = StateSendFailed
		item.Failed = true
		item.Err = err
		d.queue.ReleaseHandle(i)

		if ClassifySendError(err) == SendFatal {
			return fmt.Errorf("failed to send %s: %w", item.SourcePath, err)
		}
		d.logger.Warn("Failed to send file", "file", item.SourcePath, "error", err)
		return nil
	}

	if err := d.queue.MarkSent(i, messageID); err != nil {
		item.Failed = true
		item.Err = err
		d.queue.ReleaseHandle(i)
		return err
	}
	d.session.countSent()
	d.queue.ReleaseHandle(i)

	d.logger.Info("Sent file",
		"file", item.SourcePath,
		"message_id", messageID,
		"sop_instance", item.SOPInstanceUID,
		"bytes", item.ByteSize)
	return nil
}

// awaitResponses drains responses until done reports true. With an idle
// timeout set, going that long without a matched response is fatal.
func (d *Dispatcher) awaitResponses(ctx context.Context, done func() bool) error {
	lastMatch := time.Now()
	for !done() {
		before := d.queue.Outstanding()
		if err := d.correlator.DrainOne(ctx, d.responseTimeout); err != nil {
			return err
		}
		if d.queue.Outstanding() < before {
			lastMatch = time.Now()
			continue
		}

		waited := time.Since(lastMatch)
		if d.idleTimeout > 0 && waited >= d.idleTimeout {
			return fmt.Errorf("%d responses outstanding: %w", d.queue.Outstanding(),
				dicomerrors.NewTimeoutError("C-STORE-RSP", d.idleTimeout.String()))
		}
		d.logger.Debug("Waiting for responses",
			"outstanding", d.queue.Outstanding(),
			"waited", waited.Round(time.Millisecond))
	}
	return nil
}

// failOutstanding marks items that will never be acknowledged.
func (d *Dispatcher) failOutstanding() {
	for _, item := range d.queue.Items() {
		if item.Outstanding() {
			item.Failed = true
			item.Err = dicomerrors.ErrAssociationAborted
		}
	}
}
