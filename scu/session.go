// Package scu implements a pipelined DICOM Storage SCU: files are read,
// sent as C-STORE requests over one association without waiting for each
// response, and responses are matched back to their requests as they
// arrive.
package scu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caio-sobreiro/storescu/interfaces"
	"github.com/caio-sobreiro/storescu/types"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger overrides the logger used by the session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithUIDGenerator replaces the generator used for the session ID.
func WithUIDGenerator(gen UIDGenerator) Option {
	return func(s *Session) {
		s.uids = gen
	}
}

// WithPriority sets the C-STORE priority (default medium).
func WithPriority(priority uint16) Option {
	return func(s *Session) {
		s.priority = priority
	}
}

// Session owns the association for one run and its transfer counters.
type Session struct {
	id       string
	assoc    interfaces.AssociationService
	uids     UIDGenerator
	logger   *slog.Logger
	priority uint16

	maxOutstanding int
	imagesSent     int
	bytesRead      int64

	closed bool
}

// Open establishes the association through connector.
func Open(ctx context.Context, connector interfaces.Connector, opts ...Option) (*Session, error) {
	s := &Session{
		uids:     UUIDGenerator{},
		logger:   slog.Default(),
		priority: types.PriorityMedium,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.id = s.uids.NewUID()
	s.logger = s.logger.With("session", s.id)

	assoc, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open association: %w", err)
	}
	s.assoc = assoc
	s.maxOutstanding = assoc.MaxOutstanding()

	s.logger.Info("Session opened", "max_outstanding", s.maxOutstanding)
	return s, nil
}

// ID returns the session UID.
func (s *Session) ID() string {
	return s.id
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// MaxOutstanding returns the negotiated window; 0 means unbounded.
func (s *Session) MaxOutstanding() int {
	return s.maxOutstanding
}

// ImagesSent returns the number of requests transmitted and recorded as
// outstanding, whatever their response status.
func (s *Session) ImagesSent() int {
	return s.imagesSent
}

// BytesRead returns the bytes read from every prepared source, sent or not.
func (s *Session) BytesRead() int64 {
	return s.bytesRead
}

// AddBytesRead accumulates bytes read from a source.
func (s *Session) AddBytesRead(n int64) {
	s.bytesRead += n
}

// Send transmits the prepared item and returns its message ID.
func (s *Session) Send(ctx context.Context, item *TransferItem) (uint16, error) {
	if s.closed {
		return 0, fmt.Errorf("session %s is closed", s.id)
	}
	if item.Handle == nil {
		return 0, fmt.Errorf("%s has no prepared message", item.SourcePath)
	}

	messageID, err := s.assoc.Send(ctx, &interfaces.SendRequest{
		SOPClassUID:    item.SOPClassUID,
		SOPInstanceUID: item.SOPInstanceUID,
		TransferSyntax: item.TransferSyntax,
		Priority:       s.priority,
		Data:           item.Handle.Bytes(),
	})
	if err != nil {
		return 0, err
	}
	return messageID, nil
}

// countSent records one request accepted into the outstanding set.
func (s *Session) countSent() {
	s.imagesSent++
}

// ReadResponse reads the next response from the association.
func (s *Session) ReadResponse(ctx context.Context, timeout time.Duration) (*types.Message, error) {
	return s.assoc.ReadResponse(ctx, timeout)
}

// Close releases the association, falling back to abort. Closing a session
// that is already closed or aborted does nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.assoc.Release(); err != nil {
		s.logger.Warn("Release failed, aborting association", "error", err)
		s.assoc.Abort()
		return err
	}
	s.logger.Info("Session closed")
	return nil
}

// Abort aborts the association. Later calls and Close do nothing.
func (s *Session) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Warn("Aborting association")
	return s.assoc.Abort()
}
