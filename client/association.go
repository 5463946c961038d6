// Package client implements the requesting side of a DICOM association for
// the Storage Service Class: negotiation, pipelined C-STORE requests,
// asynchronous delivery of responses, release and abort.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/pdu"
	"github.com/caio-sobreiro/storescu/types"
)

// Implementation identification sent in the user information item.
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.9.7433.1.1"
	ImplementationVersionName = "STORESCU_GO_1"
)

// errReleased marks a reader that stopped because the peer confirmed release.
var errReleased = errors.New("association released")

// ProposedContext is one abstract syntax offered with its transfer syntaxes.
// Each transfer syntax becomes its own presentation context so that the
// acceptor can accept any subset of them.
type ProposedContext struct {
	AbstractSyntax   string
	TransferSyntaxes []string
}

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32        // Largest PDU we accept (default: 16KB)
	ConnectTimeout time.Duration // Timeout for establishing connection (default: 30s)
	ReadTimeout    time.Duration // Timeout for negotiation and release replies (default: 60s)
	WriteTimeout   time.Duration // Timeout for each outgoing message (default: 60s)
	Logger         *slog.Logger  // Logger for the association (default: slog.Default())

	// PresentationContexts to propose (default: every storage class in
	// types.StorageClasses with types.DefaultTransferSyntaxes).
	PresentationContexts []ProposedContext

	// MaxOperationsInvoked is the asynchronous window proposed to the peer.
	// 1 means synchronous and omits the sub-item; 0 asks for no limit.
	MaxOperationsInvoked uint16

	// UserIdentity is sent with the A-ASSOCIATE-RQ when set.
	UserIdentity *pdu.UserIdentity
}

func (c *Config) applyDefaults() {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = pdu.DefaultMaxPDULength
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if len(c.PresentationContexts) == 0 {
		c.PresentationContexts = DefaultPresentationContexts()
	}
}

// DefaultPresentationContexts proposes every known storage class with the
// default uncompressed transfer syntaxes.
func DefaultPresentationContexts() []ProposedContext {
	contexts := make([]ProposedContext, 0, len(types.StorageClasses))
	for _, c := range types.StorageClasses {
		contexts = append(contexts, ProposedContext{
			AbstractSyntax:   c.UID,
			TransferSyntaxes: types.DefaultTransferSyntaxes(),
		})
	}
	return contexts
}

// Association represents a client-side DICOM association
type Association struct {
	conn           net.Conn
	callingAETitle string
	calledAETitle  string
	maxPDULength   uint32
	peerMaxPDU     uint32
	maxOpsInvoked  int
	identity       *pdu.UserIdentity
	identityRsp    *pdu.UserIdentityResponse
	writeTimeout   time.Duration
	readTimeout    time.Duration
	logger         *slog.Logger

	presentationCtxs map[byte]*pdu.PresentationContext
	contextOrder     []byte

	writeMu       sync.Mutex
	nextMessageID uint16
	writeBroken   bool // a write stopped mid-PDU; guarded by writeMu

	responses chan *types.Message
	done      chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// Connect dials address and negotiates an association.
func Connect(ctx context.Context, address string, config Config) (*Association, error) {
	config.applyDefaults()

	dialer := &net.Dialer{
		Timeout: config.ConnectTimeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, dicomerrors.NewNetworkError("connect", err)
	}

	assoc, err := Negotiate(ctx, conn, config)
	if err != nil {
		return nil, err
	}

	config.Logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", config.CallingAETitle,
		"called_ae", config.CalledAETitle,
		"accepted_contexts", len(assoc.contextOrder),
		"max_operations_invoked", assoc.maxOpsInvoked)

	return assoc, nil
}

// Negotiate runs association establishment on an open connection. The
// connection is closed if negotiation fails.
func Negotiate(ctx context.Context, conn net.Conn, config Config) (*Association, error) {
	config.applyDefaults()

	assoc := &Association{
		conn:             conn,
		callingAETitle:   config.CallingAETitle,
		calledAETitle:    config.CalledAETitle,
		maxPDULength:     config.MaxPDULength,
		identity:         config.UserIdentity,
		writeTimeout:     config.WriteTimeout,
		readTimeout:      config.ReadTimeout,
		logger:           config.Logger,
		presentationCtxs: make(map[byte]*pdu.PresentationContext),
		responses:        make(chan *types.Message, 16),
		done:             make(chan struct{}),
	}

	// Unblock negotiation reads if the caller gives up
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := assoc.sendAssociateRQ(config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send A-ASSOCIATE-RQ: %w", err)
	}

	if err := assoc.receiveAssociateAC(); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to receive A-ASSOCIATE-AC: %w", err)
	}

	// The reader goroutine owns all reads from here on; no read deadline.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to clear read deadline: %w", err)
	}

	go assoc.readLoop()

	return assoc, nil
}

// sendAssociateRQ sends an A-ASSOCIATE-RQ PDU
func (a *Association) sendAssociateRQ(config Config) error {
	rq := &pdu.Associate{
		CalledAETitle:  a.calledAETitle,
		CallingAETitle: a.callingAETitle,
		UserInfo: pdu.UserInformation{
			MaxPDULength:              a.maxPDULength,
			ImplementationClassUID:    ImplementationClassUID,
			ImplementationVersionName: ImplementationVersionName,
			UserIdentity:              a.identity,
		},
	}
	if config.MaxOperationsInvoked != 1 {
		rq.UserInfo.AsyncOperations = &pdu.AsyncOperationsWindow{
			MaxOperationsInvoked:   config.MaxOperationsInvoked,
			MaxOperationsPerformed: 1,
		}
	}

	id := byte(1)
	for _, proposed := range config.PresentationContexts {
		for _, ts := range proposed.TransferSyntaxes {
			if len(rq.PresentationContexts) == pdu.MaxPresentationContexts {
				return fmt.Errorf("more than %d presentation contexts proposed", pdu.MaxPresentationContexts)
			}
			pc := pdu.PresentationContext{
				ID:               id,
				AbstractSyntax:   proposed.AbstractSyntax,
				TransferSyntaxes: []string{ts},
			}
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
			a.presentationCtxs[id] = &pdu.PresentationContext{
				ID:             id,
				AbstractSyntax: proposed.AbstractSyntax,
				Result:         pdu.ResultNoReason,
			}
			id += 2
		}
	}

	data, err := pdu.EncodeAssociateRQ(rq)
	if err != nil {
		return err
	}

	a.logger.Debug("Sending A-ASSOCIATE-RQ",
		"called_ae", a.calledAETitle,
		"presentation_contexts", len(rq.PresentationContexts))

	if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
		return err
	}
	if err := pdu.Write(a.conn, pdu.TypeAssociateRQ, data); err != nil {
		return dicomerrors.NewNetworkError("send A-ASSOCIATE-RQ", err)
	}
	return nil
}

// receiveAssociateAC receives and parses A-ASSOCIATE-AC
func (a *Association) receiveAssociateAC() error {
	if err := a.conn.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
		return err
	}

	p, err := pdu.Read(a.conn, 0)
	if err != nil {
		return dicomerrors.NewNetworkError("receive A-ASSOCIATE-AC", err)
	}

	switch p.Type {
	case pdu.TypeAssociateAC:
	case pdu.TypeAssociateRJ:
		rejectErr := pdu.DecodeAssociateRJ(p.Data)
		a.logger.Warn("Association rejected",
			"source", rejectErr.Source,
			"reason", rejectErr.Error(),
			"permanent", rejectErr.Permanent())
		return rejectErr
	case pdu.TypeAbort:
		return pdu.DecodeAbort(p.Data)
	default:
		return dicomerrors.NewPDUError(p.Type, "unexpected PDU (expected A-ASSOCIATE-AC)")
	}

	ac, err := pdu.DecodeAssociateAC(p.Data)
	if err != nil {
		return err
	}

	for _, result := range ac.PresentationContexts {
		pc, ok := a.presentationCtxs[result.ID]
		if !ok {
			a.logger.Warn("Peer answered unknown presentation context", "context_id", result.ID)
			continue
		}
		pc.Result = result.Result
		pc.TransferSyntax = result.TransferSyntax

		a.logger.Debug("Presentation context negotiation",
			"context_id", pc.ID,
			"abstract_syntax", types.SOPClassName(pc.AbstractSyntax),
			"result", pdu.ResultString(pc.Result),
			"transfer_syntax", pc.TransferSyntax)

		if pc.Accepted() {
			a.contextOrder = append(a.contextOrder, pc.ID)
		}
	}

	if len(a.contextOrder) == 0 {
		a.sendAbort()
		return fmt.Errorf("%w: peer accepted none of the proposed contexts", dicomerrors.ErrNoPresentationCtx)
	}

	a.peerMaxPDU = ac.UserInfo.MaxPDULength

	// Without the sub-item the peer performs one operation at a time.
	a.maxOpsInvoked = 1
	if w := ac.UserInfo.AsyncOperations; w != nil {
		a.maxOpsInvoked = int(w.MaxOperationsInvoked)
	}

	a.identityRsp = ac.UserInfo.UserIdentityResponse
	if a.identity != nil {
		a.logger.Debug("User identity negotiation",
			"type", pdu.UserIdentityTypeName(a.identity.Type),
			"positive_response_requested", a.identity.PositiveResponseRequested,
			"positive_response_received", a.identityRsp != nil)
		if a.identity.PositiveResponseRequested && a.identityRsp == nil {
			a.logger.Warn("Positive response for user identity requested but not received")
		}
	}

	return nil
}

// UserIdentityResponse returns the acceptor's user identity response, or
// nil when none was received.
func (a *Association) UserIdentityResponse() *pdu.UserIdentityResponse {
	return a.identityRsp
}

// MaxOperationsInvoked returns the negotiated asynchronous window; 0 means unlimited.
func (a *Association) MaxOperationsInvoked() int {
	return a.maxOpsInvoked
}

// PeerMaxPDULength returns the maximum PDU length announced by the peer.
func (a *Association) PeerMaxPDULength() uint32 {
	return a.peerMaxPDU
}

// GetPresentationContextID finds an accepted presentation context for the
// abstract syntax and transfer syntax pair.
func (a *Association) GetPresentationContextID(abstractSyntax, transferSyntax string) (byte, error) {
	var classAccepted bool
	for _, id := range a.contextOrder {
		pc := a.presentationCtxs[id]
		if pc.AbstractSyntax != abstractSyntax {
			continue
		}
		classAccepted = true
		if pc.TransferSyntax == transferSyntax {
			return pc.ID, nil
		}
	}
	if classAccepted {
		return 0, fmt.Errorf("%w: %s not accepted for %s",
			dicomerrors.ErrUnsupportedTransfer, types.TransferSyntaxName(transferSyntax), types.SOPClassName(abstractSyntax))
	}
	return 0, fmt.Errorf("%w: %s (%s)", dicomerrors.ErrNoPresentationCtx, types.SOPClassName(abstractSyntax), abstractSyntax)
}

// Release performs an orderly A-RELEASE and closes the connection. Responses
// that arrive while waiting for A-RELEASE-RP are discarded.
func (a *Association) Release() error {
	if err := a.readError(); err != nil {
		a.closeConn()
		return fmt.Errorf("cannot release: %w", err)
	}

	a.writeMu.Lock()
	err := a.writePDU(pdu.TypeReleaseRQ, pdu.ReleaseData())
	a.writeMu.Unlock()
	if err != nil {
		a.closeConn()
		return dicomerrors.NewNetworkError("send A-RELEASE-RQ", err)
	}

	timer := time.NewTimer(a.readTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-a.responses:
			if ok {
				a.logger.Warn("Discarding response received during release",
					"message_id", msg.MessageIDBeingRespondedTo,
					"status", fmt.Sprintf("0x%04x", msg.Status))
				continue
			}
			err := a.readError()
			a.closeConn()
			if errors.Is(err, errReleased) {
				a.logger.Debug("Association released")
				return nil
			}
			return fmt.Errorf("release failed: %w", err)
		case <-timer.C:
			a.closeConn()
			return dicomerrors.NewTimeoutError("A-RELEASE-RP", a.readTimeout.String())
		}
	}
}

// Abort sends A-ABORT and closes the connection. Safe to call more than
// once and from any goroutine.
func (a *Association) Abort() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.sendAbort()
		close(a.done)
		a.conn.Close()
	})
	return err
}

// Close releases the association, aborting it if release fails.
func (a *Association) Close() error {
	if err := a.Release(); err != nil {
		a.logger.Warn("Release failed, aborting association", "error", err)
		a.Abort()
		return err
	}
	return nil
}

func (a *Association) sendAbort() error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.writeBroken {
		a.logger.Debug("Outgoing stream interrupted, closing without A-ABORT")
		return nil
	}
	if err := a.writePDU(pdu.TypeAbort, pdu.EncodeAbort(pdu.AbortSourceServiceUser, 0x00)); err != nil {
		return dicomerrors.NewNetworkError("send A-ABORT", err)
	}
	a.logger.Debug("Sent A-ABORT")
	return nil
}

func (a *Association) closeConn() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.conn.Close()
	})
}

// writePDU writes one PDU under the write deadline. Callers hold writeMu.
func (a *Association) writePDU(pduType byte, data []byte) error {
	if a.writeBroken {
		return dicomerrors.ErrConnectionClosed
	}
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
		return err
	}
	return pdu.Write(a.conn, pduType, data)
}

func (a *Association) setReadError(err error) {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	if a.readErr == nil {
		a.readErr = err
	}
}

func (a *Association) readError() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.readErr
}
