package scu

import (
	"context"
	"errors"
	"time"

	"github.com/caio-sobreiro/storescu/client"
	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/interfaces"
	"github.com/caio-sobreiro/storescu/types"
)

// ClientConnector opens associations with client.Connect.
type ClientConnector struct {
	Address string
	Config  client.Config
}

// Connect dials the peer and negotiates an association.
func (c *ClientConnector) Connect(ctx context.Context) (interfaces.AssociationService, error) {
	assoc, err := client.Connect(ctx, c.Address, c.Config)
	if err != nil {
		return nil, err
	}
	return NewClientAssociation(assoc), nil
}

// NewClientAssociation adapts an established client association.
func NewClientAssociation(assoc *client.Association) interfaces.AssociationService {
	return &clientAssociation{assoc: assoc}
}

type clientAssociation struct {
	assoc *client.Association
}

func (a *clientAssociation) Send(ctx context.Context, req *interfaces.SendRequest) (uint16, error) {
	return a.assoc.SendCStore(ctx, &client.CStoreRequest{
		SOPClassUID:    req.SOPClassUID,
		SOPInstanceUID: req.SOPInstanceUID,
		TransferSyntax: req.TransferSyntax,
		Priority:       req.Priority,
		Data:           req.Data,
	})
}

func (a *clientAssociation) ReadResponse(ctx context.Context, timeout time.Duration) (*types.Message, error) {
	return a.assoc.ReadResponse(ctx, timeout)
}

func (a *clientAssociation) MaxOutstanding() int {
	return a.assoc.MaxOperationsInvoked()
}

func (a *clientAssociation) Release() error {
	return a.assoc.Release()
}

func (a *clientAssociation) Abort() error {
	return a.assoc.Abort()
}

// SendOutcome classifies the result of a send.
type SendOutcome int

const (
	SendOK SendOutcome = iota
	SendRecoverable
	SendFatal
)

func (o SendOutcome) String() string {
	switch o {
	case SendOK:
		return "ok"
	case SendRecoverable:
		return "recoverable"
	case SendFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifySendError decides whether a send failure ends the session. Broken
// transports, aborted associations and SOP classes the peer did not accept
// are fatal; anything else only fails the item being sent.
func ClassifySendError(err error) SendOutcome {
	if err == nil {
		return SendOK
	}

	var netErr *dicomerrors.NetworkError
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, dicomerrors.ErrAssociationAborted),
		errors.Is(err, dicomerrors.ErrConnectionClosed),
		errors.Is(err, dicomerrors.ErrNoPresentationCtx),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return SendFatal
	}
	return SendRecoverable
}
