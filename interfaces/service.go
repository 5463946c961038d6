// Package interfaces contains the collaborator interfaces consumed by the
// storage engine
package interfaces

import (
	"context"
	"time"

	"github.com/caio-sobreiro/storescu/types"
)

// SendRequest is one C-STORE request ready for transmission.
type SendRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	TransferSyntax string
	Priority       uint16
	Data           []byte
}

// ResponseReader delivers DIMSE responses in arrival order.
type ResponseReader interface {
	// ReadResponse waits up to timeout for the next response. It returns
	// (nil, nil) on timeout; a timeout of zero polls without blocking.
	ReadResponse(ctx context.Context, timeout time.Duration) (*types.Message, error)
}

// AssociationService is an established association able to pipeline
// C-STORE requests.
type AssociationService interface {
	ResponseReader

	// Send transmits a request and returns the message ID assigned to it.
	// It does not wait for the response.
	Send(ctx context.Context, req *SendRequest) (uint16, error)

	// MaxOutstanding is the negotiated asynchronous window; 0 means unbounded.
	MaxOutstanding() int

	Release() error
	Abort() error
}

// Connector establishes an association.
type Connector interface {
	Connect(ctx context.Context) (AssociationService, error)
}
