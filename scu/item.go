package scu

import (
	"github.com/caio-sobreiro/storescu/interfaces"
)

// ItemState tracks a transfer item through the send loop.
type ItemState int

const (
	StatePending ItemState = iota
	StateReadFailed
	StateReady
	StateSendFailed
	StateSent
	StateAcknowledged
)

func (s ItemState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReadFailed:
		return "read failed"
	case StateReady:
		return "ready"
	case StateSendFailed:
		return "send failed"
	case StateSent:
		return "sent"
	case StateAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// TransferItem is one source to send and everything learned about it.
type TransferItem struct {
	SourcePath string

	// Handle is nil until the source is prepared and again once released.
	Handle interfaces.Handle

	TransferSyntax string
	SOPClassUID    string
	SOPInstanceUID string
	ByteSize       int64

	// MessageID correlates the request with its response once Sent is set.
	MessageID uint16

	// Status and StatusText are filled in from the matched response.
	Status     uint16
	StatusText string
	Category   StatusCategory

	State        ItemState
	Sent         bool
	Acknowledged bool
	Failed       bool

	// Err is the last error recorded for the item.
	Err error
}

// Outstanding reports whether the item was sent and awaits its response.
func (it *TransferItem) Outstanding() bool {
	return it.Sent && !it.Acknowledged
}

// releaseHandle releases the request handle; later calls do nothing.
func (it *TransferItem) releaseHandle() {
	if it.Handle == nil {
		return
	}
	it.Handle.Release()
	it.Handle = nil
}
