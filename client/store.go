package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/caio-sobreiro/storescu/dimse"
	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/pdu"
	"github.com/caio-sobreiro/storescu/types"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	TransferSyntax string
	Priority       uint16
	Data           []byte
}

// SendCStore transmits a C-STORE-RQ and returns its message ID without
// waiting for the response; responses arrive through ReadResponse.
func (a *Association) SendCStore(ctx context.Context, req *CStoreRequest) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := a.readError(); err != nil {
		return 0, a.closedError(err)
	}

	presContextID, err := a.GetPresentationContextID(req.SOPClassUID, req.TransferSyntax)
	if err != nil {
		return 0, err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.writeBroken {
		return 0, dicomerrors.ErrConnectionClosed
	}

	messageID := a.nextID()
	command := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              messageID,
		Priority:               req.Priority,
		CommandDataSetType:     types.DataSetPresent,
		AffectedSOPClassUID:    req.SOPClassUID,
		AffectedSOPInstanceUID: req.SOPInstanceUID,
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return 0, fmt.Errorf("failed to encode command: %w", err)
	}

	if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
		return 0, dicomerrors.NewNetworkError("send C-STORE", err)
	}

	// Cancellation cuts a write blocked on a peer that stopped reading
	stop := context.AfterFunc(ctx, func() {
		a.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := pdu.WritePData(a.conn, a.peerMaxPDU, presContextID, commandData, true); err != nil {
		return 0, a.writeFailed(ctx, err)
	}
	if err := pdu.WritePData(a.conn, a.peerMaxPDU, presContextID, req.Data, false); err != nil {
		return 0, a.writeFailed(ctx, err)
	}

	a.logger.Debug("Sent C-STORE-RQ",
		"message_id", messageID,
		"context_id", presContextID,
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"data_size", len(req.Data))

	return messageID, nil
}

// writeFailed marks the outgoing stream unusable, since a PDU may have been
// cut short, and reports why the write stopped. Callers hold writeMu.
func (a *Association) writeFailed(ctx context.Context, err error) error {
	a.writeBroken = true
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("send C-STORE interrupted: %w", ctxErr)
	}
	return dicomerrors.NewNetworkError("send C-STORE", err)
}

// nextID returns the next message ID, wrapping at 16 bits and skipping 0.
// Callers hold writeMu.
func (a *Association) nextID() uint16 {
	a.nextMessageID++
	if a.nextMessageID == 0 {
		a.nextMessageID = 1
	}
	return a.nextMessageID
}

// ReadResponse waits up to timeout for the next DIMSE response. It returns
// (nil, nil) when the timeout elapses; a timeout of zero polls without
// blocking. An error means the association can no longer deliver responses.
func (a *Association) ReadResponse(ctx context.Context, timeout time.Duration) (*types.Message, error) {
	if timeout <= 0 {
		select {
		case msg, ok := <-a.responses:
			return a.received(msg, ok)
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-a.responses:
		return a.received(msg, ok)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Association) received(msg *types.Message, ok bool) (*types.Message, error) {
	if !ok {
		return nil, a.closedError(a.readError())
	}
	return msg, nil
}

// closedError maps the reader's terminal error to what callers classify on.
func (a *Association) closedError(err error) error {
	var abortErr *dicomerrors.AbortError
	switch {
	case errors.As(err, &abortErr):
		return abortErr
	case errors.Is(err, errReleased), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return dicomerrors.ErrConnectionClosed
	case err == nil:
		return dicomerrors.ErrConnectionClosed
	}
	var netErr *dicomerrors.NetworkError
	if errors.As(err, &netErr) {
		return err
	}
	return dicomerrors.NewNetworkError("receive", err)
}

// readLoop owns every read on the connection after negotiation. Complete
// DIMSE messages are handed to ReadResponse through a.responses, which is
// closed when the loop ends.
func (a *Association) readLoop() {
	defer close(a.responses)

	asm := &assembler{}
	for {
		p, err := pdu.Read(a.conn, a.maxPDULength)
		if err != nil {
			select {
			case <-a.done:
				a.setReadError(net.ErrClosed)
			default:
				a.logger.Warn("Association read failed", "error", err)
				a.setReadError(err)
			}
			return
		}

		switch p.Type {
		case pdu.TypePDataTF:
			pdvs, err := pdu.ParsePDataTF(p.Data)
			if err != nil {
				a.protocolError(err)
				return
			}
			for _, pdv := range pdvs {
				msg, err := asm.add(pdv)
				if err != nil {
					a.protocolError(err)
					return
				}
				if msg == nil {
					continue
				}
				a.logger.Debug("Received DIMSE message",
					"command_field", fmt.Sprintf("0x%04x", msg.command.CommandField),
					"message_id_responded_to", msg.command.MessageIDBeingRespondedTo,
					"status", fmt.Sprintf("0x%04x", msg.command.Status))
				select {
				case a.responses <- msg.command:
				case <-a.done:
					a.setReadError(net.ErrClosed)
					return
				}
			}
		case pdu.TypeReleaseRP:
			a.setReadError(errReleased)
			return
		case pdu.TypeReleaseRQ:
			// Peer-initiated release: confirm and stop.
			a.writeMu.Lock()
			a.writePDU(pdu.TypeReleaseRP, pdu.ReleaseData())
			a.writeMu.Unlock()
			a.logger.Warn("Peer released the association")
			a.setReadError(dicomerrors.ErrConnectionClosed)
			return
		case pdu.TypeAbort:
			abortErr := pdu.DecodeAbort(p.Data)
			a.logger.Error("Received A-ABORT from peer",
				"source", abortErr.Source,
				"reason", abortErr.Reason)
			a.setReadError(abortErr)
			return
		default:
			a.protocolError(dicomerrors.NewPDUError(p.Type, "unexpected PDU on established association"))
			return
		}
	}
}

// protocolError aborts the association after a malformed or unexpected PDU.
func (a *Association) protocolError(err error) {
	a.logger.Error("Protocol error, aborting association", "error", err)
	a.setReadError(dicomerrors.NewAbortError(pdu.AbortSourceServiceUser, 0x00))
	a.Abort()
}

// receivedMessage is a reassembled DIMSE message.
type receivedMessage struct {
	contextID byte
	command   *types.Message
	dataSet   []byte
}

// assembler reassembles command and data set fragments from PDVs.
type assembler struct {
	commandData []byte
	dataSet     []byte
	pending     *receivedMessage
}

// add consumes one PDV and returns a message once it is complete.
func (as *assembler) add(pdv pdu.PDV) (*receivedMessage, error) {
	if pdv.Command {
		if as.pending != nil {
			return nil, fmt.Errorf("%w: command fragment while awaiting data set", dicomerrors.ErrInvalidMessage)
		}
		as.commandData = append(as.commandData, pdv.Data...)
		if !pdv.Last {
			return nil, nil
		}

		command, err := dimse.DecodeCommand(as.commandData)
		as.commandData = nil
		if err != nil {
			return nil, err
		}
		msg := &receivedMessage{contextID: pdv.ContextID, command: command}
		if !command.HasDataSet() {
			return msg, nil
		}
		as.pending = msg
		return nil, nil
	}

	if as.pending == nil {
		return nil, fmt.Errorf("%w: data set fragment without command", dicomerrors.ErrInvalidMessage)
	}
	as.dataSet = append(as.dataSet, pdv.Data...)
	if !pdv.Last {
		return nil, nil
	}

	msg := as.pending
	msg.dataSet = as.dataSet
	as.pending = nil
	as.dataSet = nil
	return msg, nil
}
