package scu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/interfaces"
	"github.com/caio-sobreiro/storescu/types"
)

// Correlator matches C-STORE responses to the items that produced them.
type Correlator struct {
	queue     *WorkQueue
	responses interfaces.ResponseReader
	logger    *slog.Logger
}

// NewCorrelator creates a correlator reading from responses.
func NewCorrelator(queue *WorkQueue, responses interfaces.ResponseReader, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{queue: queue, responses: responses, logger: logger}
}

// DrainOne waits up to timeout for one response and applies it to the
// matching item. A timeout, an unexpected command and a response matching
// no outstanding item all return nil. The returned error is always a
// transport failure or context cancellation, after which the association
// is unusable.
func (c *Correlator) DrainOne(ctx context.Context, timeout time.Duration) error {
	rsp, err := c.responses.ReadResponse(ctx, timeout)
	if err != nil {
		return err
	}
	if rsp == nil {
		return nil
	}

	if rsp.CommandField != types.CStoreRSP {
		c.logger.Warn("Ignoring unexpected DIMSE message",
			"command_field", fmt.Sprintf("0x%04x", rsp.CommandField),
			"message_id_responded_to", rsp.MessageIDBeingRespondedTo)
		return nil
	}

	item := c.queue.FindByCorrelation(rsp.MessageIDBeingRespondedTo, rsp.AffectedSOPInstanceUID)
	if item == nil {
		c.logger.Warn("Discarding C-STORE-RSP with no matching request",
			"message_id_responded_to", rsp.MessageIDBeingRespondedTo,
			"sop_instance", rsp.AffectedSOPInstanceUID,
			"status", fmt.Sprintf("0x%04x", rsp.Status))
		return nil
	}

	info := ClassifyStatus(rsp.Status)
	item.Status = rsp.Status
	item.StatusText = info.Text
	item.Category = info.Category
	c.queue.acknowledge(item)

	switch info.Category {
	case CategorySuccess:
		c.logger.Debug("C-STORE acknowledged",
			"file", item.SourcePath,
			"message_id", item.MessageID)
	case CategoryWarning:
		c.logger.Warn("C-STORE completed with warning",
			"file", item.SourcePath,
			"message_id", item.MessageID,
			"status", fmt.Sprintf("0x%04x", rsp.Status),
			"meaning", info.Text,
			"error_comment", rsp.ErrorComment)
	case CategoryFailure:
		item.Failed = true
		item.Err = dicomerrors.NewDIMSEError("C-STORE", rsp.Status, info.Text)
		c.logger.Error("C-STORE failed",
			"file", item.SourcePath,
			"message_id", item.MessageID,
			"status", fmt.Sprintf("0x%04x", rsp.Status),
			"meaning", info.Text,
			"error_comment", rsp.ErrorComment)
	}

	return nil
}
