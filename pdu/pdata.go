package pdu

import (
	"encoding/binary"
	"fmt"
	"io"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
)

// Message Control Header bits
const (
	controlCommand byte = 0x01
	controlLast    byte = 0x02
)

// pdvHeaderLength is the PDV item length field plus context ID and control header.
const pdvHeaderLength = 6

// PDV is one Presentation Data Value item of a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// WritePData sends data as one or more P-DATA-TF PDUs, each carrying a
// single PDV whose fragment fits within maxPDULength. A maxPDULength of zero
// means the peer imposes no limit.
func WritePData(w io.Writer, maxPDULength uint32, contextID byte, data []byte, isCommand bool) error {
	maxFragment := len(data)
	if maxPDULength > 0 {
		if maxPDULength <= pdvHeaderLength {
			return dicomerrors.NewPDUError(TypePDataTF,
				fmt.Sprintf("maximum PDU length %d leaves no room for data", maxPDULength))
		}
		maxFragment = int(maxPDULength) - pdvHeaderLength
	}
	if maxFragment == 0 {
		maxFragment = 1
	}

	offset := 0
	for {
		chunkSize := len(data) - offset
		lastFragment := true
		if chunkSize > maxFragment {
			chunkSize = maxFragment
			lastFragment = false
		}

		controlHeader := byte(0)
		if isCommand {
			controlHeader |= controlCommand
		}
		if lastFragment {
			controlHeader |= controlLast
		}

		pdv := make([]byte, 0, pdvHeaderLength+chunkSize)
		pdv = binary.BigEndian.AppendUint32(pdv, uint32(chunkSize+2))
		pdv = append(pdv, contextID, controlHeader)
		pdv = append(pdv, data[offset:offset+chunkSize]...)

		if err := Write(w, TypePDataTF, pdv); err != nil {
			return fmt.Errorf("failed to write P-DATA-TF: %w", err)
		}

		offset += chunkSize
		if lastFragment {
			return nil
		}
	}
}

// ParsePDataTF splits the body of a P-DATA-TF PDU into its PDV items.
func ParsePDataTF(data []byte) ([]PDV, error) {
	var pdvs []PDV

	offset := 0
	for offset < len(data) {
		if offset+pdvHeaderLength > len(data) {
			return nil, dicomerrors.NewPDUError(TypePDataTF, "malformed PDV encountered")
		}

		pdvLength := binary.BigEndian.Uint32(data[offset : offset+4])
		if pdvLength < 2 {
			return nil, dicomerrors.NewPDUError(TypePDataTF, "PDV shorter than its header")
		}
		end := offset + 4 + int(pdvLength)
		if end > len(data) {
			return nil, dicomerrors.NewPDUError(TypePDataTF, "PDV length exceeds PDU payload")
		}

		controlHeader := data[offset+5]
		pdvs = append(pdvs, PDV{
			ContextID: data[offset+4],
			Command:   controlHeader&controlCommand != 0,
			Last:      controlHeader&controlLast != 0,
			Data:      data[offset+pdvHeaderLength : end],
		})

		offset = end
	}

	if len(pdvs) == 0 {
		return nil, dicomerrors.NewPDUError(TypePDataTF, "P-DATA-TF without PDV items")
	}
	return pdvs, nil
}
