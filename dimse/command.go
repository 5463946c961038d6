// Package dimse encodes and decodes DIMSE command sets.
//
// Command sets are always Implicit VR Little Endian (PS3.7 Section 6.3.1)
// regardless of the transfer syntax negotiated for the data set.
package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/types"
)

// Command group element numbers (group 0000)
const (
	elemGroupLength               = 0x0000
	elemAffectedSOPClassUID       = 0x0002
	elemCommandField              = 0x0100
	elemMessageID                 = 0x0110
	elemMessageIDBeingRespondedTo = 0x0120
	elemPriority                  = 0x0700
	elemCommandDataSetType        = 0x0800
	elemStatus                    = 0x0900
	elemErrorComment              = 0x0902
	elemAffectedSOPInstanceUID    = 0x1000
)

// maxElementLength guards against garbage lengths in a corrupt command.
const maxElementLength = 1 << 20

// EncodeCommand encodes a DIMSE command message using Implicit VR Little Endian.
// Elements are written in ascending tag order, preceded by the group length.
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg == nil || msg.CommandField == 0 {
		return nil, fmt.Errorf("%w: missing command field", dicomerrors.ErrInvalidMessage)
	}
	isResponse := msg.CommandField&0x8000 != 0

	buf := make([]byte, 0, 256)

	// Command Group Length (0000,0000), patched once the group is complete
	buf = appendUint32(buf, elemGroupLength, 0)
	lengthPos := len(buf) - 4

	if msg.AffectedSOPClassUID != "" {
		buf = appendUID(buf, elemAffectedSOPClassUID, msg.AffectedSOPClassUID)
	}
	buf = appendUint16(buf, elemCommandField, msg.CommandField)
	if isResponse {
		buf = appendUint16(buf, elemMessageIDBeingRespondedTo, msg.MessageIDBeingRespondedTo)
	} else {
		buf = appendUint16(buf, elemMessageID, msg.MessageID)
		if msg.CommandField == types.CStoreRQ {
			buf = appendUint16(buf, elemPriority, msg.Priority)
		}
	}
	buf = appendUint16(buf, elemCommandDataSetType, msg.CommandDataSetType)
	if isResponse || msg.HasStatus {
		buf = appendUint16(buf, elemStatus, msg.Status)
	}
	if msg.ErrorComment != "" {
		buf = appendText(buf, elemErrorComment, msg.ErrorComment)
	}
	if msg.AffectedSOPInstanceUID != "" {
		buf = appendUID(buf, elemAffectedSOPInstanceUID, msg.AffectedSOPInstanceUID)
	}

	groupLength := uint32(len(buf) - lengthPos - 4)
	binary.LittleEndian.PutUint32(buf[lengthPos:lengthPos+4], groupLength)

	return buf, nil
}

// DecodeCommand decodes a DIMSE command message. Elements outside group
// 0000 and unknown command elements are skipped.
func DecodeCommand(data []byte) (*types.Message, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: command too short (%d bytes)", dicomerrors.ErrInvalidMessage, len(data))
	}

	msg := &types.Message{
		CommandDataSetType: types.NoDataSet,
	}
	var sawCommandField bool

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		if length > maxElementLength || offset+8+int(length) > len(data) {
			return nil, fmt.Errorf("%w: element (%04x,%04x) length %d exceeds command",
				dicomerrors.ErrInvalidMessage, group, element, length)
		}
		value := data[offset+8 : offset+8+int(length)]
		offset += 8 + int(length)

		if group != 0x0000 {
			continue
		}

		switch element {
		case elemAffectedSOPClassUID:
			msg.AffectedSOPClassUID = trimValue(value)
		case elemCommandField:
			if len(value) >= 2 {
				msg.CommandField = binary.LittleEndian.Uint16(value[:2])
				sawCommandField = true
			}
		case elemMessageID:
			if len(value) >= 2 {
				msg.MessageID = binary.LittleEndian.Uint16(value[:2])
			}
		case elemMessageIDBeingRespondedTo:
			if len(value) >= 2 {
				msg.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(value[:2])
			}
		case elemPriority:
			if len(value) >= 2 {
				msg.Priority = binary.LittleEndian.Uint16(value[:2])
			}
		case elemCommandDataSetType:
			if len(value) >= 2 {
				msg.CommandDataSetType = binary.LittleEndian.Uint16(value[:2])
			}
		case elemStatus:
			if len(value) >= 2 {
				msg.Status = binary.LittleEndian.Uint16(value[:2])
				msg.HasStatus = true
			}
		case elemErrorComment:
			msg.ErrorComment = trimValue(value)
		case elemAffectedSOPInstanceUID:
			msg.AffectedSOPInstanceUID = trimValue(value)
		}
	}

	if !sawCommandField {
		return nil, fmt.Errorf("%w: missing command field (0000,0100)", dicomerrors.ErrInvalidMessage)
	}

	return msg, nil
}

func trimValue(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}

// appendElement appends a DICOM element using Implicit VR (no VR field)
func appendElement(buf []byte, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, 0x0000)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

func appendUint16(buf []byte, element uint16, v uint16) []byte {
	return appendElement(buf, element, binary.LittleEndian.AppendUint16(nil, v))
}

func appendUint32(buf []byte, element uint16, v uint32) []byte {
	return appendElement(buf, element, binary.LittleEndian.AppendUint32(nil, v))
}

// UIDs are padded to even length with a NUL, text with a space.
func appendUID(buf []byte, element uint16, uid string) []byte {
	value := []byte(uid)
	if len(value)%2 == 1 {
		value = append(value, 0x00)
	}
	return appendElement(buf, element, value)
}

func appendText(buf []byte, element uint16, text string) []byte {
	value := []byte(text)
	if len(value)%2 == 1 {
		value = append(value, ' ')
	}
	return appendElement(buf, element, value)
}
