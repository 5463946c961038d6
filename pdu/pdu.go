// Package pdu implements the DICOM Upper Layer PDU framing (PS3.8 Section 9.3).
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
)

// PDU types
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// headerLength is the fixed PDU header: type, reserved, 4-byte length.
const headerLength = 6

// DefaultMaxPDULength is proposed when the caller does not choose one.
const DefaultMaxPDULength = 16384

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// TypeName returns a short name for a PDU type, for logging.
func TypeName(t byte) string {
	switch t {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	default:
		return fmt.Sprintf("PDU(0x%02x)", t)
	}
}

// Read reads a complete PDU. A non-zero maxLength rejects PDUs whose
// declared length exceeds it, before the body is allocated.
func Read(r io.Reader, maxLength uint32) (*PDU, error) {
	header := make([]byte, headerLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])

	if pduType < TypeAssociateRQ || pduType > TypeAbort {
		return nil, dicomerrors.NewPDUError(pduType, "unknown PDU type")
	}
	if maxLength > 0 && pduLength > maxLength {
		return nil, dicomerrors.NewPDUError(pduType,
			fmt.Sprintf("length %d exceeds limit %d", pduLength, maxLength))
	}

	data := make([]byte, pduLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return &PDU{
		Type:   pduType,
		Length: pduLength,
		Data:   data,
	}, nil
}

// Write writes a PDU header and body in a single call.
func Write(w io.Writer, pduType byte, data []byte) error {
	buf := make([]byte, headerLength, headerLength+len(data))
	buf[0] = pduType
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(data)))
	buf = append(buf, data...)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// ReleaseData is the body of both A-RELEASE-RQ and A-RELEASE-RP.
func ReleaseData() []byte {
	return make([]byte, 4)
}

// Abort sources (PS3.8 Section 9.3.8)
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02
)

// EncodeAbort builds the body of an A-ABORT PDU.
func EncodeAbort(source, reason byte) []byte {
	return []byte{0x00, 0x00, source, reason}
}

// DecodeAbort parses the body of an A-ABORT PDU.
func DecodeAbort(data []byte) *dicomerrors.AbortError {
	var source, reason byte
	if len(data) >= 4 {
		source = data[2]
		reason = data[3]
	}
	return dicomerrors.NewAbortError(source, reason)
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func normalizeAETitle(raw []byte) string {
	ae := string(raw)
	if idx := strings.IndexByte(ae, 0); idx != -1 {
		ae = ae[:idx]
	}
	return strings.TrimSpace(ae)
}

// padAETitle returns a 16-byte, space padded AE title field.
func padAETitle(ae string) []byte {
	field := []byte(fmt.Sprintf("%-16s", ae))
	return field[:16]
}

// appendItem appends an item with a 1-byte type, reserved byte and 2-byte length.
func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// item is one variable item or sub-item.
type item struct {
	Type  byte
	Value []byte
}

// splitItems walks a sequence of type/reserved/length items.
func splitItems(data []byte) ([]item, error) {
	var items []item
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("truncated item header at offset %d", offset)
		}
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("item 0x%02x exceeds PDU length", itemType)
		}
		items = append(items, item{Type: itemType, Value: data[valueStart:valueEnd]})
		offset = valueEnd
	}
	return items, nil
}
