package dicom

import (
	"encoding/binary"
	"fmt"
)

// File Meta Information tags (group 0002)
var (
	TagMediaStorageSOPClassUID    = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstanceUID = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID          = Tag{0x0002, 0x0010}
	TagImplementationClassUID     = Tag{0x0002, 0x0012}
)

const (
	preambleLength = 128
	part10Prefix   = "DICM"
)

// FileMeta holds the File Meta Information elements this package uses.
type FileMeta struct {
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	ImplementationClassUID     string
}

// ParseFileMeta parses the DICOM Part 10 preamble and File Meta Information
// and returns the offset at which the data set starts.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002, Explicit VR Little Endian)
//   - Dataset (encoded in the transfer syntax named by (0002,0010))
//
// C-STORE sends only the data set, so the caller slices data[offset:].
func ParseFileMeta(data []byte) (*FileMeta, int, error) {
	if !HasPart10Header(data) {
		return nil, 0, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	meta := &FileMeta{}
	offset := preambleLength + len(part10Prefix)

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])

		// Past group 0x0002 means we are at the dataset
		if group != 0x0002 {
			break
		}

		elem, next, err := readExplicitElement(data, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("file meta information: %w", err)
		}

		switch elem.Tag {
		case TagMediaStorageSOPClassUID:
			meta.MediaStorageSOPClassUID = trimUID(elem.Value)
		case TagMediaStorageSOPInstanceUID:
			meta.MediaStorageSOPInstanceUID = trimUID(elem.Value)
		case TagTransferSyntaxUID:
			meta.TransferSyntaxUID = trimUID(elem.Value)
		case TagImplementationClassUID:
			meta.ImplementationClassUID = trimUID(elem.Value)
		}

		offset = next
	}

	if meta.TransferSyntaxUID == "" {
		return nil, 0, fmt.Errorf("file meta information lacks a transfer syntax UID (0002,0010)")
	}
	if offset >= len(data) {
		return nil, 0, fmt.Errorf("failed to find dataset after File Meta Information")
	}

	return meta, offset, nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < preambleLength+len(part10Prefix) {
		return false
	}
	return string(data[preambleLength:preambleLength+len(part10Prefix)]) == part10Prefix
}
