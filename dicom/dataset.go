package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// less orders tags the way they appear in an encoded data set.
func (t Tag) less(o Tag) bool {
	if t.Group != o.Group {
		return t.Group < o.Group
	}
	return t.Element < o.Element
}

// SOP Common tags
var (
	TagSOPClassUID    = Tag{0x0008, 0x0016}
	TagSOPInstanceUID = Tag{0x0008, 0x0018}
)

// undefinedLength marks sequences and items delimited by markers.
const undefinedLength = 0xFFFFFFFF

// Element is a raw element read from an encoded data set.
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  []byte
}

// isLongVR reports whether an explicit VR uses the 2 reserved bytes + 4-byte length form.
func isLongVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

// readExplicitElement reads one Explicit VR Little Endian element at offset
// and returns it with the offset of the next element.
func readExplicitElement(data []byte, offset int) (Element, int, error) {
	if offset+8 > len(data) {
		return Element{}, 0, fmt.Errorf("truncated element header at offset %d", offset)
	}

	tag := Tag{
		Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
		Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
	}
	vr := string(data[offset+4 : offset+6])

	var length uint32
	var valueOffset int
	if isLongVR(vr) {
		// Tag (4) + VR (2) + Reserved (2) + Length (4)
		if offset+12 > len(data) {
			return Element{}, 0, fmt.Errorf("truncated element header for %s", tag)
		}
		length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
		valueOffset = offset + 12
	} else {
		// Tag (4) + VR (2) + Length (2)
		length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
		valueOffset = offset + 8
	}

	return sliceValue(data, tag, vr, length, valueOffset)
}

// readImplicitElement reads one Implicit VR Little Endian element at offset.
func readImplicitElement(data []byte, offset int) (Element, int, error) {
	if offset+8 > len(data) {
		return Element{}, 0, fmt.Errorf("truncated element header at offset %d", offset)
	}

	tag := Tag{
		Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
		Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
	}
	length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

	return sliceValue(data, tag, "", length, offset+8)
}

func sliceValue(data []byte, tag Tag, vr string, length uint32, valueOffset int) (Element, int, error) {
	if length == undefinedLength {
		return Element{}, 0, fmt.Errorf("element %s has undefined length", tag)
	}
	end := valueOffset + int(length)
	if end > len(data) || end < valueOffset {
		return Element{}, 0, fmt.Errorf("element %s length %d exceeds data", tag, length)
	}
	return Element{
		Tag:    tag,
		VR:     vr,
		Length: length,
		Value:  data[valueOffset:end],
	}, end, nil
}

// ScanSOPUIDs walks the leading elements of an encoded Little Endian data
// set and returns its SOP Class UID (0008,0016) and SOP Instance UID
// (0008,0018). The walk stops at the first tag past (0008,0018), so the
// pixel data is never touched.
func ScanSOPUIDs(data []byte, explicitVR bool) (sopClassUID, sopInstanceUID string, err error) {
	read := readImplicitElement
	if explicitVR {
		read = readExplicitElement
	}

	offset := 0
	for offset+8 <= len(data) {
		peek := Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		if TagSOPInstanceUID.less(peek) {
			break
		}

		elem, next, err := read(data, offset)
		if err != nil {
			return "", "", err
		}

		switch elem.Tag {
		case TagSOPClassUID:
			sopClassUID = trimUID(elem.Value)
		case TagSOPInstanceUID:
			sopInstanceUID = trimUID(elem.Value)
		}
		offset = next
	}

	if sopClassUID == "" {
		return "", "", fmt.Errorf("data set has no SOP Class UID %s", TagSOPClassUID)
	}
	if sopInstanceUID == "" {
		return "", "", fmt.Errorf("data set has no SOP Instance UID %s", TagSOPInstanceUID)
	}
	return sopClassUID, sopInstanceUID, nil
}

// trimUID removes NUL and space padding.
func trimUID(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}
