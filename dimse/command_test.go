package dimse

import (
	"encoding/binary"
	"errors"
	"testing"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/types"
)

// elementTags walks an encoded command and returns the element numbers in order.
func elementTags(t *testing.T, data []byte) []uint16 {
	t.Helper()
	var tags []uint16
	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		if group != 0x0000 {
			t.Fatalf("unexpected group 0x%04x", group)
		}
		tags = append(tags, element)
		offset += 8 + int(length)
	}
	if offset != len(data) {
		t.Fatalf("trailing bytes: walked %d of %d", offset, len(data))
	}
	return tags
}

func TestEncodeCommand_CStoreRQ(t *testing.T) {
	msg := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              7,
		Priority:               types.PriorityMedium,
		CommandDataSetType:     types.DataSetPresent,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4.5",
	}

	encoded, err := EncodeCommand(msg)
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}

	got := elementTags(t, encoded)
	want := []uint16{0x0000, 0x0002, 0x0100, 0x0110, 0x0700, 0x0800, 0x1000}
	if len(got) != len(want) {
		t.Fatalf("elements = %04x, want %04x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element[%d] = (0000,%04x), want (0000,%04x)", i, got[i], want[i])
		}
	}

	groupLength := binary.LittleEndian.Uint32(encoded[8:12])
	if int(groupLength) != len(encoded)-12 {
		t.Errorf("group length = %d, want %d", groupLength, len(encoded)-12)
	}

	// odd-length UID is NUL padded
	if len(encoded)%2 != 0 {
		t.Errorf("encoded length %d is odd", len(encoded))
	}
}

func TestEncodeCommand_ResponseCarriesStatus(t *testing.T) {
	msg := &types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: 3,
		CommandDataSetType:        types.NoDataSet,
		Status:                    types.StatusSuccess,
		AffectedSOPInstanceUID:    "1.2.3",
	}

	encoded, err := EncodeCommand(msg)
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}

	decoded, err := DecodeCommand(encoded)
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if !decoded.HasStatus {
		t.Error("response status (0000,0900) should be present even when zero")
	}
	if decoded.MessageIDBeingRespondedTo != 3 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 3", decoded.MessageIDBeingRespondedTo)
	}
	if decoded.AffectedSOPInstanceUID != "1.2.3" {
		t.Errorf("AffectedSOPInstanceUID = %q, want 1.2.3", decoded.AffectedSOPInstanceUID)
	}
	if decoded.HasDataSet() {
		t.Error("response should not carry a data set")
	}
}

func TestEncodeCommand_MissingCommandField(t *testing.T) {
	if _, err := EncodeCommand(&types.Message{}); !errors.Is(err, dicomerrors.ErrInvalidMessage) {
		t.Errorf("err = %v, want ErrInvalidMessage", err)
	}
	if _, err := EncodeCommand(nil); !errors.Is(err, dicomerrors.ErrInvalidMessage) {
		t.Errorf("err = %v, want ErrInvalidMessage", err)
	}
}

func TestDecodeCommand_StoreResponse(t *testing.T) {
	var buf []byte
	buf = appendUID(buf, elemAffectedSOPClassUID, types.MRImageStorage)
	buf = appendUint16(buf, elemCommandField, types.CStoreRSP)
	buf = appendUint16(buf, elemMessageIDBeingRespondedTo, 42)
	buf = appendUint16(buf, elemCommandDataSetType, types.NoDataSet)
	buf = appendUint16(buf, elemStatus, types.StatusRefusedOutOfResources)
	buf = appendText(buf, elemErrorComment, "disk full")
	buf = appendUID(buf, elemAffectedSOPInstanceUID, "1.2.826.0.1.3680043.2.1125.1")

	msg, err := DecodeCommand(buf)
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}

	if msg.CommandField != types.CStoreRSP {
		t.Errorf("CommandField = 0x%04x, want 0x%04x", msg.CommandField, types.CStoreRSP)
	}
	if msg.MessageIDBeingRespondedTo != 42 {
		t.Errorf("MessageIDBeingRespondedTo = %d, want 42", msg.MessageIDBeingRespondedTo)
	}
	if msg.Status != types.StatusRefusedOutOfResources || !msg.HasStatus {
		t.Errorf("Status = 0x%04x (present %v), want 0xA700", msg.Status, msg.HasStatus)
	}
	if msg.ErrorComment != "disk full" {
		t.Errorf("ErrorComment = %q, want %q", msg.ErrorComment, "disk full")
	}
	if msg.AffectedSOPClassUID != types.MRImageStorage {
		t.Errorf("AffectedSOPClassUID = %q", msg.AffectedSOPClassUID)
	}
	if msg.AffectedSOPInstanceUID != "1.2.826.0.1.3680043.2.1125.1" {
		t.Errorf("AffectedSOPInstanceUID = %q", msg.AffectedSOPInstanceUID)
	}
}

func TestDecodeCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "too short",
			data: []byte{0x00, 0x00, 0x00, 0x01},
		},
		{
			name: "truncated value",
			data: []byte{0x00, 0x00, 0x00, 0x01, 0x10, 0x00, 0x00, 0x00, 0x01, 0x80},
		},
		{
			name: "no command field",
			data: appendUint16(nil, elemMessageID, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand(tt.data)
			if !errors.Is(err, dicomerrors.ErrInvalidMessage) {
				t.Errorf("err = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestDecodeCommand_DefaultsToNoDataSet(t *testing.T) {
	msg, err := DecodeCommand(appendUint16(nil, elemCommandField, types.CEchoRSP))
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if msg.HasDataSet() {
		t.Error("missing (0000,0800) should mean no data set")
	}
	if msg.HasStatus {
		t.Error("HasStatus should be false when (0000,0900) is absent")
	}
}
