package dicom

import (
	"fmt"
	"os"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/types"
)

// Object is a DICOM object ready to be sent with C-STORE.
type Object struct {
	// Part10 is true when the source carried a preamble and File Meta Information.
	Part10         bool
	TransferSyntax string
	SOPClassUID    string
	SOPInstanceUID string

	// DataSet is the encoded data set without any Part 10 wrapper.
	DataSet []byte

	// FileSize is the number of bytes read from the source.
	FileSize int64
}

// ReadFile reads a DICOM object from disk. Part 10 files are unwrapped; any
// other file is treated as a bare Implicit VR Little Endian data set.
func ReadFile(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	obj, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return obj, nil
}

// Parse decodes an in-memory DICOM object. See ReadFile.
func Parse(data []byte) (*Object, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	if !HasPart10Header(data) {
		sopClass, sopInstance, err := ScanSOPUIDs(data, false)
		if err != nil {
			return nil, fmt.Errorf("not a Part 10 file and not a readable implicit VR data set: %w", err)
		}
		return &Object{
			TransferSyntax: types.ImplicitVRLittleEndian,
			SOPClassUID:    sopClass,
			SOPInstanceUID: sopInstance,
			DataSet:        data,
			FileSize:       int64(len(data)),
		}, nil
	}

	meta, offset, err := ParseFileMeta(data)
	if err != nil {
		return nil, err
	}
	if !types.IsKnownTransferSyntax(meta.TransferSyntaxUID) {
		return nil, fmt.Errorf("%w: %s", dicomerrors.ErrUnsupportedTransfer, meta.TransferSyntaxUID)
	}

	obj := &Object{
		Part10:         true,
		TransferSyntax: meta.TransferSyntaxUID,
		SOPClassUID:    meta.MediaStorageSOPClassUID,
		SOPInstanceUID: meta.MediaStorageSOPInstanceUID,
		DataSet:        data[offset:],
		FileSize:       int64(len(data)),
	}

	if obj.SOPClassUID == "" || obj.SOPInstanceUID == "" {
		if err := fillFromDataSet(obj); err != nil {
			return nil, err
		}
	}

	return obj, nil
}

// fillFromDataSet recovers SOP UIDs missing from the meta header.
// Only little endian, non-deflated encodings can be scanned.
func fillFromDataSet(obj *Object) error {
	switch obj.TransferSyntax {
	case types.ExplicitVRBigEndian, types.DeflatedExplicitVRLittleEndian:
		return fmt.Errorf("file meta information lacks SOP UIDs and %s data sets cannot be scanned",
			types.TransferSyntaxName(obj.TransferSyntax))
	}

	explicit := obj.TransferSyntax != types.ImplicitVRLittleEndian
	sopClass, sopInstance, err := ScanSOPUIDs(obj.DataSet, explicit)
	if err != nil {
		return err
	}
	if obj.SOPClassUID == "" {
		obj.SOPClassUID = sopClass
	}
	if obj.SOPInstanceUID == "" {
		obj.SOPInstanceUID = sopInstance
	}
	return nil
}
