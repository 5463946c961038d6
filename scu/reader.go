package scu

import (
	"log/slog"

	"github.com/caio-sobreiro/storescu/dicom"
	"github.com/caio-sobreiro/storescu/interfaces"
	"github.com/caio-sobreiro/storescu/types"
)

// FileReader prepares DICOM files from disk.
type FileReader struct {
	logger *slog.Logger
}

// NewFileReader creates a reader for Part 10 and raw data set files.
func NewFileReader(logger *slog.Logger) *FileReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileReader{logger: logger}
}

// Prepare reads path and returns its data set ready for C-STORE.
func (r *FileReader) Prepare(path string) (*interfaces.Prepared, error) {
	obj, err := dicom.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if !types.IsStorageSOPClass(obj.SOPClassUID) {
		r.logger.Warn("SOP class is not a known storage class",
			"file", path,
			"sop_class", obj.SOPClassUID)
	}

	r.logger.Debug("Read DICOM object",
		"file", path,
		"part10", obj.Part10,
		"sop_class", types.SOPClassName(obj.SOPClassUID),
		"transfer_syntax", types.TransferSyntaxName(obj.TransferSyntax),
		"bytes", obj.FileSize)

	return &interfaces.Prepared{
		Handle:         &bufferHandle{data: obj.DataSet},
		TransferSyntax: obj.TransferSyntax,
		SOPClassUID:    obj.SOPClassUID,
		SOPInstanceUID: obj.SOPInstanceUID,
		ByteSize:       obj.FileSize,
	}, nil
}

// bufferHandle holds a data set in memory until released.
type bufferHandle struct {
	data []byte
}

func (h *bufferHandle) Bytes() []byte {
	return h.data
}

func (h *bufferHandle) Release() {
	h.data = nil
}
