package types

import "strings"

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4
// https://dicom.nema.org/medical/dicom/current/output/chtml/part05/chapter_8.html

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - Explicit VR with big endian byte ordering (retired)
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian - Deflate compression with explicit VR
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Compressed Transfer Syntaxes
const (
	JPEGBaseline8Bit   = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit  = "1.2.840.10008.1.2.4.51"
	JPEGLossless       = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1    = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless   = "1.2.840.10008.1.2.4.90"
	JPEG2000           = "1.2.840.10008.1.2.4.91"
	MPEG2MainProfile   = "1.2.840.10008.1.2.4.100"
	MPEG4AVCH264High   = "1.2.840.10008.1.2.4.102"
	HEVCH265Main       = "1.2.840.10008.1.2.4.107"
	RLELossless        = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsRetired    bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// The boolean is false for UIDs this module does not recognise.
func GetTransferSyntaxInfo(uid string) (TransferSyntaxInfo, bool) {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return TransferSyntaxInfo{UID: uid, Name: "Unknown"}, false
	}
	return info, true
}

// IsKnownTransferSyntax reports whether uid is a recognised transfer syntax.
func IsKnownTransferSyntax(uid string) bool {
	_, ok := transferSyntaxRegistry[uid]
	return ok
}

// TransferSyntaxName returns a human-readable name, e.g. for per-file log lines.
func TransferSyntaxName(uid string) string {
	info, _ := GetTransferSyntaxInfo(uid)
	return info.Name
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	info, _ := GetTransferSyntaxInfo(uid)
	return info.IsCompressed
}

var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian:         {UID: ImplicitVRLittleEndian, Name: "Implicit VR Little Endian"},
	ExplicitVRLittleEndian:         {UID: ExplicitVRLittleEndian, Name: "Explicit VR Little Endian"},
	ExplicitVRBigEndian:            {UID: ExplicitVRBigEndian, Name: "Explicit VR Big Endian", IsRetired: true},
	DeflatedExplicitVRLittleEndian: {UID: DeflatedExplicitVRLittleEndian, Name: "Deflated Explicit VR Little Endian", IsCompressed: true},
	JPEGBaseline8Bit:               {UID: JPEGBaseline8Bit, Name: "JPEG Baseline (Process 1)", IsCompressed: true},
	JPEGExtended12Bit:              {UID: JPEGExtended12Bit, Name: "JPEG Extended (Process 2 & 4)", IsCompressed: true},
	JPEGLossless:                   {UID: JPEGLossless, Name: "JPEG Lossless, Non-Hierarchical (Process 14)", IsCompressed: true},
	JPEGLosslessSV1:                {UID: JPEGLosslessSV1, Name: "JPEG Lossless, First-Order Prediction", IsCompressed: true},
	JPEGLSLossless:                 {UID: JPEGLSLossless, Name: "JPEG-LS Lossless", IsCompressed: true},
	JPEGLSNearLossless:             {UID: JPEGLSNearLossless, Name: "JPEG-LS Near-Lossless", IsCompressed: true},
	JPEG2000Lossless:               {UID: JPEG2000Lossless, Name: "JPEG 2000 (Lossless Only)", IsCompressed: true},
	JPEG2000:                       {UID: JPEG2000, Name: "JPEG 2000", IsCompressed: true},
	MPEG2MainProfile:               {UID: MPEG2MainProfile, Name: "MPEG2 Main Profile @ Main Level", IsCompressed: true},
	MPEG4AVCH264High:               {UID: MPEG4AVCH264High, Name: "MPEG-4 AVC/H.264 High Profile / Level 4.1", IsCompressed: true},
	HEVCH265Main:                   {UID: HEVCH265Main, Name: "HEVC/H.265 Main Profile / Level 5.1", IsCompressed: true},
	RLELossless:                    {UID: RLELossless, Name: "RLE Lossless", IsCompressed: true},
}

// DefaultTransferSyntaxes returns the transfer syntaxes proposed for every
// storage SOP class when a service list does not name its own.
func DefaultTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
	}
}

// LookupTransferSyntax resolves a transfer syntax given by UID or by name.
func LookupTransferSyntax(nameOrUID string) (string, bool) {
	if _, ok := transferSyntaxRegistry[nameOrUID]; ok {
		return nameOrUID, true
	}
	for uid, info := range transferSyntaxRegistry {
		if strings.EqualFold(info.Name, nameOrUID) {
			return uid, true
		}
	}
	return "", false
}
