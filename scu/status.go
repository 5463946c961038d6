package scu

import (
	"github.com/caio-sobreiro/storescu/types"
)

// StatusCategory is the outcome class of a C-STORE response status.
type StatusCategory int

const (
	CategorySuccess StatusCategory = iota
	CategoryWarning
	CategoryFailure
)

func (c StatusCategory) String() string {
	switch c {
	case CategorySuccess:
		return "Success"
	case CategoryWarning:
		return "Warning"
	case CategoryFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// StatusInfo is the classification of one status code.
type StatusInfo struct {
	Category StatusCategory
	Text     string
}

// UnknownStatusText describes codes outside the C-STORE status tables.
const UnknownStatusText = "Unknown Status"

var statusTable = map[uint16]StatusInfo{
	types.StatusSuccess: {CategorySuccess, "Success"},

	types.StatusWarningCoercion:          {CategoryWarning, "Coercion of data elements"},
	types.StatusWarningDataSetMismatch:   {CategoryWarning, "Data set does not match SOP class"},
	types.StatusWarningElementsDiscarded: {CategoryWarning, "Elements discarded"},

	types.StatusProcessingFailure:     {CategoryFailure, "Processing failure"},
	types.StatusSOPClassNotSupported:  {CategoryFailure, "SOP class not supported"},
	types.StatusNotAuthorized:         {CategoryFailure, "Not authorized"},
	types.StatusDuplicateInvocation:   {CategoryFailure, "Duplicate invocation"},
	types.StatusUnrecognizedOperation: {CategoryFailure, "Unrecognized operation"},
	types.StatusMistypedArgument:      {CategoryFailure, "Mistyped argument"},
	types.StatusResourceLimitation:    {CategoryFailure, "Resource limitation"},
}

// ClassifyStatus maps a C-STORE response status to its category and text.
// Codes that are not recognised are reported as warnings; deciding whether
// to treat them more harshly is left to the caller.
func ClassifyStatus(code uint16) StatusInfo {
	if info, ok := statusTable[code]; ok {
		return info
	}

	// Failure families carry implementation specific low bytes
	switch code & 0xFF00 {
	case 0xA700:
		return StatusInfo{CategoryFailure, "Refused: out of resources"}
	case 0xA900:
		return StatusInfo{CategoryFailure, "Error: data set does not match SOP class"}
	}
	if code&0xF000 == 0xC000 {
		return StatusInfo{CategoryFailure, "Error: cannot understand"}
	}

	return StatusInfo{CategoryWarning, UnknownStatusText}
}
