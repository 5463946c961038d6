package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
)

// Command Data Set Type values (0000,0800)
const (
	DataSetPresent = 0x0000
	NoDataSet      = 0x0101
)

// Priority values (0000,0700)
const (
	PriorityMedium = 0x0000
	PriorityHigh   = 0x0001
	PriorityLow    = 0x0002
)

// C-STORE status codes, PS3.4 Annex B.2.3 and PS3.7 Annex C
const (
	StatusSuccess = 0x0000

	StatusWarningCoercion          = 0xB000
	StatusWarningElementsDiscarded = 0xB006
	StatusWarningDataSetMismatch   = 0xB007

	StatusRefusedOutOfResources = 0xA700
	StatusErrorDataSetMismatch  = 0xA900
	StatusErrorCannotUnderstand = 0xC000
	StatusProcessingFailure     = 0x0110
	StatusSOPClassNotSupported  = 0x0122
	StatusNotAuthorized         = 0x0124
	StatusDuplicateInvocation   = 0x0210
	StatusUnrecognizedOperation = 0x0211
	StatusMistypedArgument      = 0x0212
	StatusResourceLimitation    = 0x0213
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	ErrorComment              string

	// HasStatus is set by the decoder when (0000,0900) was present.
	HasStatus bool
}

// HasDataSet reports whether a data set follows the command.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSet
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	return request | 0x8000
}
