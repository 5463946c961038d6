package interfaces

// Handle is a prepared outbound message. It is owned by a single transfer
// item and released exactly once.
type Handle interface {
	// Bytes returns the encoded data set. It is invalid after Release.
	Bytes() []byte
	Release()
}

// Prepared is the result of reading one source for transmission.
type Prepared struct {
	Handle         Handle
	TransferSyntax string
	SOPClassUID    string
	SOPInstanceUID string

	// ByteSize is the number of bytes read from the source.
	ByteSize int64
}

// Reader turns a source path into a prepared message.
type Reader interface {
	Prepare(path string) (*Prepared, error)
}
