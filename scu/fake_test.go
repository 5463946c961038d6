package scu

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/caio-sobreiro/storescu/interfaces"
	"github.com/caio-sobreiro/storescu/types"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAssociation answers every request with a C-STORE-RSP. Responses are
// held back from zero-timeout polls so that the window logic has to wait
// for them, the way a slow peer behaves.
type fakeAssociation struct {
	window int

	// status per SOP instance UID; unlisted instances succeed.
	status map[string]uint16
	// sendErr fails the n-th send (1-based).
	sendErr map[int]error
	// readErr is returned once no response is pending.
	readErr error
	// silent never produces responses.
	silent bool
	// lifo delivers the newest response first.
	lifo bool
	// fixedID assigns the same message ID to every request when non-zero.
	fixedID uint16

	nextID      uint16
	sent        []*interfaces.SendRequest
	pending     []*types.Message
	maxInFlight int

	// extra responses delivered before the generated ones.
	injected []*types.Message

	releaseErr error
	released   int
	aborted    int
}

func (f *fakeAssociation) Send(ctx context.Context, req *interfaces.SendRequest) (uint16, error) {
	if err, ok := f.sendErr[len(f.sent)+1]; ok {
		f.sent = append(f.sent, nil)
		return 0, err
	}
	f.sent = append(f.sent, req)

	id := f.fixedID
	if id == 0 {
		f.nextID++
		id = f.nextID
	}

	if !f.silent {
		status, ok := f.status[req.SOPInstanceUID]
		if !ok {
			status = types.StatusSuccess
		}
		f.pending = append(f.pending, &types.Message{
			CommandField:              types.CStoreRSP,
			MessageIDBeingRespondedTo: id,
			AffectedSOPClassUID:       req.SOPClassUID,
			AffectedSOPInstanceUID:    req.SOPInstanceUID,
			CommandDataSetType:        types.NoDataSet,
			Status:                    status,
		})
	}
	if n := f.inFlight(); n > f.maxInFlight {
		f.maxInFlight = n
	}
	return id, nil
}

func (f *fakeAssociation) inFlight() int {
	return len(f.pending)
}

func (f *fakeAssociation) ReadResponse(ctx context.Context, timeout time.Duration) (*types.Message, error) {
	if err := ctx.Err(); err != nil && timeout > 0 {
		return nil, err
	}
	if len(f.injected) > 0 {
		msg := f.injected[0]
		f.injected = f.injected[1:]
		return msg, nil
	}
	if timeout <= 0 {
		return nil, nil
	}
	if len(f.pending) == 0 {
		if f.readErr != nil {
			return nil, f.readErr
		}
		time.Sleep(time.Millisecond)
		return nil, nil
	}

	var msg *types.Message
	if f.lifo {
		msg = f.pending[len(f.pending)-1]
		f.pending = f.pending[:len(f.pending)-1]
	} else {
		msg = f.pending[0]
		f.pending = f.pending[1:]
	}
	return msg, nil
}

func (f *fakeAssociation) MaxOutstanding() int {
	return f.window
}

func (f *fakeAssociation) Release() error {
	f.released++
	return f.releaseErr
}

func (f *fakeAssociation) Abort() error {
	f.aborted++
	return nil
}

// sentCount returns the number of send attempts that succeeded.
func (f *fakeAssociation) sentCount() int {
	n := 0
	for _, req := range f.sent {
		if req != nil {
			n++
		}
	}
	return n
}

type fakeConnector struct {
	assoc *fakeAssociation
	err   error
}

func (c *fakeConnector) Connect(ctx context.Context) (interfaces.AssociationService, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.assoc, nil
}

type fixedUIDs string

func (u fixedUIDs) NewUID() string {
	return string(u)
}

type fakeHandle struct {
	data     []byte
	released int
}

func (h *fakeHandle) Bytes() []byte {
	return h.data
}

func (h *fakeHandle) Release() {
	h.released++
}

// fakeReader prepares every path as a 100 byte CT object whose instance UID
// is derived from the path. Paths listed in missing fail like a file that
// does not exist.
type fakeReader struct {
	missing map[string]bool
	handles map[string]*fakeHandle
}

func (r *fakeReader) Prepare(path string) (*interfaces.Prepared, error) {
	if r.missing[path] {
		return nil, fmt.Errorf("failed to read %s: %w", path, os.ErrNotExist)
	}
	if r.handles == nil {
		r.handles = make(map[string]*fakeHandle)
	}
	h := &fakeHandle{data: make([]byte, 100)}
	r.handles[path] = h
	return &interfaces.Prepared{
		Handle:         h,
		TransferSyntax: types.ImplicitVRLittleEndian,
		SOPClassUID:    types.CTImageStorage,
		SOPInstanceUID: instanceFor(path),
		ByteSize:       100,
	}, nil
}

func instanceFor(path string) string {
	return fmt.Sprintf("1.2.3.%x", path)
}

func openTestSession(t *testing.T, assoc *fakeAssociation) *Session {
	t.Helper()
	session, err := Open(context.Background(), &fakeConnector{assoc: assoc},
		WithLogger(quietLogger), WithUIDGenerator(fixedUIDs("2.25.42")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return session
}

func newTestQueue(t *testing.T, n int) *WorkQueue {
	t.Helper()
	q := NewWorkQueue(quietLogger)
	if err := q.EnumerateRange(1, n); err != nil {
		t.Fatalf("EnumerateRange failed: %v", err)
	}
	return q
}

// implicitElement encodes one Implicit VR Little Endian element.
func implicitElement(group, element uint16, value string) []byte {
	v := []byte(value)
	if len(v)%2 != 0 {
		v = append(v, 0x00)
	}
	buf := binary.LittleEndian.AppendUint16(nil, group)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}
