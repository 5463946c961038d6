package scu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
	"github.com/caio-sobreiro/storescu/types"
)

func TestDispatcher_UnreadableFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "1.img")
	present := filepath.Join(dir, "2.img")

	var data []byte
	data = append(data, implicitElement(0x0008, 0x0016, types.CTImageStorage)...)
	data = append(data, implicitElement(0x0008, 0x0018, "1.2.826.0.1.2")...)
	require.NoError(t, os.WriteFile(present, data, 0o644))

	q := NewWorkQueue(quietLogger)
	_, err := q.Add(missing)
	require.NoError(t, err)
	_, err = q.Add(present)
	require.NoError(t, err)

	assoc := &fakeAssociation{window: 1}
	session := openTestSession(t, assoc)

	result, err := NewDispatcher(q, NewFileReader(quietLogger), session).Run(context.Background())
	require.NoError(t, err)

	first, second := q.Item(0), q.Item(1)
	assert.False(t, first.Sent)
	assert.True(t, first.Failed)
	assert.Equal(t, StateReadFailed, first.State)
	assert.ErrorIs(t, first.Err, os.ErrNotExist)

	assert.True(t, second.Sent)
	assert.True(t, second.Acknowledged)
	assert.False(t, second.Failed)
	assert.Equal(t, "1.2.826.0.1.2", second.SOPInstanceUID)
	assert.Nil(t, second.Handle)

	assert.Equal(t, 1, session.ImagesSent())
	assert.Equal(t, int64(len(data)), session.BytesRead())
	assert.Equal(t, 1, result.Unread)
	assert.False(t, result.Aborted)
	assert.Equal(t, 0, assoc.aborted)
}

func TestDispatcher_WindowBoundsOutstanding(t *testing.T) {
	for _, window := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("window=%d", window), func(t *testing.T) {
			q := newTestQueue(t, 5)
			assoc := &fakeAssociation{window: window, lifo: true}
			session := openTestSession(t, assoc)

			d := NewDispatcher(q, &fakeReader{}, session)
			var samples []int
			d.observe = func(outstanding int) {
				samples = append(samples, outstanding)
			}

			result, err := d.Run(context.Background())
			require.NoError(t, err)

			require.Len(t, samples, 5)
			for _, n := range samples {
				assert.LessOrEqual(t, n, window)
			}
			assert.LessOrEqual(t, assoc.maxInFlight, window)

			for i, item := range q.Items() {
				assert.True(t, item.Acknowledged, "item %d", i)
				assert.False(t, item.Failed, "item %d", i)
			}
			assert.Equal(t, 0, q.Outstanding())
			assert.Equal(t, 5, result.ImagesSent)
			assert.Equal(t, 5, result.Acknowledged)
		})
	}
}

func TestDispatcher_UnboundedWindowDrainsAtEnd(t *testing.T) {
	q := newTestQueue(t, 4)
	assoc := &fakeAssociation{window: 0}
	session := openTestSession(t, assoc)

	result, err := NewDispatcher(q, &fakeReader{}, session).Run(context.Background())
	require.NoError(t, err)

	// nothing is delivered to polls, so every request was in flight at once
	assert.Equal(t, 4, assoc.maxInFlight)
	assert.Equal(t, 0, q.Outstanding())
	assert.Equal(t, 4, result.Acknowledged)
}

func TestDispatcher_FailureStatusDoesNotAbort(t *testing.T) {
	q := newTestQueue(t, 5)
	assoc := &fakeAssociation{
		window: 2,
		status: map[string]uint16{instanceFor("3.img"): types.StatusRefusedOutOfResources},
	}
	session := openTestSession(t, assoc)

	result, err := NewDispatcher(q, &fakeReader{}, session).Run(context.Background())
	require.NoError(t, err)

	third := q.Item(2)
	assert.True(t, third.Acknowledged)
	assert.True(t, third.Failed)
	assert.Equal(t, CategoryFailure, third.Category)
	assert.Equal(t, uint16(types.StatusRefusedOutOfResources), third.Status)

	var dimseErr *dicomerrors.DIMSEError
	require.ErrorAs(t, third.Err, &dimseErr)
	assert.True(t, dimseErr.IsFailure())

	for _, i := range []int{3, 4} {
		assert.True(t, q.Item(i).Sent)
		assert.True(t, q.Item(i).Acknowledged)
		assert.False(t, q.Item(i).Failed)
	}

	assert.False(t, result.Aborted)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 5, session.ImagesSent())
	assert.Equal(t, 0, assoc.aborted)
}

func TestDispatcher_FatalSendAborts(t *testing.T) {
	q := newTestQueue(t, 5)
	assoc := &fakeAssociation{
		window:  0,
		sendErr: map[int]error{2: dicomerrors.NewNetworkError("send C-STORE", errors.New("broken pipe"))},
	}
	session := openTestSession(t, assoc)
	reader := &fakeReader{}

	result, err := NewDispatcher(q, reader, session).Run(context.Background())
	require.Error(t, err)

	var netErr *dicomerrors.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.True(t, result.Aborted)
	assert.Equal(t, 1, assoc.aborted)
	assert.Len(t, assoc.sent, 2)

	// item 1 was in flight when the session died
	first := q.Item(0)
	assert.True(t, first.Sent)
	assert.False(t, first.Acknowledged)
	assert.True(t, first.Failed)
	assert.ErrorIs(t, first.Err, dicomerrors.ErrAssociationAborted)

	second := q.Item(1)
	assert.False(t, second.Sent)
	assert.True(t, second.Failed)
	assert.Equal(t, StateSendFailed, second.State)

	for _, i := range []int{2, 3, 4} {
		assert.False(t, q.Item(i).Sent, "item %d", i)
		assert.Equal(t, StatePending, q.Item(i).State, "item %d", i)
	}

	for path, h := range reader.handles {
		assert.Equal(t, 1, h.released, "handle for %s", path)
	}

	// the abort path closed the session
	require.NoError(t, session.Close())
	assert.Equal(t, 0, assoc.released)
}

func TestDispatcher_RecoverableSendErrorContinues(t *testing.T) {
	q := newTestQueue(t, 3)
	assoc := &fakeAssociation{
		window:  1,
		sendErr: map[int]error{2: dicomerrors.ErrUnsupportedTransfer},
	}
	session := openTestSession(t, assoc)
	reader := &fakeReader{}

	result, err := NewDispatcher(q, reader, session).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, q.Item(1).Failed)
	assert.False(t, q.Item(1).Sent)
	assert.ErrorIs(t, q.Item(1).Err, dicomerrors.ErrUnsupportedTransfer)
	assert.True(t, q.Item(2).Acknowledged)

	assert.Equal(t, 2, result.ImagesSent)
	assert.Equal(t, int64(300), result.BytesRead)
	assert.Equal(t, 1, reader.handles["2.img"].released)
	assert.Equal(t, 0, assoc.aborted)
}

func TestDispatcher_DuplicateMessageIDIsFatal(t *testing.T) {
	q := newTestQueue(t, 3)
	assoc := &fakeAssociation{window: 0, fixedID: 7, silent: true}
	session := openTestSession(t, assoc)

	result, err := NewDispatcher(q, &fakeReader{}, session).Run(context.Background())
	require.ErrorIs(t, err, dicomerrors.ErrDuplicateMessageID)
	assert.Equal(t, 1, assoc.aborted)
	assert.Equal(t, 2, assoc.sentCount())
	assert.False(t, q.Item(1).Sent)
	assert.True(t, q.Item(1).Failed)
	assert.False(t, q.Item(2).Sent)

	// only the request the queue recorded counts as sent
	assert.Equal(t, 1, result.ImagesSent)
	assert.Equal(t, 1, result.Sent)
}

func TestDispatcher_TransportFailureWhileDraining(t *testing.T) {
	q := newTestQueue(t, 3)
	assoc := &fakeAssociation{window: 1, silent: true, readErr: dicomerrors.ErrConnectionClosed}
	session := openTestSession(t, assoc)

	result, err := NewDispatcher(q, &fakeReader{}, session).Run(context.Background())
	require.ErrorIs(t, err, dicomerrors.ErrConnectionClosed)
	assert.True(t, result.Aborted)
	assert.Equal(t, 1, assoc.sentCount())
	assert.Equal(t, 1, result.Outstanding)
}

func TestDispatcher_IdleTimeout(t *testing.T) {
	q := newTestQueue(t, 2)
	assoc := &fakeAssociation{window: 0, silent: true}
	session := openTestSession(t, assoc)

	d := NewDispatcher(q, &fakeReader{}, session,
		WithResponseTimeout(5*time.Millisecond),
		WithIdleTimeout(30*time.Millisecond))

	result, err := d.Run(context.Background())
	var timeoutErr *dicomerrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, result.Aborted)
	assert.Equal(t, 2, result.Outstanding)
	assert.Equal(t, 2, result.Failed)
}

func TestDispatcher_CanceledContext(t *testing.T) {
	q := newTestQueue(t, 3)
	assoc := &fakeAssociation{window: 1}
	session := openTestSession(t, assoc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDispatcher(q, &fakeReader{}, session).Run(ctx)
	require.ErrorIs(t, err, dicomerrors.ErrOperationCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, assoc.aborted)
	assert.Empty(t, assoc.sent)
}

type countingProgress struct {
	total int64
}

func (p *countingProgress) Add64(n int64) error {
	p.total += n
	return nil
}

func TestDispatcher_Progress(t *testing.T) {
	q := newTestQueue(t, 3)
	session := openTestSession(t, &fakeAssociation{window: 2})
	progress := &countingProgress{}

	_, err := NewDispatcher(q, &fakeReader{missing: map[string]bool{"2.img": true}}, session,
		WithProgress(progress)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), progress.total)
}

type failingProgress struct {
	calls int
}

func (p *failingProgress) Add64(int64) error {
	p.calls++
	return errors.New("terminal gone")
}

func TestDispatcher_ProgressErrorIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	q := newTestQueue(t, 2)
	assoc := &fakeAssociation{window: 2}
	session, err := Open(context.Background(), &fakeConnector{assoc: assoc},
		WithLogger(logger), WithUIDGenerator(fixedUIDs("2.25.42")))
	require.NoError(t, err)
	progress := &failingProgress{}

	result, err := NewDispatcher(q, &fakeReader{}, session, WithProgress(progress)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, progress.calls)
	assert.Equal(t, 2, result.Acknowledged)
	assert.Equal(t, 2, result.ImagesSent)
	assert.Equal(t, 2, strings.Count(logs.String(), "Progress update failed"))
	assert.Contains(t, logs.String(), "terminal gone")
}
