package scu

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
)

func TestOpen(t *testing.T) {
	assoc := &fakeAssociation{window: 4}
	session := openTestSession(t, assoc)

	assert.Equal(t, "2.25.42", session.ID())
	assert.Equal(t, 4, session.MaxOutstanding())
	assert.Zero(t, session.ImagesSent())
	assert.Zero(t, session.BytesRead())
}

func TestOpen_ConnectFailure(t *testing.T) {
	rejected := dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceUser,
		dicomerrors.RejectReasonCalledAETitleNotRecognized, "rejected by peer")

	_, err := Open(context.Background(), &fakeConnector{err: rejected}, WithLogger(quietLogger))
	require.Error(t, err)
	assert.ErrorIs(t, err, dicomerrors.ErrAssociationRejected)
}

func TestSession_SendCounts(t *testing.T) {
	assoc := &fakeAssociation{sendErr: map[int]error{2: errors.New("encode failed")}}
	session := openTestSession(t, assoc)

	item := &TransferItem{SourcePath: "a.dcm", SOPInstanceUID: "1.2", Handle: &fakeHandle{data: []byte{1, 2}}}
	id, err := session.Send(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
	assert.Equal(t, []byte{1, 2}, assoc.sent[0].Data)

	_, err = session.Send(context.Background(), item)
	require.Error(t, err)

	// the dispatcher counts an image once the queue accepts its message ID
	assert.Zero(t, session.ImagesSent())
	session.countSent()
	assert.Equal(t, 1, session.ImagesSent())

	_, err = session.Send(context.Background(), &TransferItem{SourcePath: "b.dcm"})
	assert.Error(t, err, "item without a handle")
}

func TestSession_CloseReleases(t *testing.T) {
	assoc := &fakeAssociation{}
	session := openTestSession(t, assoc)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	require.NoError(t, session.Abort())
	assert.Equal(t, 1, assoc.released)
	assert.Equal(t, 0, assoc.aborted)

	_, err := session.Send(context.Background(), &TransferItem{Handle: &fakeHandle{}})
	assert.Error(t, err)
}

func TestSession_CloseFallsBackToAbort(t *testing.T) {
	assoc := &fakeAssociation{releaseErr: dicomerrors.NewTimeoutError("A-RELEASE-RP", "60s")}
	session := openTestSession(t, assoc)

	err := session.Close()
	var timeoutErr *dicomerrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 1, assoc.released)
	assert.Equal(t, 1, assoc.aborted)
}

func TestSession_AbortIsIdempotent(t *testing.T) {
	assoc := &fakeAssociation{}
	session := openTestSession(t, assoc)

	require.NoError(t, session.Abort())
	require.NoError(t, session.Abort())
	require.NoError(t, session.Close())
	assert.Equal(t, 1, assoc.aborted)
	assert.Equal(t, 0, assoc.released)
}
