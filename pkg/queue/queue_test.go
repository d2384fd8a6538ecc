package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheratan/mesh/pkg/errs"
)

func TestEnqueueRejectsDuplicate(t *testing.T) {
	ib, err := NewInbox(t.TempDir())
	require.NoError(t, err)

	env := JobEnvelope{JobID: "j1", Kind: "llm_call"}
	require.NoError(t, ib.Enqueue(env))
	err = ib.Enqueue(env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDuplicateJob))
}

func TestClaimRemovesPlainJobFile(t *testing.T) {
	ib, err := NewInbox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ib.Enqueue(JobEnvelope{JobID: "j1", Kind: "list_files"}))

	env, err := ib.Claim("j1", "worker-a", "tok-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", env.ClaimedBy)

	unclaimed, err := ib.ListUnclaimed()
	require.NoError(t, err)
	assert.Empty(t, unclaimed)

	claimed, err := ib.ListClaimed()
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "j1", claimed[0].JobID)
}

func TestSecondClaimFails(t *testing.T) {
	ib, err := NewInbox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ib.Enqueue(JobEnvelope{JobID: "j1", Kind: "list_files"}))

	_, err = ib.Claim("j1", "worker-a", "tok-1", time.Minute)
	require.NoError(t, err)

	_, err = ib.Claim("j1", "worker-b", "tok-2", time.Minute)
	require.Error(t, err)
}

func TestRequeueRestoresPlainJobFile(t *testing.T) {
	ib, err := NewInbox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ib.Enqueue(JobEnvelope{JobID: "j1", Kind: "list_files"}))
	_, err = ib.Claim("j1", "worker-a", "tok-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, ib.Requeue("j1"))
	unclaimed, err := ib.ListUnclaimed()
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, unclaimed)
}

func TestReaperRequeuesExpiredLease(t *testing.T) {
	ib, err := NewInbox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ib.Enqueue(JobEnvelope{JobID: "j1", Kind: "list_files"}))
	_, err = ib.Claim("j1", "worker-a", "tok-1", -time.Second) // already expired

	r := NewReaper(ib, time.Millisecond, nil)
	n, err := r.reapOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unclaimed, err := ib.ListUnclaimed()
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, unclaimed)
}

func TestOutboxDrain(t *testing.T) {
	ob, err := NewOutbox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ob.PostResult(Result{JobID: "j1", OK: true, Status: "completed"}))
	require.NoError(t, ob.PostResult(Result{JobID: "j2", OK: false, Status: "failed"}))

	results, err := ob.Drain()
	require.NoError(t, err)
	assert.Len(t, results, 2)

	again, err := ob.Drain()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestFailedReportsDrainRetriesUntilSuccess(t *testing.T) {
	fr, err := NewFailedReports(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, fr.Save(Result{JobID: "j1", OK: true, Status: "completed"}))

	attempts := 0
	fr.DrainTo(func(r Result) error {
		attempts++
		if attempts < 2 {
			return assert.AnError
		}
		return nil
	})
	results, _, err := fr.pending()
	require.NoError(t, err)
	assert.Len(t, results, 1, "first attempt failed, report should remain")

	fr.DrainTo(func(r Result) error { return nil })
	results, _, err = fr.pending()
	require.NoError(t, err)
	assert.Empty(t, results)
}
