package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sheratan/mesh/pkg/errs"
	"github.com/sheratan/mesh/pkg/lockutil"
)

// Inbox is the directory the core writes jobs into and workers claim from
// (data/webrelay_out/).
type Inbox struct {
	Dir string
}

// NewInbox returns an Inbox rooted at dir, creating it if needed.
func NewInbox(dir string) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: mkdir inbox %s: %w", dir, err)
	}
	return &Inbox{Dir: dir}, nil
}

func (ib *Inbox) jobPath(id string) string     { return filepath.Join(ib.Dir, id+jobSuffix) }
func (ib *Inbox) claimedPath(id string) string { return filepath.Join(ib.Dir, id+claimedSuffix) }

// Depth returns the number of unclaimed job files currently in the inbox,
// used for the submitter backpressure check.
func (ib *Inbox) Depth() (int, error) {
	entries, err := os.ReadDir(ib.Dir)
	if err != nil {
		return 0, fmt.Errorf("queue: read inbox %s: %w", ib.Dir, err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && hasSuffix(e.Name(), jobSuffix) {
			n++
		}
	}
	return n, nil
}

// Enqueue writes a job file atomically. Rejects duplicate job ids: it
// checks for both the plain and claimed forms before writing.
func (ib *Inbox) Enqueue(env JobEnvelope) error {
	if _, err := os.Stat(ib.jobPath(env.JobID)); err == nil {
		return fmt.Errorf("queue: enqueue %s: %w", env.JobID, errs.ErrDuplicateJob)
	}
	if _, err := os.Stat(ib.claimedPath(env.JobID)); err == nil {
		return fmt.Errorf("queue: enqueue %s: %w", env.JobID, errs.ErrDuplicateJob)
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", env.JobID, err)
	}
	return lockutil.AtomicWriteFile(ib.jobPath(env.JobID), raw, 0o644)
}

// Claim attempts to atomically claim job id for workerID with a lease of
// leaseDuration. The rename of the untouched job file is the sole commit
// point: on a POSIX filesystem, when two workers race, the source name
// disappears after the first rename succeeds, so the second's os.Rename
// fails with ENOENT, so only one caller ever wins. Only after
// winning the rename does this embed worker_id/lease_until into the claimed
// file; doing that before the rename would let a second racing claimant's
// rename silently overwrite the first's claimed file, since POSIX rename
// replaces an existing destination rather than failing. Returns
// errs.ErrNotFound if the job file is gone (already claimed or never
// existed).
func (ib *Inbox) Claim(id, workerID, claimToken string, leaseDuration time.Duration) (JobEnvelope, error) {
	if err := os.Rename(ib.jobPath(id), ib.claimedPath(id)); err != nil {
		return JobEnvelope{}, fmt.Errorf("queue: claim %s: %w", id, errs.ErrNotFound)
	}

	raw, err := os.ReadFile(ib.claimedPath(id))
	if err != nil {
		return JobEnvelope{}, fmt.Errorf("queue: claim %s: read after rename: %w", id, err)
	}
	var env JobEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return JobEnvelope{}, fmt.Errorf("queue: claim %s: corrupt job file: %w", id, err)
	}
	env.ClaimedBy = workerID
	env.ClaimToken = claimToken
	until := time.Now().Add(leaseDuration)
	env.LeaseUntil = &until

	claimedRaw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return JobEnvelope{}, fmt.Errorf("queue: marshal claim %s: %w", id, err)
	}
	if err := lockutil.AtomicWriteFile(ib.claimedPath(id), claimedRaw, 0o644); err != nil {
		return JobEnvelope{}, fmt.Errorf("queue: stage claim %s: %w", id, err)
	}
	return env, nil
}

// ListUnclaimed returns job IDs with a plain (unclaimed) job file present.
func (ib *Inbox) ListUnclaimed() ([]string, error) {
	entries, err := os.ReadDir(ib.Dir)
	if err != nil {
		return nil, fmt.Errorf("queue: read inbox %s: %w", ib.Dir, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && hasSuffix(e.Name(), jobSuffix) {
			ids = append(ids, trimSuffix(e.Name(), jobSuffix))
		}
	}
	return ids, nil
}

// ListClaimed returns the claimed job envelopes currently in the inbox
// (used by the reaper to find expired leases).
func (ib *Inbox) ListClaimed() ([]JobEnvelope, error) {
	entries, err := os.ReadDir(ib.Dir)
	if err != nil {
		return nil, fmt.Errorf("queue: read inbox %s: %w", ib.Dir, err)
	}
	var out []JobEnvelope
	for _, e := range entries {
		if e.IsDir() || !hasSuffix(e.Name(), claimedSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(ib.Dir, e.Name()))
		if err != nil {
			continue
		}
		var env JobEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// Requeue renames a claimed job file back to its unclaimed form (the
// reaper's LEASE_REAP action).
func (ib *Inbox) Requeue(id string) error {
	return os.Rename(ib.claimedPath(id), ib.jobPath(id))
}

// DeleteClaimed removes a claimed job file. Workers call this only after
// the result has been durably written to the outbox.
func (ib *Inbox) DeleteClaimed(id string) error {
	return os.Remove(ib.claimedPath(id))
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

func trimSuffix(s, suf string) string {
	if hasSuffix(s, suf) {
		return s[:len(s)-len(suf)]
	}
	return s
}
