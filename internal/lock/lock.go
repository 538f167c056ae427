// Package lock implements a SQLite-backed distributed lock with fencing
// tokens, shared across every autonomy-core process pointed at the same
// database file. Named locks (job:<handler_name>, task:<task_id>,
// goal_gen:weekly) keep the scheduler, executor, and goal generator from
// double-running the same unit of work across replicas.
package lock

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fablab/autonomy-core/internal/coreerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS locks (
	name TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	owner TEXT NOT NULL,
	fencing_seq INTEGER NOT NULL DEFAULT 0,
	acquired_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);
`

// Locker grants named, TTL-bounded, fencing-tokened locks backed by a
// shared SQLite database.
type Locker struct {
	db *sql.DB
}

// New opens a Locker against an existing database connection, creating
// the locks table if it does not exist. Callers typically pass the same
// *sql.DB the store uses (Store.DB()) so lock rows live alongside the
// rest of the autonomy core's state.
func New(db *sql.DB) (*Locker, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("lock: create schema: %w", err)
	}
	return &Locker{db: db}, nil
}

// Lease is a held lock. FencingToken is an integer that increases with
// each acquisition while the lock's row exists, so a downstream
// resource (e.g. the storage layer) can use it to reject a write from a
// lease that has since been superseded. Release deletes the row, so the
// next acquisition after a release starts again at 1.
type Lease struct {
	Name         string
	Token        string
	Owner        string
	FencingToken int64
	ExpiresAt    time.Time
}

// Acquire claims name for owner for ttl. A lock held by someone else
// that hasn't expired fails with lock_unavailable. Acquiring a lock the
// caller already owns (same owner) renews it and bumps the fencing
// token, matching the teacher's claim-lease upsert semantics.
//
// The claim is a single guarded upsert rather than a read-then-write:
// checking "is it free or mine" in one statement and only then writing
// closes the gap a separate SELECT followed by an INSERT would leave
// open, where two concurrent callers could both read "unclaimed" before
// either commits and both go on to believe they'd won.
func (l *Locker) Acquire(name, owner string, ttl time.Duration) (*Lease, error) {
	name, owner = strings.TrimSpace(name), strings.TrimSpace(owner)
	if name == "" || owner == "" {
		return nil, fmt.Errorf("lock: acquire: name and owner are required")
	}

	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	token := uuid.NewString()
	newExpiry := now.Add(ttl)

	res, err := tx.Exec(`
		INSERT INTO locks (name, token, owner, fencing_seq, acquired_at, expires_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			token = excluded.token, owner = excluded.owner,
			fencing_seq = locks.fencing_seq + 1, acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE locks.expires_at <= excluded.acquired_at OR locks.owner = excluded.owner`,
		name, token, owner, now, newExpiry,
	)
	if err != nil {
		return nil, fmt.Errorf("lock: acquire: claim: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire: rows affected: %w", err)
	}
	if claimed == 0 {
		var existingOwner string
		var expiresAt time.Time
		if scanErr := tx.QueryRow(`SELECT owner, expires_at FROM locks WHERE name = ?`, name).
			Scan(&existingOwner, &expiresAt); scanErr != nil {
			return nil, fmt.Errorf("lock: acquire: lookup holder: %w", scanErr)
		}
		return nil, coreerr.New(coreerr.LockUnavailable, fmt.Sprintf(
			"lock %q held by %q until %s", name, existingOwner, expiresAt.Format(time.RFC3339)))
	}

	var seq int64
	if err := tx.QueryRow(`SELECT fencing_seq FROM locks WHERE name = ?`, name).Scan(&seq); err != nil {
		return nil, fmt.Errorf("lock: acquire: read fencing token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("lock: acquire: commit: %w", err)
	}

	return &Lease{Name: name, Token: token, Owner: owner, FencingToken: seq, ExpiresAt: newExpiry}, nil
}

// Renew extends a held lease's expiry. Fails with lock_stale if the
// token no longer matches the current holder (lost to expiry and
// reclaim by someone else).
func (l *Locker) Renew(lease *Lease, ttl time.Duration) error {
	newExpiry := time.Now().UTC().Add(ttl)
	res, err := l.db.Exec(`UPDATE locks SET expires_at = ? WHERE name = ? AND token = ?`,
		newExpiry, lease.Name, lease.Token)
	if err != nil {
		return fmt.Errorf("lock: renew: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock: renew: rows affected: %w", err)
	}
	if n == 0 {
		return coreerr.New(coreerr.LockStale, fmt.Sprintf("lease for %q is no longer current", lease.Name))
	}
	lease.ExpiresAt = newExpiry
	return nil
}

// Release drops a held lease. Releasing a lease that has already
// expired and been reclaimed by someone else is a no-op: it will not
// remove the new holder's row, since the token won't match.
func (l *Locker) Release(lease *Lease) error {
	_, err := l.db.Exec(`DELETE FROM locks WHERE name = ? AND token = ?`, lease.Name, lease.Token)
	if err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

// Holder reports the current holder and expiry of a named lock, or ok=false
// if nothing currently holds it (or it has expired).
func (l *Locker) Holder(name string) (owner string, expiresAt time.Time, ok bool, err error) {
	err = l.db.QueryRow(`SELECT owner, expires_at FROM locks WHERE name = ?`, name).Scan(&owner, &expiresAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("lock: holder: %w", err)
	}
	return owner, expiresAt, expiresAt.After(time.Now().UTC()), nil
}
