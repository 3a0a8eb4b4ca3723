// Package timeline keeps the append-only per-slot history that the rest of the
// system treats as the source of truth for what happened when. Entries are
// never edited or removed; insertion order is authoritative, not timestamps.
package timeline

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"rewardline/internal/domain"
	"rewardline/internal/fault"
)

// appendRetries bounds CAS retries when two appends race on one slot.
const appendRetries = 5

type Log struct {
	DB  *sql.DB
	Now func() time.Time
}

func (l Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append adds one entry to the slot's history. The sequence number is computed
// and inserted in a single statement keyed by the (slot_id, seq) primary key,
// so a concurrent append surfaces as a key conflict and is retried against a
// fresh maximum instead of clobbering the other writer's row.
func (l Log) Append(ctx context.Context, slotID string, entry domain.TimelineEntry) error {
	if err := l.ensureSlot(ctx, slotID); err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err := l.insert(ctx, nil, slotID, entry)
		if err == nil {
			return nil
		}
		if !isKeyConflict(err) {
			return fault.Storage(err)
		}
		lastErr = err
	}
	return fault.Storage(lastErr)
}

// AppendTx adds one entry inside the caller's transaction. Used at group
// creation where the slot rows and their first entries commit together.
func (l Log) AppendTx(ctx context.Context, tx *sql.Tx, slotID string, entry domain.TimelineEntry) error {
	if err := l.insert(ctx, tx, slotID, entry); err != nil {
		return fault.Storage(err)
	}
	return nil
}

func (l Log) insert(ctx context.Context, tx *sql.Tx, slotID string, entry domain.TimelineEntry) error {
	ts := entry.CreatedAt
	if ts == "" {
		ts = l.now().UTC().Format(time.RFC3339)
	}
	const q = `INSERT INTO timeline_entries(slot_id,seq,status,actor_id,actor_name,action,reason,created_at)
VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM timeline_entries WHERE slot_id=?),?,?,?,?,?,?)`
	args := []any{slotID, slotID, entry.Status, nullableStringPtr(entry.ActorID), nullableStringPtr(entry.ActorName),
		nullableStringPtr(entry.Action), nullableStringPtr(entry.Reason), ts}
	if tx != nil {
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	}
	_, err := l.DB.ExecContext(ctx, q, args...)
	return err
}

func (l Log) ensureSlot(ctx context.Context, slotID string) error {
	var one int
	err := l.DB.QueryRowContext(ctx, `SELECT 1 FROM task_slots WHERE id=?`, slotID).Scan(&one)
	if err == sql.ErrNoRows {
		return fault.NotFound(fault.CodeSlotNotFound, "slot %s not found", slotID)
	}
	if err != nil {
		return fault.Storage(err)
	}
	return nil
}

// Read returns the slot's entries oldest first, ordered by insertion sequence.
// A slot that exists but has never been written to yields an empty list.
func (l Log) Read(ctx context.Context, slotID string) ([]domain.TimelineEntry, error) {
	if err := l.ensureSlot(ctx, slotID); err != nil {
		return nil, err
	}
	rows, err := l.DB.QueryContext(ctx,
		`SELECT slot_id,seq,status,actor_id,actor_name,action,reason,created_at FROM timeline_entries WHERE slot_id=? ORDER BY seq ASC`, slotID)
	if err != nil {
		return nil, fault.Storage(err)
	}
	defer rows.Close()
	entries := []domain.TimelineEntry{}
	for rows.Next() {
		var e domain.TimelineEntry
		var actorID, actorName, action, reason sql.NullString
		if err := rows.Scan(&e.SlotID, &e.Seq, &e.Status, &actorID, &actorName, &action, &reason, &e.CreatedAt); err != nil {
			return nil, fault.Storage(err)
		}
		if actorID.Valid {
			e.ActorID = &actorID.String
		}
		if actorName.Valid {
			e.ActorName = &actorName.String
		}
		if action.Valid {
			e.Action = &action.String
		}
		if reason.Valid {
			e.Reason = &reason.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Storage(err)
	}
	return entries, nil
}

func isKeyConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "unique")
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
