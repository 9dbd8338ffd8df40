package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/lock"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

const lockColumns = `id, scene_id, character_id, holder_participant_id, hidden_intent, acquired_at, last_activity_at, expires_at`

// InsertLock creates a compose lock for its (scene, character) key.
//
// Any expired lock on the key is reclaimed inside the same transaction, so a
// dead lock never blocks acquisition even between sweeps. A live lock on the
// key fails ErrConflict via the unique constraint.
func (s *Store) InsertLock(ctx context.Context, record lock.Lock, requirePhase campaign.Phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	normalized, err := normalizeLock(record)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if requirePhase != "" {
			var phase string
			err := tx.QueryRowContext(ctx, `
	SELECT c.phase FROM campaigns c
	JOIN scenes s ON s.campaign_id = c.id
	WHERE s.id = ?
	`, normalized.SceneID).Scan(&phase)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return storage.ErrNotFound
				}
				return fmt.Errorf("check campaign phase: %w", err)
			}
			if campaign.Phase(phase) != requirePhase {
				return storage.ErrPhaseMismatch
			}
		}

		_, err := tx.ExecContext(ctx, `
	DELETE FROM compose_locks WHERE scene_id = ? AND character_id = ? AND expires_at < ?
	`, normalized.SceneID, normalized.CharacterID, toMillis(normalized.AcquiredAt))
		if err != nil {
			return fmt.Errorf("reclaim expired lock: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
	INSERT INTO compose_locks (`+lockColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
			normalized.ID,
			normalized.SceneID,
			normalized.CharacterID,
			normalized.HolderParticipantID,
			boolToInt(normalized.HiddenIntent),
			toMillis(normalized.AcquiredAt),
			toMillis(normalized.LastActivityAt),
			toMillis(normalized.ExpiresAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return storage.ErrConflict
			}
			if isForeignKeyConstraintError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("insert lock: %w", err)
		}
		return nil
	})
}

// GetLock loads one lock by id.
func (s *Store) GetLock(ctx context.Context, lockID string) (lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return lock.Lock{}, err
	}
	if err := s.ready(); err != nil {
		return lock.Lock{}, err
	}
	lockID = strings.TrimSpace(lockID)
	if lockID == "" {
		return lock.Lock{}, fmt.Errorf("lock id is required")
	}
	return getLockExec(ctx, s.sqlDB, lockID)
}

func getLockExec(ctx context.Context, q sqlQuerier, lockID string) (lock.Lock, error) {
	row := q.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM compose_locks WHERE id = ?`, lockID)
	record, err := scanLock(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lock.Lock{}, storage.ErrNotFound
		}
		return lock.Lock{}, fmt.Errorf("get lock: %w", err)
	}
	return record, nil
}

// GetLockByKey loads the lock for a (scene, character) key.
func (s *Store) GetLockByKey(ctx context.Context, sceneID, characterID string) (lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return lock.Lock{}, err
	}
	if err := s.ready(); err != nil {
		return lock.Lock{}, err
	}
	sceneID = strings.TrimSpace(sceneID)
	characterID = strings.TrimSpace(characterID)
	if sceneID == "" || characterID == "" {
		return lock.Lock{}, fmt.Errorf("scene id and character id are required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
	SELECT `+lockColumns+` FROM compose_locks WHERE scene_id = ? AND character_id = ?
	`, sceneID, characterID)
	record, err := scanLock(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lock.Lock{}, storage.ErrNotFound
		}
		return lock.Lock{}, fmt.Errorf("get lock by key: %w", err)
	}
	return record, nil
}

// ListLocksByCampaign lists every lock across a campaign's scenes.
func (s *Store) ListLocksByCampaign(ctx context.Context, campaignID string) ([]lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, fmt.Errorf("campaign id is required")
	}
	return listLocksByCampaignExec(ctx, s.sqlDB, campaignID)
}

func listLocksByCampaignExec(ctx context.Context, q sqlQuerier, campaignID string) ([]lock.Lock, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT l.id, l.scene_id, l.character_id, l.holder_participant_id, l.hidden_intent, l.acquired_at, l.last_activity_at, l.expires_at
	FROM compose_locks l
	JOIN scenes s ON s.id = l.scene_id
	WHERE s.campaign_id = ?
	ORDER BY l.acquired_at ASC, l.id ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()
	return collectLocks(rows)
}

// HeartbeatLock stamps activity and pushes expiry out to now+TTL.
//
// An expired lock is treated as already gone; the heartbeat never revives it.
func (s *Store) HeartbeatLock(ctx context.Context, lockID, holderParticipantID string, now time.Time) (lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return lock.Lock{}, err
	}
	if err := s.ready(); err != nil {
		return lock.Lock{}, err
	}
	lockID = strings.TrimSpace(lockID)
	holderParticipantID = strings.TrimSpace(holderParticipantID)
	if lockID == "" || holderParticipantID == "" {
		return lock.Lock{}, fmt.Errorf("lock id and holder are required")
	}

	var refreshed lock.Lock
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		record, err := getLockExec(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if record.Expired(now) {
			return storage.ErrNotFound
		}
		if !record.HeldBy(holderParticipantID) {
			return storage.ErrNotHolder
		}

		refreshed = record.Refreshed(now)
		_, err = tx.ExecContext(ctx, `
	UPDATE compose_locks SET last_activity_at = ?, expires_at = ? WHERE id = ?
	`, toMillis(refreshed.LastActivityAt), toMillis(refreshed.ExpiresAt), lockID)
		if err != nil {
			return fmt.Errorf("heartbeat lock: %w", err)
		}
		return nil
	})
	if err != nil {
		return lock.Lock{}, err
	}
	return refreshed, nil
}

// ReleaseLock deletes the lock after the same holder checks as heartbeat.
func (s *Store) ReleaseLock(ctx context.Context, lockID, holderParticipantID string) (lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return lock.Lock{}, err
	}
	if err := s.ready(); err != nil {
		return lock.Lock{}, err
	}
	lockID = strings.TrimSpace(lockID)
	holderParticipantID = strings.TrimSpace(holderParticipantID)
	if lockID == "" || holderParticipantID == "" {
		return lock.Lock{}, fmt.Errorf("lock id and holder are required")
	}

	var released lock.Lock
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		record, err := getLockExec(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if !record.HeldBy(holderParticipantID) {
			return storage.ErrNotHolder
		}

		released = record
		if _, err := tx.ExecContext(ctx, `DELETE FROM compose_locks WHERE id = ?`, lockID); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return nil
	})
	if err != nil {
		return lock.Lock{}, err
	}
	return released, nil
}

// DeleteLockByKey deletes the lock on a key unconditionally and returns it.
func (s *Store) DeleteLockByKey(ctx context.Context, sceneID, characterID string) (lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return lock.Lock{}, err
	}
	if err := s.ready(); err != nil {
		return lock.Lock{}, err
	}
	sceneID = strings.TrimSpace(sceneID)
	characterID = strings.TrimSpace(characterID)
	if sceneID == "" || characterID == "" {
		return lock.Lock{}, fmt.Errorf("scene id and character id are required")
	}

	var deleted lock.Lock
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
	SELECT `+lockColumns+` FROM compose_locks WHERE scene_id = ? AND character_id = ?
	`, sceneID, characterID)
		record, err := scanLock(row.Scan)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("get lock by key: %w", err)
		}

		deleted = record
		if _, err := tx.ExecContext(ctx, `DELETE FROM compose_locks WHERE id = ?`, record.ID); err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		return nil
	})
	if err != nil {
		return lock.Lock{}, err
	}
	return deleted, nil
}

// DeleteExpiredLocks reclaims every lock past its expiry across all campaigns.
func (s *Store) DeleteExpiredLocks(ctx context.Context, now time.Time) ([]lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	var reclaimed []lock.Lock
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		reclaimed, txErr = deleteExpiredLocksExec(ctx, tx, now, "")
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

// deleteExpiredLocksExec reclaims expired locks, scoped to one campaign when
// campaignID is non-empty. Each deletion is keyed by id and expiry so a
// concurrently refreshed lock survives.
func deleteExpiredLocksExec(ctx context.Context, q sqlQuerier, now time.Time, campaignID string) ([]lock.Lock, error) {
	query := `
	SELECT l.id, l.scene_id, l.character_id, l.holder_participant_id, l.hidden_intent, l.acquired_at, l.last_activity_at, l.expires_at
	FROM compose_locks l
	JOIN scenes s ON s.id = l.scene_id
	WHERE l.expires_at < ?`
	args := []any{toMillis(now)}
	if campaignID != "" {
		query += ` AND s.campaign_id = ?`
		args = append(args, campaignID)
	}
	query += ` ORDER BY l.expires_at ASC, l.id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired locks: %w", err)
	}
	expired, err := collectLocks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var reclaimed []lock.Lock
	for _, record := range expired {
		result, err := q.ExecContext(ctx, `
	DELETE FROM compose_locks WHERE id = ? AND expires_at < ?
	`, record.ID, toMillis(now))
		if err != nil {
			return nil, fmt.Errorf("delete expired lock: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("delete expired lock rows affected: %w", err)
		}
		if affected > 0 {
			reclaimed = append(reclaimed, record)
		}
	}
	return reclaimed, nil
}

func normalizeLock(record lock.Lock) (lock.Lock, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.SceneID = strings.TrimSpace(record.SceneID)
	record.CharacterID = strings.TrimSpace(record.CharacterID)
	record.HolderParticipantID = strings.TrimSpace(record.HolderParticipantID)
	if record.ID == "" {
		return lock.Lock{}, fmt.Errorf("lock id is required")
	}
	if record.SceneID == "" || record.CharacterID == "" {
		return lock.Lock{}, fmt.Errorf("lock scene id and character id are required")
	}
	if record.HolderParticipantID == "" {
		return lock.Lock{}, fmt.Errorf("lock holder is required")
	}
	if record.AcquiredAt.IsZero() || record.LastActivityAt.IsZero() || record.ExpiresAt.IsZero() {
		return lock.Lock{}, fmt.Errorf("lock timestamps are required")
	}
	record.AcquiredAt = record.AcquiredAt.UTC()
	record.LastActivityAt = record.LastActivityAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}

func scanLock(scan scanner) (lock.Lock, error) {
	var record lock.Lock
	var hiddenIntent int
	var acquiredAt, lastActivityAt, expiresAt int64
	if err := scan(
		&record.ID,
		&record.SceneID,
		&record.CharacterID,
		&record.HolderParticipantID,
		&hiddenIntent,
		&acquiredAt,
		&lastActivityAt,
		&expiresAt,
	); err != nil {
		return lock.Lock{}, err
	}
	record.HiddenIntent = hiddenIntent != 0
	record.AcquiredAt = fromMillis(acquiredAt)
	record.LastActivityAt = fromMillis(lastActivityAt)
	record.ExpiresAt = fromMillis(expiresAt)
	return record, nil
}

func collectLocks(rows *sql.Rows) ([]lock.Lock, error) {
	var results []lock.Lock
	for rows.Next() {
		record, err := scanLock(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan lock row: %w", err)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lock rows: %w", err)
	}
	return results, nil
}
