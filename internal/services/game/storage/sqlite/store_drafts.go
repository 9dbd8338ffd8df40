package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lorebound/lorebound/internal/services/game/storage"
)

// PutDraft upserts a participant's in-progress content for a (scene,
// character). The matching compose lock must be live and held by the same
// participant at write time.
func (s *Store) PutDraft(ctx context.Context, record storage.Draft) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	record.SceneID = strings.TrimSpace(record.SceneID)
	record.CharacterID = strings.TrimSpace(record.CharacterID)
	record.ParticipantID = strings.TrimSpace(record.ParticipantID)
	if record.SceneID == "" || record.CharacterID == "" {
		return fmt.Errorf("scene id and character id are required")
	}
	if record.ParticipantID == "" {
		return fmt.Errorf("participant id is required")
	}
	if record.UpdatedAt.IsZero() {
		return fmt.Errorf("draft timestamp is required")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
	SELECT holder_participant_id, expires_at FROM compose_locks
	WHERE scene_id = ? AND character_id = ?
	`, record.SceneID, record.CharacterID)
		var holder string
		var expiresAt int64
		if err := row.Scan(&holder, &expiresAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check compose lock: %w", err)
		}
		if record.UpdatedAt.After(fromMillis(expiresAt)) {
			return storage.ErrNotFound
		}
		if holder != record.ParticipantID {
			return storage.ErrNotHolder
		}

		blocksJSON, err := encodeBlocks(record.Blocks)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
	INSERT INTO drafts (scene_id, character_id, participant_id, blocks_json, ooc_note, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(scene_id, character_id, participant_id) DO UPDATE SET
		blocks_json = excluded.blocks_json,
		ooc_note = excluded.ooc_note,
		updated_at = excluded.updated_at
	`,
			record.SceneID,
			record.CharacterID,
			record.ParticipantID,
			blocksJSON,
			strings.TrimSpace(record.OOCNote),
			toMillis(record.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("put draft: %w", err)
		}
		return nil
	})
}

// GetDraft loads a participant's draft for a (scene, character). Drafts
// survive lock expiry, so no lock check happens here.
func (s *Store) GetDraft(ctx context.Context, sceneID, characterID, participantID string) (storage.Draft, error) {
	if err := ctx.Err(); err != nil {
		return storage.Draft{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Draft{}, err
	}
	sceneID = strings.TrimSpace(sceneID)
	characterID = strings.TrimSpace(characterID)
	participantID = strings.TrimSpace(participantID)
	if sceneID == "" || characterID == "" || participantID == "" {
		return storage.Draft{}, fmt.Errorf("scene, character, and participant ids are required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
	SELECT scene_id, character_id, participant_id, blocks_json, ooc_note, updated_at
	FROM drafts
	WHERE scene_id = ? AND character_id = ? AND participant_id = ?
	`, sceneID, characterID, participantID)

	var record storage.Draft
	var blocksJSON string
	var updatedAt int64
	err := row.Scan(&record.SceneID, &record.CharacterID, &record.ParticipantID, &blocksJSON, &record.OOCNote, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Draft{}, storage.ErrNotFound
		}
		return storage.Draft{}, fmt.Errorf("get draft: %w", err)
	}
	blocks, err := decodeBlocks(blocksJSON)
	if err != nil {
		return storage.Draft{}, err
	}
	record.Blocks = blocks
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// DeleteDraft removes a draft. Deleting a missing draft is a no-op.
func (s *Store) DeleteDraft(ctx context.Context, sceneID, characterID, participantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	sceneID = strings.TrimSpace(sceneID)
	characterID = strings.TrimSpace(characterID)
	participantID = strings.TrimSpace(participantID)
	if sceneID == "" || characterID == "" || participantID == "" {
		return fmt.Errorf("scene, character, and participant ids are required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	DELETE FROM drafts WHERE scene_id = ? AND character_id = ? AND participant_id = ?
	`, sceneID, characterID, participantID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}
