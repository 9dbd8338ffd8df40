package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

const sceneColumns = `id, campaign_id, name, archived, created_at, updated_at`

// PutScene upserts one scene row.
func (s *Store) PutScene(ctx context.Context, record scene.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	normalized, err := normalizeScene(record)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
	INSERT INTO scenes (`+sceneColumns+`)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		campaign_id = excluded.campaign_id,
		name = excluded.name,
		archived = excluded.archived,
		updated_at = excluded.updated_at
	`,
		normalized.ID,
		normalized.CampaignID,
		normalized.Name,
		boolToInt(normalized.Archived),
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyConstraintError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("put scene: %w", err)
	}
	return nil
}

// GetScene loads one scene by id.
func (s *Store) GetScene(ctx context.Context, sceneID string) (scene.Scene, error) {
	if err := ctx.Err(); err != nil {
		return scene.Scene{}, err
	}
	if err := s.ready(); err != nil {
		return scene.Scene{}, err
	}
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return scene.Scene{}, fmt.Errorf("scene id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, sceneID)
	record, err := scanScene(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scene.Scene{}, storage.ErrNotFound
		}
		return scene.Scene{}, fmt.Errorf("get scene: %w", err)
	}
	return record, nil
}

// ListScenesByCampaign lists campaign scenes ordered by creation.
func (s *Store) ListScenesByCampaign(ctx context.Context, campaignID string, includeArchived bool) ([]scene.Scene, error) {
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

	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE campaign_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.sqlDB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var results []scene.Scene
	for rows.Next() {
		record, scanErr := scanScene(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan scene row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scene rows: %w", err)
	}
	return results, nil
}

// ArchiveScene archives a scene.
func (s *Store) ArchiveScene(ctx context.Context, sceneID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return fmt.Errorf("scene id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
	UPDATE scenes SET archived = 1, updated_at = ? WHERE id = ?
	`, toMillis(at), sceneID)
	if err != nil {
		return fmt.Errorf("archive scene: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive scene rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddSceneMember appends a character to a scene roster.
//
// The single-scene invariant is enforced here: the insert fails while the
// character is on the roster of any other non-archived scene.
func (s *Store) AddSceneMember(ctx context.Context, member scene.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	member.SceneID = strings.TrimSpace(member.SceneID)
	member.CharacterID = strings.TrimSpace(member.CharacterID)
	if member.SceneID == "" {
		return fmt.Errorf("scene id is required")
	}
	if member.CharacterID == "" {
		return fmt.Errorf("character id is required")
	}
	if !member.PassState.Valid() {
		member.PassState = scene.PassNone
	}
	if member.JoinedAt.IsZero() {
		return fmt.Errorf("joined_at is required")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var elsewhere int
		if err := tx.QueryRowContext(ctx, `
	SELECT COUNT(1)
	FROM scene_members m
	JOIN scenes s ON s.id = m.scene_id
	WHERE m.character_id = ? AND m.scene_id != ? AND s.archived = 0
	`, member.CharacterID, member.SceneID).Scan(&elsewhere); err != nil {
			return fmt.Errorf("check character scene membership: %w", err)
		}
		if elsewhere > 0 {
			return storage.ErrCharacterInScene
		}

		var nextPosition int
		if err := tx.QueryRowContext(ctx, `
	SELECT COALESCE(MAX(position) + 1, 0) FROM scene_members WHERE scene_id = ?
	`, member.SceneID).Scan(&nextPosition); err != nil {
			return fmt.Errorf("next roster position: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
	INSERT INTO scene_members (scene_id, character_id, position, pass_state, joined_at)
	VALUES (?, ?, ?, ?, ?)
	`, member.SceneID, member.CharacterID, nextPosition, string(member.PassState), toMillis(member.JoinedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return storage.ErrConflict
			}
			if isForeignKeyConstraintError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("add scene member: %w", err)
		}
		return nil
	})
}

// RemoveSceneMember removes a character from a scene roster.
func (s *Store) RemoveSceneMember(ctx context.Context, sceneID, characterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	sceneID = strings.TrimSpace(sceneID)
	characterID = strings.TrimSpace(characterID)
	if sceneID == "" || characterID == "" {
		return fmt.Errorf("scene id and character id are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
	DELETE FROM scene_members WHERE scene_id = ? AND character_id = ?
	`, sceneID, characterID)
	if err != nil {
		return fmt.Errorf("remove scene member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove scene member rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListSceneMembers lists a roster in position order.
func (s *Store) ListSceneMembers(ctx context.Context, sceneID string) ([]scene.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return nil, fmt.Errorf("scene id is required")
	}
	return listSceneMembersExec(ctx, s.sqlDB, sceneID)
}

func listSceneMembersExec(ctx context.Context, q sqlQuerier, sceneID string) ([]scene.Member, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT scene_id, character_id, position, pass_state, joined_at
	FROM scene_members
	WHERE scene_id = ?
	ORDER BY position ASC
	`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("list scene members: %w", err)
	}
	defer rows.Close()

	var results []scene.Member
	for rows.Next() {
		var member scene.Member
		var passState string
		var joinedAt int64
		if err := rows.Scan(&member.SceneID, &member.CharacterID, &member.Position, &passState, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan scene member row: %w", err)
		}
		member.PassState = scene.PassState(passState)
		member.JoinedAt = fromMillis(joinedAt)
		results = append(results, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scene member rows: %w", err)
	}
	return results, nil
}

// SetPassState writes one character's pass state, verifying the owning
// campaign phase inside the transaction so a concurrent transition cannot
// interleave.
func (s *Store) SetPassState(ctx context.Context, sceneID, characterID string, state scene.PassState, requirePhase campaign.Phase, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	sceneID = strings.TrimSpace(sceneID)
	characterID = strings.TrimSpace(characterID)
	if sceneID == "" || characterID == "" {
		return fmt.Errorf("scene id and character id are required")
	}
	if !state.Valid() {
		return fmt.Errorf("pass state %q is invalid", state)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if requirePhase != "" {
			var phase string
			err := tx.QueryRowContext(ctx, `
	SELECT c.phase FROM campaigns c
	JOIN scenes s ON s.campaign_id = c.id
	WHERE s.id = ?
	`, sceneID).Scan(&phase)
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

		result, err := tx.ExecContext(ctx, `
	UPDATE scene_members SET pass_state = ? WHERE scene_id = ? AND character_id = ?
	`, string(state), sceneID, characterID)
		if err != nil {
			return fmt.Errorf("set pass state: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("set pass state rows affected: %w", err)
		}
		if affected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func normalizeScene(record scene.Scene) (scene.Scene, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.CampaignID = strings.TrimSpace(record.CampaignID)
	record.Name = strings.TrimSpace(record.Name)
	if record.ID == "" {
		return scene.Scene{}, fmt.Errorf("scene id is required")
	}
	if record.CampaignID == "" {
		return scene.Scene{}, fmt.Errorf("scene campaign id is required")
	}
	if record.Name == "" {
		return scene.Scene{}, fmt.Errorf("scene name is required")
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return scene.Scene{}, fmt.Errorf("scene timestamps are required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func scanScene(scan scanner) (scene.Scene, error) {
	var record scene.Scene
	var archived int
	var createdAt, updatedAt int64
	if err := scan(
		&record.ID,
		&record.CampaignID,
		&record.Name,
		&archived,
		&createdAt,
		&updatedAt,
	); err != nil {
		return scene.Scene{}, err
	}
	record.Archived = archived != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
