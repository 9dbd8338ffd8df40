package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/campaign"
	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/domain/scene"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

const campaignColumns = `id, name, moderator_participant_id, phase, phase_started_at, time_gate_ms, time_gate_fired, paused, fog_of_war, content_limit, created_at, updated_at`

// PutCampaign upserts one campaign row.
func (s *Store) PutCampaign(ctx context.Context, record campaign.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	normalized, err := normalizeCampaign(record)
	if err != nil {
		return err
	}

	var timeGate sql.NullInt64
	if normalized.TimeGate != nil {
		timeGate = sql.NullInt64{Int64: normalized.TimeGate.Milliseconds(), Valid: true}
	}

	_, err = s.sqlDB.ExecContext(ctx, `
	INSERT INTO campaigns (`+campaignColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		moderator_participant_id = excluded.moderator_participant_id,
		phase = excluded.phase,
		phase_started_at = excluded.phase_started_at,
		time_gate_ms = excluded.time_gate_ms,
		time_gate_fired = excluded.time_gate_fired,
		paused = excluded.paused,
		fog_of_war = excluded.fog_of_war,
		content_limit = excluded.content_limit,
		updated_at = excluded.updated_at
	`,
		normalized.ID,
		normalized.Name,
		normalized.ModeratorParticipantID,
		string(normalized.Phase),
		toMillis(normalized.PhaseStartedAt),
		timeGate,
		boolToInt(normalized.TimeGateFired),
		boolToInt(normalized.Paused),
		boolToInt(normalized.FogOfWar),
		normalized.ContentLimit,
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put campaign: %w", err)
	}
	return nil
}

// GetCampaign loads one campaign by id.
func (s *Store) GetCampaign(ctx context.Context, campaignID string) (campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return campaign.Campaign{}, err
	}
	if err := s.ready(); err != nil {
		return campaign.Campaign{}, err
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return campaign.Campaign{}, fmt.Errorf("campaign id is required")
	}
	return getCampaign(ctx, s.sqlDB, campaignID)
}

func getCampaign(ctx context.Context, q sqlQuerier, campaignID string) (campaign.Campaign, error) {
	row := q.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, campaignID)
	record, err := scanCampaign(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return campaign.Campaign{}, storage.ErrNotFound
		}
		return campaign.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return record, nil
}

// SetPaused flips the campaign paused flag.
func (s *Store) SetPaused(ctx context.Context, campaignID string, paused bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return fmt.Errorf("campaign id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
	UPDATE campaigns SET paused = ?, updated_at = ? WHERE id = ?
	`, boolToInt(paused), toMillis(at), campaignID)
	if err != nil {
		return fmt.Errorf("set campaign paused: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set campaign paused rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TransitionPhase atomically flips the campaign phase.
//
// The lock-set evaluation, lock clearing, phase flip, and pass-state reset
// all happen under one transaction so a transition never observes a lock set
// that changes mid-evaluation.
func (s *Store) TransitionPhase(ctx context.Context, input storage.TransitionInput) (storage.TransitionResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransitionResult{}, err
	}
	if err := s.ready(); err != nil {
		return storage.TransitionResult{}, err
	}
	input.CampaignID = strings.TrimSpace(input.CampaignID)
	if input.CampaignID == "" {
		return storage.TransitionResult{}, fmt.Errorf("campaign id is required")
	}
	if input.Now.IsZero() {
		return storage.TransitionResult{}, fmt.Errorf("now is required")
	}

	var result storage.TransitionResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		record, err := getCampaign(ctx, tx, input.CampaignID)
		if err != nil {
			return err
		}

		// Expired locks are dead regardless of the sweep; reclaim them so
		// they never block a transition.
		if _, err := deleteExpiredLocksExec(ctx, tx, input.Now, input.CampaignID); err != nil {
			return err
		}

		live, err := listLocksByCampaignExec(ctx, tx, input.CampaignID)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			if !input.Force {
				return storage.ErrLocksHeld
			}
			if _, err := tx.ExecContext(ctx, `
	DELETE FROM compose_locks
	WHERE scene_id IN (SELECT id FROM scenes WHERE campaign_id = ?)
	`, input.CampaignID); err != nil {
				return fmt.Errorf("clear campaign locks: %w", err)
			}
			result.ClearedLocks = live
		}

		now := input.Now.UTC()
		record.Phase = record.Phase.Flip()
		record.PhaseStartedAt = now
		record.TimeGateFired = false
		record.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
	UPDATE campaigns
	SET phase = ?, phase_started_at = ?, time_gate_fired = 0, updated_at = ?
	WHERE id = ?
	`, string(record.Phase), toMillis(now), toMillis(now), input.CampaignID); err != nil {
			return fmt.Errorf("flip campaign phase: %w", err)
		}

		if record.Phase == campaign.PhasePlayers {
			if _, err := tx.ExecContext(ctx, `
	UPDATE scene_members SET pass_state = ?
	WHERE scene_id IN (SELECT id FROM scenes WHERE campaign_id = ?)
	`, string(scene.PassNone), input.CampaignID); err != nil {
				return fmt.Errorf("reset pass states: %w", err)
			}
		}

		result.Campaign = record
		return nil
	})
	if err != nil {
		return storage.TransitionResult{}, err
	}
	return result, nil
}

// MarkTimeGateFired flips the one-shot gate marker; reports whether it flipped.
func (s *Store) MarkTimeGateFired(ctx context.Context, campaignID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return false, fmt.Errorf("campaign id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
	UPDATE campaigns SET time_gate_fired = 1, updated_at = ?
	WHERE id = ? AND time_gate_fired = 0
	`, toMillis(at), campaignID)
	if err != nil {
		return false, fmt.Errorf("mark time gate fired: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark time gate fired rows affected: %w", err)
	}
	return affected > 0, nil
}

// AutoPassIdlePCs sets every pc-kind character currently at none to passed.
func (s *Store) AutoPassIdlePCs(ctx context.Context, campaignID string, at time.Time) ([]string, error) {
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

	var changed []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
	SELECT m.character_id
	FROM scene_members m
	JOIN scenes s ON s.id = m.scene_id
	JOIN characters c ON c.id = m.character_id
	WHERE s.campaign_id = ?
	  AND m.pass_state = ?
	  AND c.kind = ?
	ORDER BY m.character_id ASC
	`, campaignID, string(scene.PassNone), string(character.KindPC))
		if err != nil {
			return fmt.Errorf("list idle pcs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var characterID string
			if err := rows.Scan(&characterID); err != nil {
				return fmt.Errorf("scan idle pc: %w", err)
			}
			changed = append(changed, characterID)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate idle pcs: %w", err)
		}
		if len(changed) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
	UPDATE scene_members SET pass_state = ?
	WHERE pass_state = ?
	  AND scene_id IN (SELECT id FROM scenes WHERE campaign_id = ?)
	  AND character_id IN (SELECT id FROM characters WHERE campaign_id = ? AND kind = ?)
	`, string(scene.PassSoft), string(scene.PassNone), campaignID, campaignID, string(character.KindPC))
		if err != nil {
			return fmt.Errorf("auto-pass idle pcs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func normalizeCampaign(record campaign.Campaign) (campaign.Campaign, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.Name = strings.TrimSpace(record.Name)
	record.ModeratorParticipantID = strings.TrimSpace(record.ModeratorParticipantID)
	if record.ID == "" {
		return campaign.Campaign{}, fmt.Errorf("campaign id is required")
	}
	if record.Name == "" {
		return campaign.Campaign{}, fmt.Errorf("campaign name is required")
	}
	if record.ModeratorParticipantID == "" {
		return campaign.Campaign{}, fmt.Errorf("campaign moderator is required")
	}
	if !record.Phase.Valid() {
		return campaign.Campaign{}, fmt.Errorf("campaign phase %q is invalid", record.Phase)
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return campaign.Campaign{}, fmt.Errorf("campaign timestamps are required")
	}
	record.PhaseStartedAt = record.PhaseStartedAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func scanCampaign(scan scanner) (campaign.Campaign, error) {
	var record campaign.Campaign
	var phase string
	var phaseStartedAt, createdAt, updatedAt int64
	var timeGate sql.NullInt64
	var fired, paused, fog int
	if err := scan(
		&record.ID,
		&record.Name,
		&record.ModeratorParticipantID,
		&phase,
		&phaseStartedAt,
		&timeGate,
		&fired,
		&paused,
		&fog,
		&record.ContentLimit,
		&createdAt,
		&updatedAt,
	); err != nil {
		return campaign.Campaign{}, err
	}
	record.Phase = campaign.Phase(phase)
	record.PhaseStartedAt = fromMillis(phaseStartedAt)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	if timeGate.Valid {
		gate := time.Duration(timeGate.Int64) * time.Millisecond
		record.TimeGate = &gate
	}
	record.TimeGateFired = fired != 0
	record.Paused = paused != 0
	record.FogOfWar = fog != 0
	return record, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
