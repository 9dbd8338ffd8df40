package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/character"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

const characterColumns = `id, campaign_id, name, kind, participant_id, archived, created_at, updated_at`

// PutCharacter upserts one character row.
func (s *Store) PutCharacter(ctx context.Context, record character.Character) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	normalized, err := normalizeCharacter(record)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
	INSERT INTO characters (`+characterColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		campaign_id = excluded.campaign_id,
		name = excluded.name,
		kind = excluded.kind,
		participant_id = excluded.participant_id,
		archived = excluded.archived,
		updated_at = excluded.updated_at
	`,
		normalized.ID,
		normalized.CampaignID,
		normalized.Name,
		string(normalized.Kind),
		normalized.ParticipantID,
		boolToInt(normalized.Archived),
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyConstraintError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("put character: %w", err)
	}
	return nil
}

// GetCharacter loads one character by id.
func (s *Store) GetCharacter(ctx context.Context, characterID string) (character.Character, error) {
	if err := ctx.Err(); err != nil {
		return character.Character{}, err
	}
	if err := s.ready(); err != nil {
		return character.Character{}, err
	}
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return character.Character{}, fmt.Errorf("character id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = ?`, characterID)
	record, err := scanCharacter(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return character.Character{}, storage.ErrNotFound
		}
		return character.Character{}, fmt.Errorf("get character: %w", err)
	}
	return record, nil
}

// ListCharactersByCampaign lists campaign characters ordered by creation.
func (s *Store) ListCharactersByCampaign(ctx context.Context, campaignID string) ([]character.Character, error) {
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

	rows, err := s.sqlDB.QueryContext(ctx, `
	SELECT `+characterColumns+` FROM characters
	WHERE campaign_id = ?
	ORDER BY created_at ASC, id ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()
	return collectCharacters(rows)
}

// ListCharactersByParticipant lists the campaign characters assigned to a participant.
func (s *Store) ListCharactersByParticipant(ctx context.Context, campaignID, participantID string) ([]character.Character, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	campaignID = strings.TrimSpace(campaignID)
	participantID = strings.TrimSpace(participantID)
	if campaignID == "" {
		return nil, fmt.Errorf("campaign id is required")
	}
	if participantID == "" {
		return nil, fmt.Errorf("participant id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
	SELECT `+characterColumns+` FROM characters
	WHERE campaign_id = ? AND participant_id = ? AND archived = 0
	ORDER BY created_at ASC, id ASC
	`, campaignID, participantID)
	if err != nil {
		return nil, fmt.Errorf("list characters by participant: %w", err)
	}
	defer rows.Close()
	return collectCharacters(rows)
}

// SetCharacterParticipant reassigns control of a character. An empty
// participant id unassigns it.
func (s *Store) SetCharacterParticipant(ctx context.Context, characterID, participantID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	characterID = strings.TrimSpace(characterID)
	participantID = strings.TrimSpace(participantID)
	if characterID == "" {
		return fmt.Errorf("character id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
	UPDATE characters SET participant_id = ?, updated_at = ? WHERE id = ? AND archived = 0
	`, participantID, toMillis(at), characterID)
	if err != nil {
		return fmt.Errorf("set character participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set character participant rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ArchiveCharacter archives a character. Characters are never deleted.
func (s *Store) ArchiveCharacter(ctx context.Context, characterID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return fmt.Errorf("character id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
	UPDATE characters SET archived = 1, participant_id = '', updated_at = ? WHERE id = ?
	`, toMillis(at), characterID)
	if err != nil {
		return fmt.Errorf("archive character: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive character rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func normalizeCharacter(record character.Character) (character.Character, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.CampaignID = strings.TrimSpace(record.CampaignID)
	record.Name = strings.TrimSpace(record.Name)
	record.ParticipantID = strings.TrimSpace(record.ParticipantID)
	if record.ID == "" {
		return character.Character{}, fmt.Errorf("character id is required")
	}
	if record.CampaignID == "" {
		return character.Character{}, fmt.Errorf("character campaign id is required")
	}
	if record.Name == "" {
		return character.Character{}, fmt.Errorf("character name is required")
	}
	if !record.Kind.Valid() {
		return character.Character{}, fmt.Errorf("character kind %q is invalid", record.Kind)
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return character.Character{}, fmt.Errorf("character timestamps are required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func scanCharacter(scan scanner) (character.Character, error) {
	var record character.Character
	var kind string
	var archived int
	var createdAt, updatedAt int64
	if err := scan(
		&record.ID,
		&record.CampaignID,
		&record.Name,
		&kind,
		&record.ParticipantID,
		&archived,
		&createdAt,
		&updatedAt,
	); err != nil {
		return character.Character{}, err
	}
	record.Kind = character.Kind(kind)
	record.Archived = archived != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func collectCharacters(rows *sql.Rows) ([]character.Character, error) {
	var results []character.Character
	for rows.Next() {
		record, err := scanCharacter(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan character row: %w", err)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate character rows: %w", err)
	}
	return results, nil
}
