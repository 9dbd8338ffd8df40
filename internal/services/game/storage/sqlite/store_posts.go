package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lorebound/lorebound/internal/services/game/domain/post"
	"github.com/lorebound/lorebound/internal/services/game/storage"
)

const postColumns = `id, scene_id, character_id, author_participant_id, blocks_json, ooc_note, hidden, locked, seq, created_at, updated_at`

type blockRecord struct {
	Kind string `json:"kind"`
	Body string `json:"body"`
}

func encodeBlocks(blocks []post.Block) (string, error) {
	records := make([]blockRecord, 0, len(blocks))
	for _, block := range blocks {
		records = append(records, blockRecord{Kind: string(block.Kind), Body: block.Body})
	}
	return marshalJSON(records)
}

func decodeBlocks(encoded string) ([]post.Block, error) {
	var records []blockRecord
	if err := json.Unmarshal([]byte(encoded), &records); err != nil {
		return nil, fmt.Errorf("unmarshal blocks: %w", err)
	}
	blocks := make([]post.Block, 0, len(records))
	for _, record := range records {
		blocks = append(blocks, post.Block{Kind: post.BlockKind(record.Kind), Body: record.Body})
	}
	return blocks, nil
}

// SubmitPost consumes a held compose lock into a post.
//
// The whole submission is one transaction: witness snapshot, locking of the
// preceding post, post insertion, lock deletion, soft-pass reset for the
// author, and draft deletion. A missing or expired lock fails ErrNotFound.
func (s *Store) SubmitPost(ctx context.Context, input storage.SubmitInput) (post.Post, error) {
	if err := ctx.Err(); err != nil {
		return post.Post{}, err
	}
	if err := s.ready(); err != nil {
		return post.Post{}, err
	}
	input.PostID = strings.TrimSpace(input.PostID)
	input.LockID = strings.TrimSpace(input.LockID)
	input.HolderParticipantID = strings.TrimSpace(input.HolderParticipantID)
	if input.PostID == "" {
		return post.Post{}, fmt.Errorf("post id is required")
	}
	if input.LockID == "" || input.HolderParticipantID == "" {
		return post.Post{}, fmt.Errorf("lock id and holder are required")
	}
	if input.Now.IsZero() {
		return post.Post{}, fmt.Errorf("submission time is required")
	}

	var submitted post.Post
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		held, err := getLockExec(ctx, tx, input.LockID)
		if err != nil {
			return err
		}
		if held.Expired(input.Now) {
			return storage.ErrNotFound
		}
		if !held.HeldBy(input.HolderParticipantID) {
			return storage.ErrNotHolder
		}

		var witnesses []string
		if !input.Hidden {
			members, err := listSceneMembersExec(ctx, tx, held.SceneID)
			if err != nil {
				return err
			}
			for _, member := range members {
				witnesses = append(witnesses, member.CharacterID)
			}
			witnesses = post.NormalizeWitnesses(witnesses)
		}

		record := post.Post{
			ID:                  input.PostID,
			SceneID:             held.SceneID,
			CharacterID:         held.CharacterID,
			AuthorParticipantID: input.HolderParticipantID,
			Blocks:              input.Blocks,
			OOCNote:             strings.TrimSpace(input.OOCNote),
			Witnesses:           witnesses,
			Hidden:              input.Hidden,
		}
		if err := insertPostExec(ctx, tx, &record, input.Now); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM compose_locks WHERE id = ?`, held.ID); err != nil {
			return fmt.Errorf("consume lock: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
	UPDATE scene_members SET pass_state = 'none'
	WHERE scene_id = ? AND character_id = ? AND pass_state = 'passed'
	`, held.SceneID, held.CharacterID)
		if err != nil {
			return fmt.Errorf("reset pass state: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
	DELETE FROM drafts WHERE scene_id = ? AND character_id = ? AND participant_id = ?
	`, held.SceneID, held.CharacterID, input.HolderParticipantID)
		if err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}

		submitted = record
		return nil
	})
	if err != nil {
		return post.Post{}, err
	}
	return submitted, nil
}

// SubmitNarration inserts a moderator narrator post. Narration bypasses the
// lock path and carries no authoring character.
func (s *Store) SubmitNarration(ctx context.Context, input storage.NarrationInput) (post.Post, error) {
	if err := ctx.Err(); err != nil {
		return post.Post{}, err
	}
	if err := s.ready(); err != nil {
		return post.Post{}, err
	}
	input.PostID = strings.TrimSpace(input.PostID)
	input.SceneID = strings.TrimSpace(input.SceneID)
	input.AuthorParticipantID = strings.TrimSpace(input.AuthorParticipantID)
	if input.PostID == "" {
		return post.Post{}, fmt.Errorf("post id is required")
	}
	if input.SceneID == "" || input.AuthorParticipantID == "" {
		return post.Post{}, fmt.Errorf("scene id and author are required")
	}
	if input.Now.IsZero() {
		return post.Post{}, fmt.Errorf("submission time is required")
	}

	var submitted post.Post
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var witnesses []string
		if !input.Hidden {
			members, err := listSceneMembersExec(ctx, tx, input.SceneID)
			if err != nil {
				return err
			}
			for _, member := range members {
				witnesses = append(witnesses, member.CharacterID)
			}
			witnesses = post.NormalizeWitnesses(witnesses)
		}

		record := post.Post{
			ID:                  input.PostID,
			SceneID:             input.SceneID,
			AuthorParticipantID: input.AuthorParticipantID,
			Blocks:              input.Blocks,
			OOCNote:             strings.TrimSpace(input.OOCNote),
			Witnesses:           witnesses,
			Hidden:              input.Hidden,
		}
		if err := insertPostExec(ctx, tx, &record, input.Now); err != nil {
			return err
		}
		submitted = record
		return nil
	})
	if err != nil {
		return post.Post{}, err
	}
	return submitted, nil
}

// insertPostExec assigns the next scene sequence number, locks the preceding
// post, and inserts the record with its witness rows.
func insertPostExec(ctx context.Context, q sqlQuerier, record *post.Post, now time.Time) error {
	at := toMillis(now)

	var nextSeq int64
	err := q.QueryRowContext(ctx, `
	SELECT COALESCE(MAX(seq) + 1, 1) FROM posts WHERE scene_id = ?
	`, record.SceneID).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("next post seq: %w", err)
	}

	_, err = q.ExecContext(ctx, `
	UPDATE posts SET locked = 1, updated_at = ? WHERE scene_id = ? AND locked = 0
	`, at, record.SceneID)
	if err != nil {
		return fmt.Errorf("lock preceding posts: %w", err)
	}

	blocksJSON, err := encodeBlocks(record.Blocks)
	if err != nil {
		return err
	}
	var characterID any
	if record.CharacterID != "" {
		characterID = record.CharacterID
	}

	_, err = q.ExecContext(ctx, `
	INSERT INTO posts (`+postColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`,
		record.ID,
		record.SceneID,
		characterID,
		record.AuthorParticipantID,
		blocksJSON,
		record.OOCNote,
		boolToInt(record.Hidden),
		nextSeq,
		at,
		at,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		if isForeignKeyConstraintError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("insert post: %w", err)
	}

	for _, witness := range record.Witnesses {
		_, err := q.ExecContext(ctx, `
	INSERT INTO post_witnesses (post_id, character_id) VALUES (?, ?)
	`, record.ID, witness)
		if err != nil {
			return fmt.Errorf("insert post witness: %w", err)
		}
	}

	record.Seq = nextSeq
	record.CreatedAt = now.UTC()
	record.UpdatedAt = now.UTC()
	return nil
}

// GetPost loads one post with its witness set.
func (s *Store) GetPost(ctx context.Context, postID string) (post.Post, error) {
	if err := ctx.Err(); err != nil {
		return post.Post{}, err
	}
	if err := s.ready(); err != nil {
		return post.Post{}, err
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return post.Post{}, fmt.Errorf("post id is required")
	}
	return getPostExec(ctx, s.sqlDB, postID)
}

func getPostExec(ctx context.Context, q sqlQuerier, postID string) (post.Post, error) {
	row := q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, postID)
	record, err := scanPost(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return post.Post{}, storage.ErrNotFound
		}
		return post.Post{}, fmt.Errorf("get post: %w", err)
	}

	witnesses, err := listPostWitnessesExec(ctx, q, postID)
	if err != nil {
		return post.Post{}, err
	}
	record.Witnesses = witnesses
	return record, nil
}

func listPostWitnessesExec(ctx context.Context, q sqlQuerier, postID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT character_id FROM post_witnesses WHERE post_id = ? ORDER BY character_id ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post witnesses: %w", err)
	}
	defer rows.Close()

	var witnesses []string
	for rows.Next() {
		var characterID string
		if err := rows.Scan(&characterID); err != nil {
			return nil, fmt.Errorf("scan post witness row: %w", err)
		}
		witnesses = append(witnesses, characterID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post witness rows: %w", err)
	}
	return witnesses, nil
}

// ListPostsByScene lists a scene's posts in sequence order, witnesses
// included.
func (s *Store) ListPostsByScene(ctx context.Context, sceneID string) ([]post.Post, error) {
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

	rows, err := s.sqlDB.QueryContext(ctx, `
	SELECT `+postColumns+` FROM posts WHERE scene_id = ? ORDER BY seq ASC
	`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	var results []post.Post
	for rows.Next() {
		record, scanErr := scanPost(rows.Scan)
		if scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("scan post row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate post rows: %w", err)
	}
	rows.Close()

	for i := range results {
		witnesses, err := listPostWitnessesExec(ctx, s.sqlDB, results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].Witnesses = witnesses
	}
	return results, nil
}

// CorrectWitnesses replaces a post's witness set, recording the audit entry
// in the same transaction. The replacement set must come from the current
// scene roster.
func (s *Store) CorrectWitnesses(ctx context.Context, input storage.CorrectionInput) (post.Post, error) {
	if err := ctx.Err(); err != nil {
		return post.Post{}, err
	}
	if err := s.ready(); err != nil {
		return post.Post{}, err
	}
	input.AuditID = strings.TrimSpace(input.AuditID)
	input.PostID = strings.TrimSpace(input.PostID)
	input.ActorParticipantID = strings.TrimSpace(input.ActorParticipantID)
	if input.AuditID == "" || input.PostID == "" {
		return post.Post{}, fmt.Errorf("audit id and post id are required")
	}
	if input.ActorParticipantID == "" {
		return post.Post{}, fmt.Errorf("acting participant is required")
	}
	if input.Now.IsZero() {
		return post.Post{}, fmt.Errorf("correction time is required")
	}

	var corrected post.Post
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		record, err := getPostExec(ctx, tx, input.PostID)
		if err != nil {
			return err
		}

		// The witness set freezes at submission; only the campaign moderator
		// may change it, and this guard holds even if a caller skips its own
		// role check.
		var moderatorID string
		err = tx.QueryRowContext(ctx, `
	SELECT c.moderator_participant_id
	FROM campaigns c
	JOIN scenes s ON s.campaign_id = c.id
	WHERE s.id = ?
	`, record.SceneID).Scan(&moderatorID)
		if err != nil {
			return fmt.Errorf("resolve campaign moderator: %w", err)
		}
		if input.ActorParticipantID != moderatorID {
			return storage.ErrWitnessFrozen
		}

		members, err := listSceneMembersExec(ctx, tx, record.SceneID)
		if err != nil {
			return err
		}
		roster := make([]string, 0, len(members))
		for _, member := range members {
			roster = append(roster, member.CharacterID)
		}

		next := post.NormalizeWitnesses(input.NewWitnesses)
		if err := post.ValidateCorrection(next, roster); err != nil {
			return storage.ErrWitnessNotInScene
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM post_witnesses WHERE post_id = ?`, record.ID); err != nil {
			return fmt.Errorf("clear post witnesses: %w", err)
		}
		for _, witness := range next {
			_, err := tx.ExecContext(ctx, `
	INSERT INTO post_witnesses (post_id, character_id) VALUES (?, ?)
	`, record.ID, witness)
			if err != nil {
				return fmt.Errorf("insert post witness: %w", err)
			}
		}

		previousJSON, err := marshalJSON(record.Witnesses)
		if err != nil {
			return err
		}
		nextJSON, err := marshalJSON(next)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
	INSERT INTO witness_audits (id, post_id, actor_participant_id, previous_json, next_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, input.AuditID, record.ID, input.ActorParticipantID, previousJSON, nextJSON, toMillis(input.Now))
		if err != nil {
			return fmt.Errorf("insert witness audit: %w", err)
		}

		// A hidden post granted a non-empty witness set is revealed.
		hidden := record.Hidden && len(next) == 0
		_, err = tx.ExecContext(ctx, `UPDATE posts SET hidden = ?, updated_at = ? WHERE id = ?`,
			boolToInt(hidden), toMillis(input.Now), record.ID)
		if err != nil {
			return fmt.Errorf("stamp post update: %w", err)
		}

		record.Witnesses = next
		record.Hidden = hidden
		record.UpdatedAt = input.Now.UTC()
		corrected = record
		return nil
	})
	if err != nil {
		return post.Post{}, err
	}
	return corrected, nil
}

// ListWitnessAudits lists a post's correction history, oldest first.
func (s *Store) ListWitnessAudits(ctx context.Context, postID string) ([]post.WitnessAudit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, fmt.Errorf("post id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
	SELECT id, post_id, actor_participant_id, previous_json, next_json, created_at
	FROM witness_audits
	WHERE post_id = ?
	ORDER BY created_at ASC, id ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list witness audits: %w", err)
	}
	defer rows.Close()

	var results []post.WitnessAudit
	for rows.Next() {
		var audit post.WitnessAudit
		var previousJSON, nextJSON string
		var createdAt int64
		if err := rows.Scan(&audit.ID, &audit.PostID, &audit.ActorParticipantID, &previousJSON, &nextJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan witness audit row: %w", err)
		}
		if err := json.Unmarshal([]byte(previousJSON), &audit.Previous); err != nil {
			return nil, fmt.Errorf("unmarshal previous witnesses: %w", err)
		}
		if err := json.Unmarshal([]byte(nextJSON), &audit.Next); err != nil {
			return nil, fmt.Errorf("unmarshal next witnesses: %w", err)
		}
		audit.CreatedAt = fromMillis(createdAt)
		results = append(results, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate witness audit rows: %w", err)
	}
	return results, nil
}

// ListWitnessedSceneIDs returns ids of non-archived scenes in the campaign
// holding at least one post witnessed by any of the given characters.
func (s *Store) ListWitnessedSceneIDs(ctx context.Context, campaignID string, characterIDs []string) ([]string, error) {
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
	if len(characterIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(characterIDs))
	placeholders = strings.TrimSuffix(placeholders, ", ")
	args := []any{campaignID}
	for _, characterID := range characterIDs {
		args = append(args, characterID)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
	SELECT DISTINCT s.id
	FROM post_witnesses w
	JOIN posts p ON p.id = w.post_id
	JOIN scenes s ON s.id = p.scene_id
	WHERE s.campaign_id = ? AND s.archived = 0 AND w.character_id IN (`+placeholders+`)
	ORDER BY s.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list witnessed scenes: %w", err)
	}
	defer rows.Close()

	var sceneIDs []string
	for rows.Next() {
		var sceneID string
		if err := rows.Scan(&sceneID); err != nil {
			return nil, fmt.Errorf("scan witnessed scene row: %w", err)
		}
		sceneIDs = append(sceneIDs, sceneID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate witnessed scene rows: %w", err)
	}
	return sceneIDs, nil
}

func scanPost(scan scanner) (post.Post, error) {
	var record post.Post
	var characterID sql.NullString
	var blocksJSON string
	var hidden, locked int
	var createdAt, updatedAt int64
	if err := scan(
		&record.ID,
		&record.SceneID,
		&characterID,
		&record.AuthorParticipantID,
		&blocksJSON,
		&record.OOCNote,
		&hidden,
		&locked,
		&record.Seq,
		&createdAt,
		&updatedAt,
	); err != nil {
		return post.Post{}, err
	}
	record.CharacterID = characterID.String
	blocks, err := decodeBlocks(blocksJSON)
	if err != nil {
		return post.Post{}, err
	}
	record.Blocks = blocks
	record.Hidden = hidden != 0
	record.Locked = locked != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
