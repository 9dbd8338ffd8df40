// Package post defines submitted narrative entries and their witness sets.
package post

import (
	"sort"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
)

// BlockKind identifies one structured content block type.
type BlockKind string

const (
	// BlockProse is narrative text.
	BlockProse BlockKind = "prose"
	// BlockDialogue is spoken dialogue.
	BlockDialogue BlockKind = "dialogue"
	// BlockAction is a described physical action.
	BlockAction BlockKind = "action"
)

// Block is one structured content block within a post.
type Block struct {
	Kind BlockKind
	Body string
}

// Post is one submitted narrative entry. Its witness set is assigned exactly
// once at submission; only a moderator correction may change it afterwards.
type Post struct {
	ID      string
	SceneID string
	// CharacterID is empty for narrator posts.
	CharacterID         string
	AuthorParticipantID string
	Blocks              []Block
	OOCNote             string
	// Witnesses lists the character ids that perceived the post, sorted.
	Witnesses []string
	Hidden    bool
	// Locked turns true once any later post exists in the same scene.
	Locked bool
	// Seq orders posts within a scene, starting at 1.
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WitnessedBy reports whether the character perceived the post.
func (p Post) WitnessedBy(characterID string) bool {
	for _, witness := range p.Witnesses {
		if witness == characterID {
			return true
		}
	}
	return false
}

// ValidateContent checks submitted blocks against the campaign content limit.
func ValidateContent(blocks []Block, contentLimit int) error {
	total := 0
	hasBody := false
	for _, block := range blocks {
		body := strings.TrimSpace(block.Body)
		if body != "" {
			hasBody = true
		}
		total += len(block.Body)
	}
	if !hasBody {
		return platformerrors.New(platformerrors.CodeEmptyContent, "post requires at least one content block")
	}
	if contentLimit > 0 && total > contentLimit {
		return platformerrors.WithMetadata(platformerrors.CodeContentTooLong, "post content exceeds campaign limit", map[string]string{
			"limit": strconv.Itoa(contentLimit),
		})
	}
	return nil
}

// NormalizeWitnesses trims, dedupes, and sorts a witness set.
func NormalizeWitnesses(witnesses []string) []string {
	seen := make(map[string]struct{}, len(witnesses))
	normalized := make([]string, 0, len(witnesses))
	for _, witness := range witnesses {
		witness = strings.TrimSpace(witness)
		if witness == "" {
			continue
		}
		if _, dup := seen[witness]; dup {
			continue
		}
		seen[witness] = struct{}{}
		normalized = append(normalized, witness)
	}
	sort.Strings(normalized)
	return normalized
}

// ValidateCorrection guards the one allowed witness-set mutation: a moderator
// replacing the set with identifiers drawn from the current scene roster.
func ValidateCorrection(newWitnesses []string, roster []string) error {
	onRoster := make(map[string]struct{}, len(roster))
	for _, characterID := range roster {
		onRoster[characterID] = struct{}{}
	}
	for _, witness := range newWitnesses {
		if _, ok := onRoster[witness]; !ok {
			return platformerrors.WithMetadata(platformerrors.CodeWitnessNotInScene, "witness is not on the scene roster", map[string]string{
				"character_id": witness,
			})
		}
	}
	return nil
}

// WitnessAudit records one moderator witness correction.
type WitnessAudit struct {
	ID                 string
	PostID             string
	ActorParticipantID string
	Previous           []string
	Next               []string
	CreatedAt          time.Time
}

