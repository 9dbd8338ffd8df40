package post

import (
	"errors"
	"strings"
	"testing"

	platformerrors "github.com/lorebound/lorebound/internal/platform/errors"
)

func TestValidateContent(t *testing.T) {
	t.Parallel()

	blocks := []Block{
		{Kind: BlockProse, Body: "The docks creak under the tide."},
		{Kind: BlockDialogue, Body: "\"Anyone there?\""},
	}
	if err := ValidateContent(blocks, 1000); err != nil {
		t.Fatalf("expected valid content, got %v", err)
	}
}

func TestValidateContentEmpty(t *testing.T) {
	t.Parallel()

	err := ValidateContent(nil, 1000)
	if !errors.Is(err, platformerrors.New(platformerrors.CodeEmptyContent, "")) {
		t.Fatalf("expected EMPTY_CONTENT, got %v", err)
	}

	err = ValidateContent([]Block{{Kind: BlockProse, Body: "   "}}, 1000)
	if !errors.Is(err, platformerrors.New(platformerrors.CodeEmptyContent, "")) {
		t.Fatalf("expected EMPTY_CONTENT for whitespace-only blocks, got %v", err)
	}
}

func TestValidateContentTooLong(t *testing.T) {
	t.Parallel()

	blocks := []Block{{Kind: BlockProse, Body: strings.Repeat("a", 101)}}
	err := ValidateContent(blocks, 100)
	if !errors.Is(err, platformerrors.New(platformerrors.CodeContentTooLong, "")) {
		t.Fatalf("expected CONTENT_TOO_LONG, got %v", err)
	}
	if err := ValidateContent([]Block{{Kind: BlockProse, Body: strings.Repeat("a", 100)}}, 100); err != nil {
		t.Fatalf("expected content at the limit to pass, got %v", err)
	}
}

func TestNormalizeWitnesses(t *testing.T) {
	t.Parallel()

	normalized := NormalizeWitnesses([]string{" character-b ", "character-a", "character-b", "", "character-a"})
	if len(normalized) != 2 || normalized[0] != "character-a" || normalized[1] != "character-b" {
		t.Fatalf("unexpected normalized witnesses %v", normalized)
	}
	if got := NormalizeWitnesses(nil); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestValidateCorrection(t *testing.T) {
	t.Parallel()

	roster := []string{"character-a", "character-b"}
	if err := ValidateCorrection([]string{"character-a"}, roster); err != nil {
		t.Fatalf("expected on-roster correction to pass, got %v", err)
	}
	if err := ValidateCorrection(nil, roster); err != nil {
		t.Fatalf("expected empty correction to pass, got %v", err)
	}

	err := ValidateCorrection([]string{"character-c"}, roster)
	if !errors.Is(err, platformerrors.New(platformerrors.CodeWitnessNotInScene, "")) {
		t.Fatalf("expected WITNESS_NOT_IN_SCENE, got %v", err)
	}
}

func TestWitnessedBy(t *testing.T) {
	t.Parallel()

	entry := Post{Witnesses: []string{"character-a", "character-b"}}
	if !entry.WitnessedBy("character-a") {
		t.Fatal("expected character-a to be a witness")
	}
	if entry.WitnessedBy("character-c") {
		t.Fatal("expected character-c not to be a witness")
	}
}
