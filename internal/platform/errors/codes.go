// Package errors provides structured error handling for the game core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Campaign errors
	CodeCampaignNameEmpty Code = "CAMPAIGN_NAME_EMPTY"
	CodeCampaignPaused    Code = "CAMPAIGN_PAUSED"
	CodeCampaignNotFound  Code = "CAMPAIGN_NOT_FOUND"
	CodePhaseMismatch     Code = "PHASE_MISMATCH"
	CodeTimeGateExpired   Code = "TIME_GATE_EXPIRED"
	CodeLocksHeld         Code = "LOCKS_HELD"
	CodeRollsPending      Code = "ROLLS_PENDING"
	CodeModeratorOnly     Code = "MODERATOR_ONLY"
	CodeInvalidPhase      Code = "INVALID_PHASE"

	// Scene errors
	CodeSceneNameEmpty   Code = "SCENE_NAME_EMPTY"
	CodeSceneNotFound    Code = "SCENE_NOT_FOUND"
	CodeSceneArchived    Code = "SCENE_ARCHIVED"
	CodeNotInScene       Code = "NOT_IN_SCENE"
	CodeAlreadyInScene   Code = "ALREADY_IN_SCENE"
	CodeCharacterInScene Code = "CHARACTER_IN_OTHER_SCENE"

	// Character errors
	CodeCharacterNameEmpty   Code = "CHARACTER_NAME_EMPTY"
	CodeCharacterInvalidKind Code = "CHARACTER_INVALID_KIND"
	CodeCharacterNotFound    Code = "CHARACTER_NOT_FOUND"
	CodeCharacterArchived    Code = "CHARACTER_ARCHIVED"
	CodeNotAssigned          Code = "NOT_ASSIGNED"

	// Compose lock errors
	CodeLockHeld    Code = "LOCK_HELD"
	CodeLockNotHeld Code = "LOCK_NOT_HELD"
	CodeNotYourLock Code = "NOT_YOUR_LOCK"
	CodeRateLimited Code = "RATE_LIMITED"

	// Pass state errors
	CodeInvalidPassState Code = "INVALID_PASS_STATE"
	CodeRollPending      Code = "ROLL_PENDING"

	// Post errors
	CodeEmptyContent      Code = "EMPTY_CONTENT"
	CodeContentTooLong    Code = "CONTENT_TOO_LONG"
	CodePostNotFound      Code = "POST_NOT_FOUND"
	CodeWitnessFrozen     Code = "WITNESS_FROZEN"
	CodeWitnessNotInScene Code = "WITNESS_NOT_IN_SCENE"

	// Draft errors
	CodeDraftNotFound Code = "DRAFT_NOT_FOUND"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
	CodeInternal Code = "INTERNAL"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCampaignNameEmpty,
		CodeSceneNameEmpty,
		CodeCharacterNameEmpty,
		CodeCharacterInvalidKind,
		CodeInvalidPassState,
		CodeInvalidPhase,
		CodeEmptyContent,
		CodeContentTooLong:
		return codes.InvalidArgument

	// FailedPrecondition - the request is valid but current state forbids it
	case CodeCampaignPaused,
		CodePhaseMismatch,
		CodeTimeGateExpired,
		CodeLocksHeld,
		CodeRollsPending,
		CodeRollPending,
		CodeSceneArchived,
		CodeCharacterArchived,
		CodeNotInScene,
		CodeAlreadyInScene,
		CodeCharacterInScene,
		CodeLockNotHeld,
		CodeWitnessFrozen,
		CodeWitnessNotInScene:
		return codes.FailedPrecondition

	// PermissionDenied - caller lacks the right to perform the operation
	case CodeNotAssigned,
		CodeNotYourLock,
		CodeModeratorOnly:
		return codes.PermissionDenied

	// ResourceExhausted - throttled callers
	case CodeRateLimited:
		return codes.ResourceExhausted

	// AlreadyExists - uniqueness conflicts, losing an acquire race
	case CodeLockHeld,
		CodeConflict:
		return codes.AlreadyExists

	// NotFound
	case CodeCampaignNotFound,
		CodeSceneNotFound,
		CodeCharacterNotFound,
		CodePostNotFound,
		CodeDraftNotFound,
		CodeNotFound:
		return codes.NotFound

	case CodeInternal:
		return codes.Internal
	}
	return codes.Unknown
}
