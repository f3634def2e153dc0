// Package services defines the business logic for conversations, the
// message pipeline, and property search. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Conversation- and pipeline-related errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationConflict is returned when a conversation write lost the
	// optimistic version race twice in a row and was abandoned.
	ErrConversationConflict = errors.New("conversation modified concurrently")

	// ErrEmptyMessage is returned when a send-message request contains an
	// empty message body.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a send-message request exceeds the
	// maximum configured length limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrNotRelevant is returned when the relevance gate decides a message is
	// outside the real-estate domain. The conversation is left untouched.
	ErrNotRelevant = errors.New("message not applicable to real estate")

	// ErrExtractionFailed is returned when the extraction stage's collaborator
	// was unavailable or produced an undecodable payload.
	ErrExtractionFailed = errors.New("entity extraction failed")

	// ErrRecommendationFailed is returned when the recommendation stage's
	// collaborator failed with candidates on the table.
	ErrRecommendationFailed = errors.New("recommendation failed")

	// ErrCandidateQueryFailed is returned when the candidate catalog query
	// could not be executed.
	ErrCandidateQueryFailed = errors.New("candidate query failed")

	// ErrTurnNotSaved is returned when the final document write failed for a
	// reason other than a version conflict.
	ErrTurnNotSaved = errors.New("conversation turn not saved")

	// ErrPropertyNotFound indicates that the requested property does not exist.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrInvalidStatus is returned when a status transition names a value
	// outside the allowed set.
	ErrInvalidStatus = errors.New("invalid conversation status")
)
