// Package services defines the business logic for tracked jobs, collaboration
// groups, and group chat messages. This file centralizes common service-level
// error values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Job-related errors.
var (
	// ErrJobNotFound indicates that the job does not exist or belongs to
	// another user.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidStatus is returned for a job status outside the allowed set.
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidWorkType is returned for a work type outside the allowed set.
	ErrInvalidWorkType = errors.New("invalid work type")

	// ErrInvalidSort is returned when a list is sorted by an unknown field.
	ErrInvalidSort = errors.New("invalid sort field")

	// ErrMissingField is returned when a required job field is blank.
	ErrMissingField = errors.New("company and position are required")

	// ErrMissingSourceURL is returned when a sync request has no source URL.
	ErrMissingSourceURL = errors.New("source url is required")
)

// Group and message errors.
var (
	// ErrGroupNotFound indicates that the requested group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrNotGroupMember is returned when the caller does not belong to the group.
	ErrNotGroupMember = errors.New("not a member of this group")

	// ErrMessageNotFound indicates that the message does not exist, was
	// deleted, or is not visible to the caller.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbiddenMessage is returned when the caller may not modify a message.
	ErrForbiddenMessage = errors.New("cannot modify this message")

	// ErrEmptyContent is returned for a blank message or group name.
	ErrEmptyContent = errors.New("content is empty")

	// ErrTooLong is returned when content exceeds the configured limit.
	ErrTooLong = errors.New("content too long")

	// ErrInvalidReaction is returned for a blank or oversized reaction emoji.
	ErrInvalidReaction = errors.New("invalid reaction")
)
