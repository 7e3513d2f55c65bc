package domain

import "errors"

var (
	ErrAlreadyQueued      = errors.New("participant already queued or matched")
	ErrNotIdle            = errors.New("participant has an active request")
	ErrNoPendingMatch     = errors.New("participant has no pending match")
	ErrNotOwner           = errors.New("connection does not own participant")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrAdmissionRefused   = errors.New("server at participant capacity")
	ErrThrottled          = errors.New("request throttled")
	ErrAuthorityStopped   = errors.New("authority stopped")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrNoTicket           = errors.New("participant has no ticket")
)
