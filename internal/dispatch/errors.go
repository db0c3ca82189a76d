package dispatch

import (
	"errors"

	"github.com/josuerivera300891-prog/GymTime-sub001/internal/credential"
)

var (
	// ErrConfigurationMissing marks messages failed because the tenant or the
	// process lacks a usable channel configuration.
	ErrConfigurationMissing = credential.ErrConfigurationMissing

	// ErrNoRecipientTarget marks messages that had nobody to deliver to.
	ErrNoRecipientTarget = errors.New("no recipient target")

	ErrInvalidPayload = errors.New("invalid payload")
)
