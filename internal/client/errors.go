package client

import (
	"errors"
	"fmt"
)

// Class tells the dispatcher what a failed delivery means for the recipient.
type Class string

const (
	// ClassPermanentRecipientInvalid means the address or subscription will
	// never accept a delivery again.
	ClassPermanentRecipientInvalid Class = "permanent_recipient_invalid"
	// ClassOther covers transient, provider and unknown failures.
	ClassOther Class = "other"
)

type DeliveryError struct {
	Class      Class
	StatusCode int
	Message    string
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("status %d", e.StatusCode)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Classify returns the class of err, ClassOther for unclassified errors.
func Classify(err error) Class {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Class
	}
	return ClassOther
}

func IsPermanent(err error) bool {
	return err != nil && Classify(err) == ClassPermanentRecipientInvalid
}
