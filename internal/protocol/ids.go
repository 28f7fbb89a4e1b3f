package protocol

import "github.com/google/uuid"

type TargetID string
type SessionID string

func NewTargetID() TargetID {
	return TargetID(uuid.New().String())
}

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}
