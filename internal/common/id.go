package common

import (
	"github.com/google/uuid"
)

// NewRunID generates the identifier attached to a report and its log lines
func NewRunID() string {
	return uuid.New().String()
}
