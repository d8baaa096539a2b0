// Package domain contains entities without logic, just meta-data
package domain

import "strings"

const MaxUserIDLen = 64

type UserID string

// ParseUserID trims and validates an identifier handed over by the auth layer.
func ParseUserID(raw string) (UserID, error) {
	s := strings.TrimSpace(raw)
	if len(s) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(s) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(s), nil
}
