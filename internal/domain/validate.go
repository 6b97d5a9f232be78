package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"
)

const (
	minUserID = 1
	maxUserID = 100000

	minUsernameLen = 3
	maxUsernameLen = 20

	minTextLen = 1
	maxTextLen = 500
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidateFrame checks a ChatFrame against the five rules spec.md §4.1
// enumerates, in order, returning the first failing reason as a
// human-readable message. A nil error means the frame is well-formed.
func ValidateFrame(f ChatFrame) error {
	if f.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	userID, err := strconv.Atoi(f.UserID)
	if err != nil || userID < minUserID || userID > maxUserID {
		return fmt.Errorf("userId must be an integer between %d and %d", minUserID, maxUserID)
	}

	if len(f.Username) < minUsernameLen || len(f.Username) > maxUsernameLen || !usernamePattern.MatchString(f.Username) {
		return fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}

	if textLen := utf8.RuneCountInString(f.Text); textLen < minTextLen || textLen > maxTextLen {
		return fmt.Errorf("message must be %d-%d characters", minTextLen, maxTextLen)
	}

	if _, err := time.Parse(time.RFC3339, f.ClientTimestamp); err != nil {
		return fmt.Errorf("timestamp must be ISO-8601")
	}

	if !f.Kind.Valid() {
		return fmt.Errorf("messageType must be one of TEXT, JOIN, LEAVE")
	}

	return nil
}

// ValidRoom reports whether roomID falls within the configured room
// space 1..N.
func ValidRoom(roomID, n int) bool {
	return roomID >= 1 && roomID <= n
}
