package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/normalize"
)

// Separator joins the two participant ids into a channel id. Identifiers
// containing it are rejected by ValidateUserID so the id stays parseable.
const Separator = "#"

// ErrInvalidUserID is returned for participant ids that cannot name a channel.
var ErrInvalidUserID = errors.New("invalid user id")

// ChannelID derives the deterministic id of the direct channel between two
// users. Pure and symmetric: ChannelID(a, b) == ChannelID(b, a), and distinct
// pairs always map to distinct ids.
func ChannelID(a, b string) string {
	a = normalize.UserID(a)
	b = normalize.UserID(b)
	if a > b {
		a, b = b, a
	}
	return a + Separator + b
}

// SplitChannelID recovers the sorted participant pair from a channel id.
func SplitChannelID(channelID string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(channelID, Separator)
	if !ok || a == "" || b == "" || strings.Contains(b, Separator) {
		return "", "", false
	}
	return a, b, true
}

// ValidateUserID rejects identifiers that are empty, carry the channel id
// separator, or are unreasonably long.
func ValidateUserID(id string) error {
	id = normalize.UserID(id)
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidUserID, id, Separator)
	}
	if len(id) > 128 {
		return fmt.Errorf("%w: longer than 128 bytes", ErrInvalidUserID)
	}
	return nil
}

// ValidatePair checks both participants of a prospective channel.
func ValidatePair(a, b string) error {
	if err := ValidateUserID(a); err != nil {
		return err
	}
	if err := ValidateUserID(b); err != nil {
		return err
	}
	if normalize.UserID(a) == normalize.UserID(b) {
		return fmt.Errorf("%w: a channel needs two distinct participants", ErrInvalidUserID)
	}
	return nil
}
