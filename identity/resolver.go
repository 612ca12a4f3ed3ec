// Package identity resolves opaque credentials to user identities and tiers.
// Resolution is a pure lookup over the current configuration snapshot: no
// I/O, no locking beyond the snapshot pointer read performed by the caller.
package identity

import (
	"strings"

	"github.com/byteness/throttle/errors"
)

// Credential length bounds. Credentials outside these bounds are rejected
// before any lookup or store access.
const (
	MinCredentialLength = 8
	MaxCredentialLength = 128
)

// Directory is the read-only view of credential and user mappings that a
// configuration snapshot provides.
type Directory interface {
	// UserForCredential returns the user id mapped to the credential.
	UserForCredential(credential string) (userID string, ok bool)

	// TierForUser returns the tier name assigned to the user.
	TierForUser(userID string) (tier string, ok bool)
}

// Identity is a resolved credential: the user it belongs to and their tier.
type Identity struct {
	UserID string
	Tier   string
}

// ValidFormat reports whether a credential satisfies the format rule:
// non-empty after trimming, length 8-128, printable ASCII.
func ValidFormat(credential string) bool {
	if len(credential) < MinCredentialLength || len(credential) > MaxCredentialLength {
		return false
	}
	for i := 0; i < len(credential); i++ {
		c := credential[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// Resolve maps a credential string to an identity using the given directory.
// Format violations short-circuit to KindInvalidCredential without touching
// the directory. A resolved user always maps to an existing tier; a missing
// tier indicates a corrupted snapshot and is surfaced as KindInternal.
func Resolve(dir Directory, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, errors.New(errors.KindInvalidCredential, "missing credential")
	}
	if !ValidFormat(credential) {
		return Identity{}, errors.New(errors.KindInvalidCredential, "malformed credential")
	}

	userID, ok := dir.UserForCredential(credential)
	if !ok {
		return Identity{}, errors.New(errors.KindInvalidCredential, "unknown credential")
	}

	tier, ok := dir.TierForUser(userID)
	if !ok {
		// The config loader guarantees every credential maps to a user with
		// a valid tier, so this is a snapshot consistency failure.
		return Identity{}, errors.Newf(errors.KindInternal, "user %q has no tier", userID)
	}

	return Identity{UserID: userID, Tier: tier}, nil
}
