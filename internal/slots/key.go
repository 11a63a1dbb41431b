package slots

import (
	"fmt"
	"strings"

	"qcache/internal/types"
)

// Key identifies one pool entry. An empty UserID is the global owner.
//
// Wire format: "{owner}:{topic}_{difficulty}", owner being the user id or "global".
// The replenishment monitor parses keys back out of keyspace notifications, so
// String and ParseKey are the only producer and consumer of the format.
type Key struct {
	UserID string
	Slot   Slot
}

func NewKey(userID string, s Slot) Key {
	return Key{UserID: userID, Slot: s}
}

// Owner is the owner token written into the key.
func (k Key) Owner() string {
	if k.UserID == "" {
		return types.GlobalOwner
	}
	return k.UserID
}

func (k Key) String() string {
	return k.Owner() + keySeparator + k.Slot.Suffix()
}

// Validate reports whether String would produce a key ParseKey can read back.
func (k Key) Validate() error {
	if strings.Contains(k.UserID, keySeparator) {
		return types.Err(types.ErrInvalidKey, nil, "user id %q contains %q", k.UserID, keySeparator)
	}
	if err := k.Slot.validate(); err != nil {
		return types.Err(types.ErrInvalidKey, err, "")
	}
	return nil
}

// ParseKey splits once on ":" and once on "_". Keys whose suffix is not a
// registered slot are rejected, which filters unrelated store activity.
func ParseKey(s string, r *Registry) (Key, error) {
	owner, rest, ok := strings.Cut(s, keySeparator)
	if !ok || owner == "" {
		return Key{}, fmt.Errorf("%w: %q has no owner", types.ErrInvalidKey, s)
	}
	if strings.Count(rest, slotSeparator) != 1 {
		return Key{}, fmt.Errorf("%w: %q is not owner:topic_difficulty", types.ErrInvalidKey, s)
	}
	slot, ok := r.Match(rest)
	if !ok {
		return Key{}, fmt.Errorf("%w: %q is not a registered slot", types.ErrInvalidKey, rest)
	}
	userID := owner
	if owner == types.GlobalOwner {
		userID = ""
	}
	return Key{UserID: userID, Slot: slot}, nil
}
