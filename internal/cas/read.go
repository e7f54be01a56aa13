package cas

import (
	"os"

	"golang.org/x/xerrors"

	"github.com/px-dev/px/internal/canon"
	"github.com/px-dev/px/internal/store"
)

// ReadProfile reads back a previously published profile object's payload.
// Unlike pkg-build/runtime objects, a profile's object blob holds its full
// canonical payload directly (not just a materialization marker), since a
// profile has no filesystem tree of its own.
func ReadProfile(s *store.Store, oid string) (ProfilePayload, error) {
	var payload ProfilePayload
	b, err := os.ReadFile(s.ObjectPath(oid))
	if err != nil {
		return payload, xerrors.Errorf("read_profile(%s): %w", oid, err)
	}
	if err := canon.Decode(b, canon.KindProfile, &payload); err != nil {
		return payload, xerrors.Errorf("read_profile(%s): %w", oid, err)
	}
	return payload, nil
}
