package storage

import "fmt"

// LatestSchemaVersion is the schema version this build writes.
const LatestSchemaVersion = 1

// migration moves the state from version from to from+1. touched lists
// the keys apply may change; they are persisted before the version bump.
type migration struct {
	from    int
	apply   func(st *State)
	touched []Key
}

var migrations = []migration{
	// 0 -> 1: initial versioned layout, no data change.
	{from: 0, apply: func(*State) {}},
}

// Migrate brings the store up to LatestSchemaVersion, one step at a time
// in ascending order, and returns how many steps ran. Running it on an
// up-to-date store is a no-op. A persisted version newer than this build
// understands is ErrFutureSchema.
func Migrate(s *Store) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.st.SchemaVersion
	if current > LatestSchemaVersion {
		return 0, fmt.Errorf("%w: store is at %d, this build supports up to %d",
			ErrFutureSchema, current, LatestSchemaVersion)
	}

	applied := 0
	for _, m := range migrations {
		if m.from < current {
			continue
		}
		if m.from != current {
			return applied, fmt.Errorf("no migration from schema version %d", current)
		}

		next := s.st.clone()
		m.apply(&next)
		next.SchemaVersion = m.from + 1
		keys := append(append([]Key{}, m.touched...), KeySchemaVersion)
		if err := s.commitLocked(next, keys...); err != nil {
			return applied, fmt.Errorf("migrating %d -> %d: %w", m.from, m.from+1, err)
		}
		s.log.Info("store schema migrated", "from", m.from, "to", next.SchemaVersion)

		current = next.SchemaVersion
		applied++
	}
	return applied, nil
}
