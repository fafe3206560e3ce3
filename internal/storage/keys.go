package storage

import "strings"

// Versioned keys have the form {purpose}_{version}_{discriminator}. Bumping
// the version segment lets callers change a value's layout without having to
// migrate old entries in place; stale versions are swept by CleanupLegacy.

// Key builds a versioned storage key.
func Key(purpose, version, discriminator string) string {
	if discriminator == "" {
		return purpose + "_" + version
	}
	return purpose + "_" + version + "_" + discriminator
}

// CleanupLegacy removes every key that shares purpose but not the current
// version, including unversioned keys equal to the bare purpose. Returns the
// number of keys removed.
func CleanupLegacy(s Store, purpose, currentVersion string) (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}

	keep := purpose + "_" + currentVersion
	removed := 0
	for _, k := range keys {
		if k != purpose && !strings.HasPrefix(k, purpose+"_") {
			continue
		}
		if k == keep || strings.HasPrefix(k, keep+"_") {
			continue
		}
		if err := s.Remove(k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
