package storage

import (
	"fmt"
	"slices"
)

// AddHistory prepends item and trims the ledger to the current
// maxHistoryItems, both under the store lock. It returns the new length.
func (s *Store) AddHistory(item HistoryItem) (int, error) {
	if item.ID == "" {
		return 0, invalid(fmt.Errorf("%w: history item id must not be empty", ErrInvalidValue))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.ContainsFunc(s.st.History, func(h HistoryItem) bool { return h.ID == item.ID }) {
		return 0, invalid(fmt.Errorf("%w: history item %q", ErrDuplicateID, item.ID))
	}

	next := s.st
	items := make([]HistoryItem, 0, len(s.st.History)+1)
	items = append(items, item.clone())
	items = append(items, s.st.History...)
	if len(items) > next.MaxHistoryItems {
		items = items[:next.MaxHistoryItems]
	}
	next.History = items

	if err := s.commitLocked(next, KeyHistory); err != nil {
		return 0, err
	}
	return len(items), nil
}

// History returns the ledger, most recent first.
func (s *Store) History() []HistoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.st.History)
}

// RemoveHistory deletes the entry with id, if present, and returns whether
// one was removed along with the remaining length.
func (s *Store) RemoveHistory(id string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.st.History, func(h HistoryItem) bool { return h.ID == id })
	if idx < 0 {
		return false, len(s.st.History), nil
	}

	next := s.st
	next.History = slices.Delete(slices.Clone(s.st.History), idx, idx+1)
	if err := s.commitLocked(next, KeyHistory); err != nil {
		return false, len(s.st.History), err
	}
	return true, len(next.History), nil
}

// ClearHistory empties the ledger.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st
	next.History = []HistoryItem{}
	return s.commitLocked(next, KeyHistory)
}

// CustomModels returns user-added models.
func (s *Store) CustomModels() []ModelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneModels(s.st.CustomModels)
}

// AddCustomModel appends m to the custom model set. Ids are unique.
func (s *Store) AddCustomModel(m ModelInfo) error {
	if err := checkModels([]ModelInfo{m}); err != nil {
		return invalid(fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.ContainsFunc(s.st.CustomModels, func(c ModelInfo) bool { return c.ID == m.ID }) {
		return invalid(fmt.Errorf("%w: model %q", ErrDuplicateID, m.ID))
	}

	next := s.st
	next.CustomModels = append(cloneModels(s.st.CustomModels), m.clone())
	return s.commitLocked(next, KeyCustomModels)
}

// RemoveCustomModel drops the model with id and reports whether it existed.
func (s *Store) RemoveCustomModel(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.st.CustomModels, func(c ModelInfo) bool { return c.ID == id })
	if idx < 0 {
		return false, nil
	}

	next := s.st
	next.CustomModels = slices.Delete(cloneModels(s.st.CustomModels), idx, idx+1)
	if err := s.commitLocked(next, KeyCustomModels); err != nil {
		return false, err
	}
	return true, nil
}

// WindowBounds returns the saved window rectangle, or nil.
func (s *Store) WindowBounds() *WindowBounds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePtr(s.st.WindowBounds)
}

// SetWindowBounds saves the window rectangle.
func (s *Store) SetWindowBounds(b WindowBounds) error {
	return s.Set(KeyWindowBounds, b)
}
