package memory

import (
	"fmt"
	"sort"
	"sync"
)

// TierStore holds the active, working and long_term collections. One lock
// guards all three so a move between tiers is never observed half done.
// Segments handed out are copies; the stored objects never leave the store.
type TierStore struct {
	mu    sync.RWMutex
	tiers map[Tier]map[string]*Segment
}

func NewTierStore() *TierStore {
	s := &TierStore{tiers: make(map[Tier]map[string]*Segment, len(tierOrder))}
	for _, t := range tierOrder {
		s.tiers[t] = make(map[string]*Segment)
	}
	return s
}

// Store inserts or overwrites seg by id in tier.
func (s *TierStore) Store(tier Tier, seg *Segment) (string, error) {
	if !tier.valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[tier][seg.ID] = seg.clone()
	return seg.ID, nil
}

// Fetch returns a copy of the segment and counts the read as an access.
// A miss, including an unknown tier, returns false.
func (s *TierStore) Fetch(tier Tier, id string) (*Segment, bool) {
	if !tier.valid() {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.tiers[tier][id]
	if !ok {
		return nil, false
	}
	seg.AccessCount++
	return seg.clone(), true
}

// Peek is Fetch without the access side effect.
func (s *TierStore) Peek(tier Tier, id string) (*Segment, bool) {
	if !tier.valid() {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.tiers[tier][id]
	if !ok {
		return nil, false
	}
	return seg.clone(), true
}

// Remove deletes id from tier and reports whether anything was deleted.
func (s *TierStore) Remove(tier Tier, id string) bool {
	if !tier.valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tiers[tier][id]; !ok {
		return false
	}
	delete(s.tiers[tier], id)
	return true
}

// ListAll returns copies of every segment in tier ordered by creation time, then id.
func (s *TierStore) ListAll(tier Tier) []*Segment {
	if !tier.valid() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(tier)
}

func (s *TierStore) listLocked(tier Tier) []*Segment {
	out := make([]*Segment, 0, len(s.tiers[tier]))
	for _, seg := range s.tiers[tier] {
		out = append(out, seg.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListEvery returns copies of all tiers taken under one read lock, in scan order.
func (s *TierStore) ListEvery() []*Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Segment
	for _, t := range tierOrder {
		out = append(out, s.listLocked(t)...)
	}
	return out
}

// Usage returns per-tier counts.
func (s *TierStore) Usage() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := Usage{
		Active:   len(s.tiers[TierActive]),
		Working:  len(s.tiers[TierWorking]),
		LongTerm: len(s.tiers[TierLongTerm]),
	}
	u.Total = u.Active + u.Working + u.LongTerm
	return u
}

// SizeOf returns the aggregate content length of tier.
func (s *TierStore) SizeOf(tier Tier) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, seg := range s.tiers[tier] {
		total += seg.Size()
	}
	return total
}

// Move transfers id from one tier to another, keeping the stored object
// with its score and access count.
func (s *TierStore) Move(from, to Tier, id string) bool {
	if !from.valid() || !to.valid() || from == to {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.tiers[from][id]
	if !ok {
		return false
	}
	delete(s.tiers[from], id)
	s.tiers[to][id] = seg
	return true
}

// Update runs fn against the stored segment under the write lock.
func (s *TierStore) Update(tier Tier, id string, fn func(seg *Segment) error) (bool, error) {
	if !tier.valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.tiers[tier][id]
	if !ok {
		return false, nil
	}
	if err := fn(seg); err != nil {
		return true, err
	}
	return true, nil
}

// ApplyScores writes relevance scores produced by a retrieval pass onto the
// stored segments and returns how many changed. Ids that left the store
// since the snapshot are skipped.
func (s *TierStore) ApplyScores(scores map[string]float64) int {
	if len(scores) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for id, score := range scores {
		for _, t := range tierOrder {
			if seg, ok := s.tiers[t][id]; ok {
				if seg.RelevanceScore != score {
					seg.RelevanceScore = score
					changed++
				}
				break
			}
		}
	}
	return changed
}
