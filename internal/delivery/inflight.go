// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package delivery

import (
	"sync"

	"github.com/lukasdietrich/sleet/internal/metrics"
	"github.com/lukasdietrich/sleet/internal/models"
)

// inflightSet holds the ids of groups currently being delivered, so that a slow delivery is
// never picked up twice by consecutive heartbeats.
type inflightSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[int64]struct{})}
}

// claimDue loads groups and claims those not yet in flight. The set stays locked while loading,
// so that a group finished and released in the meantime is never claimed from a stale result.
func (s *inflightSet) claimDue(
	load func() ([]models.OutboundGroupEntity, error),
) ([]models.OutboundGroupEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := load()
	if err != nil {
		return nil, err
	}

	return s.claimLocked(groups), nil
}

// claim returns the groups not yet in flight and adds them to the set.
func (s *inflightSet) claim(groups []models.OutboundGroupEntity) []models.OutboundGroupEntity {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.claimLocked(groups)
}

func (s *inflightSet) claimLocked(groups []models.OutboundGroupEntity) []models.OutboundGroupEntity {
	var claimed []models.OutboundGroupEntity

	for _, group := range groups {
		if _, ok := s.ids[group.ID]; ok {
			continue
		}

		s.ids[group.ID] = struct{}{}
		claimed = append(claimed, group)
	}

	metrics.GroupsInflight.Set(float64(len(s.ids)))
	return claimed
}

func (s *inflightSet) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ids, id)
	metrics.GroupsInflight.Set(float64(len(s.ids)))
}

func (s *inflightSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.ids)
}
