// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package system

import (
	"vidtty/pkg/log"

	"github.com/shirou/gopsutil/v3/mem"
)

type ramFunc func() (*mem.VirtualMemoryStat, error)

// System .
type System struct {
	ram ramFunc
	log *log.Logger
}

// New returns new System.
func New(log *log.Logger) *System {
	return &System{
		ram: mem.VirtualMemory,
		log: log,
	}
}

// Audio spill limits.
const (
	megabyte = 1000 * 1000

	// Used when available memory cannot be read.
	DefaultSpillLimit = 64 * megabyte
	MinSpillLimit     = 1 * megabyte
)

// SpillLimit returns the number of bytes of encoded audio that may be
// buffered in memory. If configured is zero the limit is a quarter of
// the available memory.
func (s *System) SpillLimit(configured int64) int64 {
	if configured > 0 {
		return configured
	}

	ram, err := s.ram()
	if err != nil {
		s.log.Warn().Src("app").Msgf("could not get available memory: %v", err)
		return DefaultSpillLimit
	}

	limit := int64(ram.Available / 4)
	if limit < MinSpillLimit {
		return MinSpillLimit
	}
	return limit
}
