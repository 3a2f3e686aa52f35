package store

import (
	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/models"
)

// SnapshotTable names one of the two network stats tables.
type SnapshotTable string

// The two snapshot tables.
const (
	NodeStatsTable        SnapshotTable = "network_node_stats"
	UtilizationStatsTable SnapshotTable = "network_utilization_stats"
)

// SnapshotExistsWithin reports whether the given table already holds a
// snapshot within toleranceSeconds of the given timestamp. The collector
// uses it to dedupe snapshots at one-hour tolerance.
func (s *Store) SnapshotExistsWithin(table SnapshotTable, timestamp, toleranceSeconds int64) (bool, error) {
	var count int64
	err := s.db.Table(string(table)).
		Where("`timestamp` BETWEEN ? AND ?", timestamp-toleranceSeconds, timestamp+toleranceSeconds).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(err, "could not probe %s for existing snapshot", table)
	}
	return count > 0, nil
}

// InsertNodeStats stores one fleet tier snapshot.
func (s *Store) InsertNodeStats(snapshot *models.NetworkNodeStats) error {
	err := s.db.Create(snapshot).Error
	if err != nil {
		return errors.Wrap(err, "could not insert node stats snapshot")
	}
	return nil
}

// InsertUtilizationStats stores one utilization snapshot.
func (s *Store) InsertUtilizationStats(snapshot *models.NetworkUtilizationStats) error {
	err := s.db.Create(snapshot).Error
	if err != nil {
		return errors.Wrap(err, "could not insert utilization stats snapshot")
	}
	return nil
}

// LatestNodeStats returns the most recent fleet tier snapshot, or nil when
// none has been collected yet.
func (s *Store) LatestNodeStats() (*models.NetworkNodeStats, error) {
	snapshot := &models.NetworkNodeStats{}
	result := s.db.Order("`timestamp` DESC").First(snapshot)
	if result.RecordNotFound() {
		return nil, nil
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "could not read latest node stats")
	}
	return snapshot, nil
}

// LatestUtilizationStats returns the most recent utilization snapshot, or
// nil when none has been collected yet.
func (s *Store) LatestUtilizationStats() (*models.NetworkUtilizationStats, error) {
	snapshot := &models.NetworkUtilizationStats{}
	result := s.db.Order("`timestamp` DESC").First(snapshot)
	if result.RecordNotFound() {
		return nil, nil
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "could not read latest utilization stats")
	}
	return snapshot, nil
}
