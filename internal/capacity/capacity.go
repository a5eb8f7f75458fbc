// Package capacity enforces the 1:1:2 storage allocation policy (C10):
// personal_local : personal_dht : public_dht. Ported from the original
// capacity manager, with a 10% safety margin held back from every
// bucket and warning/rejection thresholds at 80%/100% utilization.
package capacity

import (
	"sync"
	"time"

	"github.com/saorsalabs/communitas/internal/metrics"
)

// Allocation is the byte budget for each bucket, derived from a single
// base unit: personal_local = personal_dht = base, public_dht = 2*base,
// group_shard_allocation = base as a separate bucket with its own usage
// counter, and total_capacity sums only the three named buckets of the
// 1:1:2 ratio (the group shard allocation is not counted in it).
type Allocation struct {
	PersonalLocal        uint64
	PersonalDHT          uint64
	GroupShardAllocation uint64
	PublicDHT            uint64
	TotalCapacity        uint64
}

// NewAllocation builds the 1:1:2 allocation from a single base unit.
func NewAllocation(baseUnit uint64) Allocation {
	return Allocation{
		PersonalLocal:        baseUnit,
		PersonalDHT:          baseUnit,
		GroupShardAllocation: baseUnit,
		PublicDHT:            2 * baseUnit,
		TotalCapacity:        baseUnit + baseUnit + 2*baseUnit,
	}
}

// Usage tracks current bytes consumed per bucket.
type Usage struct {
	PersonalLocal uint64
	PersonalDHT   uint64
	GroupShards   uint64
	PublicDHT     uint64
	LastUpdated   time.Time
}

const safetyMargin = 0.10

const (
	warnThresholdPct   = 80.0
	healthyThresholdPct = 90.0
	lowDHTThresholdPct = 20.0
	criticalDHTPct     = 95.0
	personalRecommendPct = 85.0
	groupRecommendPct   = 85.0
)

// UsageUpdateKind enumerates the mutations accepted by Manager.Update.
type UsageUpdateKind int

const (
	PersonalStored UsageUpdateKind = iota
	GroupShardStored
	DHTDataStored
	PersonalRemoved
	GroupShardRemoved
	DHTDataRemoved
)

// Manager is the capacity gate consulted by the container before it
// admits personal writes, group shards, or DHT traffic from peers.
type Manager struct {
	mu         sync.RWMutex
	allocation Allocation
	usage      Usage
	now        func() time.Time
	metrics    *metrics.Registry
}

func New(allocation Allocation) *Manager {
	return &Manager{allocation: allocation, now: time.Now}
}

// NewWithClock lets tests inject a deterministic clock.
func NewWithClock(allocation Allocation, now func() time.Time) *Manager {
	return &Manager{allocation: allocation, now: now}
}

// SetMetrics attaches a metrics.Registry the manager records admission
// rejections and usage gauges against. Nil (the default) disables
// recording.
func (m *Manager) SetMetrics(reg *metrics.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = reg
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func reserve(allocated uint64) uint64 {
	return uint64(float64(allocated) * safetyMargin)
}

func availableOf(allocated, used uint64) uint64 {
	return saturatingSub(saturatingSub(allocated, used), reserve(allocated))
}

// CanStorePersonal reports whether size bytes of new personal data fit,
// accounting for both the local copy and its DHT replica.
func (m *Manager) CanStorePersonal(size uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ok := availableOf(m.allocation.PersonalLocal, m.usage.PersonalLocal) >= size*2
	if !ok {
		m.metrics.ObserveCapacityRejection("personal_local")
	}
	return ok
}

// CanAcceptGroupShard reports whether shardSize bytes fit in the group
// shard budget.
func (m *Manager) CanAcceptGroupShard(shardSize uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ok := availableOf(m.allocation.GroupShardAllocation, m.usage.GroupShards) >= shardSize
	if !ok {
		m.metrics.ObserveCapacityRejection("group_shard")
	}
	return ok
}

// CanAcceptDHTData reports whether dataSize bytes of third-party DHT
// traffic fit in the public DHT budget.
func (m *Manager) CanAcceptDHTData(dataSize uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ok := availableOf(m.allocation.PublicDHT, m.usage.PublicDHT) >= dataSize
	if !ok {
		m.metrics.ObserveCapacityRejection("public_dht")
	}
	return ok
}

// Update applies a usage mutation.
func (m *Manager) Update(kind UsageUpdateKind, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case PersonalStored:
		m.usage.PersonalLocal += size
		m.usage.PersonalDHT += size
	case GroupShardStored:
		m.usage.GroupShards += size
	case DHTDataStored:
		m.usage.PublicDHT += size
	case PersonalRemoved:
		m.usage.PersonalLocal = saturatingSub(m.usage.PersonalLocal, size)
		m.usage.PersonalDHT = saturatingSub(m.usage.PersonalDHT, size)
	case GroupShardRemoved:
		m.usage.GroupShards = saturatingSub(m.usage.GroupShards, size)
	case DHTDataRemoved:
		m.usage.PublicDHT = saturatingSub(m.usage.PublicDHT, size)
	}
	m.usage.LastUpdated = m.now()
	m.metrics.SetCapacityUsage("personal_local", m.usage.PersonalLocal)
	m.metrics.SetCapacityUsage("personal_dht", m.usage.PersonalDHT)
	m.metrics.SetCapacityUsage("group_shard", m.usage.GroupShards)
	m.metrics.SetCapacityUsage("public_dht", m.usage.PublicDHT)
}

// Status is the snapshot returned by the capacity status command.
type Status struct {
	Allocation             Allocation
	Usage                  Usage
	PersonalUtilization    float64
	GroupShardUtilization  float64
	DHTUtilization         float64
	OverallUtilization     float64
	IsHealthy              bool
	Recommendations        []string
}

func pct(used, allocated uint64) float64 {
	if allocated == 0 {
		return 0
	}
	return float64(used) / float64(allocated) * 100.0
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	personal := pct(m.usage.PersonalLocal, m.allocation.PersonalLocal)
	group := pct(m.usage.GroupShards, m.allocation.GroupShardAllocation)
	dht := pct(m.usage.PublicDHT, m.allocation.PublicDHT)
	totalUsed := m.usage.PersonalLocal + m.usage.GroupShards + m.usage.PublicDHT
	overall := pct(totalUsed, m.allocation.TotalCapacity)

	return Status{
		Allocation:            m.allocation,
		Usage:                 m.usage,
		PersonalUtilization:   personal,
		GroupShardUtilization: group,
		DHTUtilization:        dht,
		OverallUtilization:    overall,
		IsHealthy:             overall < healthyThresholdPct && personal < healthyThresholdPct && group < healthyThresholdPct && dht < healthyThresholdPct,
		Recommendations:       recommendations(personal, group, dht),
	}
}

func recommendations(personal, group, dht float64) []string {
	var out []string
	if personal > personalRecommendPct {
		out = append(out, "Consider cleaning up old personal data", "Archive infrequently accessed files")
	}
	if group > groupRecommendPct {
		out = append(out, "Review group membership - some shards may be for inactive groups")
	}
	if dht < lowDHTThresholdPct {
		out = append(out, "Low DHT participation - consider accepting more public storage requests")
	}
	if dht > criticalDHTPct {
		out = append(out, "DHT storage nearly full - may need to reject new storage requests")
	}
	if len(out) == 0 {
		out = append(out, "Storage utilization is healthy")
	}
	return out
}

// Warnings returns utilization warnings that exceed warnThresholdPct,
// one string per bucket currently over the threshold.
func (m *Manager) Warnings() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var warnings []string
	if p := pct(m.usage.PersonalLocal, m.allocation.PersonalLocal); p > warnThresholdPct {
		warnings = append(warnings, "personal storage utilization high")
	}
	if p := pct(m.usage.GroupShards, m.allocation.GroupShardAllocation); p > warnThresholdPct {
		warnings = append(warnings, "group shard storage utilization high")
	}
	if p := pct(m.usage.PublicDHT, m.allocation.PublicDHT); p > warnThresholdPct {
		warnings = append(warnings, "DHT participation storage utilization high")
	}
	return warnings
}

// EfficiencyMetrics reports storage and erasure-coding efficiency.
type EfficiencyMetrics struct {
	StorageEfficiencyPercent     float64
	DHTParticipationRatioPercent float64
	ReedSolomonOverheadPercent   float64
}

// Efficiency reports storage metrics for the configured (k, m) erasure
// shape; overhead is m/k expressed as a percentage (e.g. k=8,m=4 -> 50%).
func (m *Manager) Efficiency(k, mParity int) EfficiencyMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalUsed := m.usage.PersonalLocal + m.usage.GroupShards + m.usage.PublicDHT
	storageEff := pct(totalUsed, m.allocation.TotalCapacity)
	dhtRatio := pct(m.usage.PublicDHT, m.allocation.PublicDHT)

	overhead := 0.0
	if k > 0 {
		overhead = float64(mParity) / float64(k) * 100.0
	}

	return EfficiencyMetrics{
		StorageEfficiencyPercent:     storageEff,
		DHTParticipationRatioPercent: dhtRatio,
		ReedSolomonOverheadPercent:   overhead,
	}
}
