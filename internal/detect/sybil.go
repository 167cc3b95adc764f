package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// LinkType names how cluster members are connected.
type LinkType string

const (
	LinkDevice LinkType = "DEVICE"
	LinkIP     LinkType = "IP"
	LinkBoth   LinkType = "BOTH"
)

const (
	deviceLookback = 30 * 24 * time.Hour
	ipLookback     = 7 * 24 * time.Hour
	eventDedupe    = 24 * time.Hour

	deviceConfidence = 0.8
	ipConfidence     = 0.6
	bothConfidence   = 0.95

	// ipMinUsers is the user count an IP must exceed to form a cluster.
	ipMinUsers = 2
)

// Cluster is a group of accounts sharing devices or networks.
type Cluster struct {
	Key        string   `json:"clusterKey"`
	UserIDs    []string `json:"userIds"`
	LinkType   LinkType `json:"linkType"`
	Confidence float64  `json:"confidence"`
}

// ClusterStore is what the cluster detector reads and writes.
type ClusterStore interface {
	DeviceGroups(ctx context.Context, since time.Time) (map[string][]string, error)
	IPGroups(ctx context.Context, since time.Time) (map[string][]string, error)
	CountEvents(ctx context.Context, userID, eventType string, since time.Time) (int, error)
	AppendEvent(ctx context.Context, e *domain.RiskEvent) error
}

// ClusterDetector is the batch device/IP correlation job.
type ClusterDetector struct {
	store ClusterStore
	now   func() time.Time
}

// NewClusterDetector creates a detector over store.
func NewClusterDetector(store ClusterStore) *ClusterDetector {
	return &ClusterDetector{store: store, now: time.Now}
}

// Detect finds clusters and appends a SYBIL_DETECTED event to each member
// that has none from the last 24 hours.
func (d *ClusterDetector) Detect(ctx context.Context) ([]*Cluster, error) {
	now := d.now()

	devices, err := d.store.DeviceGroups(ctx, now.Add(-deviceLookback))
	if err != nil {
		return nil, fmt.Errorf("load device groups: %w", err)
	}
	ips, err := d.store.IPGroups(ctx, now.Add(-ipLookback))
	if err != nil {
		return nil, fmt.Errorf("load ip groups: %w", err)
	}

	clusters := buildClusters(devices, ips)

	users := 0
	for _, c := range clusters {
		for _, userID := range c.UserIDs {
			if err := ctx.Err(); err != nil {
				return clusters, err
			}
			if err := d.flag(ctx, c, userID, now); err != nil {
				slog.Error("failed to record sybil detection",
					"user_id", userID,
					"cluster", c.Key,
					"error", err,
				)
			}
			users++
		}
	}

	slog.Info("sybil clustering complete",
		"clusters", len(clusters),
		"users", users,
	)
	return clusters, nil
}

func (d *ClusterDetector) flag(ctx context.Context, c *Cluster, userID string, now time.Time) error {
	seen, err := d.store.CountEvents(ctx, userID, domain.EventSybilDetected, now.Add(-eventDedupe))
	if err != nil {
		return err
	}
	if seen > 0 {
		return nil
	}

	linked := make([]string, 0, len(c.UserIDs)-1)
	for _, id := range c.UserIDs {
		if id != userID {
			linked = append(linked, id)
		}
	}

	severity := domain.SeverityMedium
	if c.Confidence >= deviceConfidence {
		severity = domain.SeverityHigh
	}
	return d.store.AppendEvent(ctx, &domain.RiskEvent{
		UserID:   userID,
		Type:     domain.EventSybilDetected,
		Severity: severity,
		Metadata: map[string]any{
			"clusterKey":    c.Key,
			"linkedUserIds": linked,
			"linkType":      c.LinkType,
			"confidence":    c.Confidence,
		},
	})
}

// buildClusters turns device and IP groups into clusters. An IP group that
// overlaps a device cluster is merged into it as BOTH.
func buildClusters(devices, ips map[string][]string) []*Cluster {
	var clusters []*Cluster

	for _, fp := range sortedKeys(devices) {
		users := devices[fp]
		if len(users) < 2 {
			continue
		}
		clusters = append(clusters, &Cluster{
			Key:        "device:" + fp,
			UserIDs:    append([]string(nil), users...),
			LinkType:   LinkDevice,
			Confidence: deviceConfidence,
		})
	}
	deviceCount := len(clusters)

	for _, ip := range sortedKeys(ips) {
		users := ips[ip]
		if len(users) <= ipMinUsers {
			continue
		}

		var merged bool
		for _, c := range clusters[:deviceCount] {
			if c.LinkType != LinkDevice || !overlaps(c.UserIDs, users) {
				continue
			}
			c.UserIDs = union(c.UserIDs, users)
			c.LinkType = LinkBoth
			c.Confidence = bothConfidence
			merged = true
			break
		}
		if merged {
			continue
		}

		clusters = append(clusters, &Cluster{
			Key:        "ip:" + ip,
			UserIDs:    append([]string(nil), users...),
			LinkType:   LinkIP,
			Confidence: ipConfidence,
		})
	}

	return clusters
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func overlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if _, ok := set[id]; ok {
				continue
			}
			set[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
