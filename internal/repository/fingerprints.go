package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// RecordFingerprint stores a sighting unless it duplicates one within dedupe.
func (r *SQLRepository) RecordFingerprint(ctx context.Context, fp *domain.Fingerprint, dedupe time.Duration) (bool, error) {
	if err := requireID("userID", fp.UserID); err != nil {
		return false, err
	}
	if err := requireID("fingerprint", fp.Fingerprint); err != nil {
		return false, err
	}

	now := r.now().UTC()
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = now
	}

	if dedupe > 0 {
		n, err := r.count(ctx, `
			SELECT COUNT(*) FROM device_fingerprints
			WHERE user_id = ? AND fingerprint = ? AND ip_address = ? AND created_at >= ?
		`, fp.UserID, fp.Fingerprint, fp.IPAddress, fp.CreatedAt.Add(-dedupe).UTC())
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}

	_, err := r.exec(ctx, `
		INSERT INTO device_fingerprints (id, user_id, fingerprint, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), fp.UserID, fp.Fingerprint, fp.IPAddress, fp.UserAgent, fp.CreatedAt.UTC())
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountDistinctFingerprints counts a user's devices since the cutoff.
func (r *SQLRepository) CountDistinctFingerprints(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT fingerprint) FROM device_fingerprints
		WHERE user_id = ? AND created_at >= ?
	`, userID, since.UTC())
}

// LatestUserAgent returns the most recent user agent seen for a user.
func (r *SQLRepository) LatestUserAgent(ctx context.Context, userID string) (string, error) {
	rows, err := r.query(ctx, `
		SELECT user_agent FROM device_fingerprints
		WHERE user_id = ? ORDER BY created_at DESC LIMIT 1
	`, userID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ua string
	if rows.Next() {
		if err := rows.Scan(&ua); err != nil {
			return "", err
		}
	}
	return ua, rows.Err()
}

// CountUsersOnIP counts distinct users seen on an IP since the cutoff.
func (r *SQLRepository) CountUsersOnIP(ctx context.Context, ip string, since time.Time) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM device_fingerprints
		WHERE ip_address = ? AND created_at >= ?
	`, ip, since.UTC())
}

// CountUsersOnFingerprint counts distinct users seen with a fingerprint since the cutoff.
func (r *SQLRepository) CountUsersOnFingerprint(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM device_fingerprints
		WHERE fingerprint = ? AND created_at >= ?
	`, fingerprint, since.UTC())
}

// CountSharedIPUsers counts other users on any of userID's recent IPs.
func (r *SQLRepository) CountSharedIPUsers(ctx context.Context, userID string, since time.Time) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT other.user_id) FROM device_fingerprints other
		WHERE other.user_id <> ? AND other.created_at >= ?
		  AND other.ip_address IN (
			SELECT ip_address FROM device_fingerprints WHERE user_id = ? AND created_at >= ?
		  )
	`, userID, since.UTC(), userID, since.UTC())
}

// CountSharedDeviceUsers counts other users with any of userID's fingerprints.
func (r *SQLRepository) CountSharedDeviceUsers(ctx context.Context, userID string) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(DISTINCT other.user_id) FROM device_fingerprints other
		WHERE other.user_id <> ?
		  AND other.fingerprint IN (SELECT fingerprint FROM device_fingerprints WHERE user_id = ?)
	`, userID, userID)
}

// DeviceGroups maps fingerprints to the distinct users seen with them.
func (r *SQLRepository) DeviceGroups(ctx context.Context, since time.Time) (map[string][]string, error) {
	return r.groups(ctx, `
		SELECT DISTINCT fingerprint, user_id FROM device_fingerprints
		WHERE created_at >= ? ORDER BY fingerprint, user_id
	`, since)
}

// IPGroups maps IP addresses to the distinct users seen on them.
func (r *SQLRepository) IPGroups(ctx context.Context, since time.Time) (map[string][]string, error) {
	return r.groups(ctx, `
		SELECT DISTINCT ip_address, user_id FROM device_fingerprints
		WHERE created_at >= ? AND ip_address <> '' ORDER BY ip_address, user_id
	`, since)
}

func (r *SQLRepository) groups(ctx context.Context, query string, since time.Time) (map[string][]string, error) {
	rows, err := r.query(ctx, query, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make(map[string][]string)
	for rows.Next() {
		var key, userID string
		if err := rows.Scan(&key, &userID); err != nil {
			return nil, err
		}
		groups[key] = append(groups[key], userID)
	}
	return groups, rows.Err()
}
