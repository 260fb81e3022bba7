package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"lease-ledger/internal/clock"
)

// ExportCache is the subset of the Redis client the export registry needs.
type ExportCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...any) error
	IsMiss(err error) bool
}

var (
	ErrExportsUnavailable = errors.New("export registry is not configured")
	ErrExportNotFound     = errors.New("export not found")
)

type ExportStatus struct {
	Key      string    `json:"key"`
	Type     string    `json:"type"`
	UserID   int64     `json:"user_id"`
	Filters  any       `json:"filters"`
	Progress float64   `json:"progress"`
	FileURL  *string   `json:"file_url"`
	Error    *string   `json:"error,omitempty"`
	Created  time.Time `json:"created_at"`
}

// ExportView is how an export is shown to its owner.
type ExportView struct {
	Key       string  `json:"key"`
	Type      string  `json:"type"`
	UserID    int64   `json:"user_id"`
	Progress  float64 `json:"progress"`
	FileURL   *string `json:"file_url"`
	Error     *string `json:"error,omitempty"`
	Filters   any     `json:"filters"`
	CreatedAt string  `json:"created_at"`
}

const (
	exportSetKey = "export_ids"
	exportTTL    = 20 * time.Minute
)

func saveExportStatus(ctx context.Context, cache ExportCache, st *ExportStatus) error {
	if cache == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := cache.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}
	return cache.SAdd(ctx, exportSetKey, st.Key)
}

// ExportService lists exports started by PaymentExportService.
type ExportService struct {
	cache ExportCache
	clock clock.Clock
}

func NewExportService(cache ExportCache, clk clock.Clock) *ExportService {
	return &ExportService{cache: cache, clock: clk}
}

func (s *ExportService) GetExports(ctx context.Context, userID int64) ([]ExportView, error) {
	if s.cache == nil {
		return nil, ErrExportsUnavailable
	}

	keys, err := s.cache.SMembers(ctx, exportSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	var statuses []ExportStatus
	var expired []any
	for _, key := range keys {
		data, err := s.cache.Get(ctx, key)
		if s.cache.IsMiss(err) {
			// the status key outlived its TTL; forget it
			expired = append(expired, key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get export %s: %w", key, err)
		}

		var status ExportStatus
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			continue
		}

		if status.UserID == userID {
			statuses = append(statuses, status)
		}
	}
	if len(expired) > 0 {
		_ = s.cache.SRem(ctx, exportSetKey, expired...)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})

	exports := make([]ExportView, 0, len(statuses))
	for _, status := range statuses {
		exports = append(exports, s.view(status))
	}
	return exports, nil
}

func (s *ExportService) GetExport(ctx context.Context, exportID string, userID int64) (*ExportView, error) {
	if s.cache == nil {
		return nil, ErrExportsUnavailable
	}

	data, err := s.cache.Get(ctx, exportID)
	if s.cache.IsMiss(err) {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export %s: %w", exportID, err)
	}

	var status ExportStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse export status: %w", err)
	}

	if status.UserID != userID {
		return nil, ErrExportNotFound
	}

	v := s.view(status)
	return &v, nil
}

func (s *ExportService) view(st ExportStatus) ExportView {
	return ExportView{
		Key:       st.Key,
		Type:      st.Type,
		UserID:    st.UserID,
		Progress:  st.Progress,
		FileURL:   st.FileURL,
		Error:     st.Error,
		Filters:   st.Filters,
		CreatedAt: humanizeAgo(st.Created, s.clock.Now()),
	}
}

func humanizeAgo(t, now time.Time) string {
	if t.After(now) {
		return "just now"
	}

	minutes := int(now.Sub(t).Minutes())
	if minutes < 1 {
		return "just now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d %s ago", minutes, plural(minutes, "minute", "minutes"))
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%d %s ago", hours, plural(hours, "hour", "hours"))
	}
	days := hours / 24
	if days < 30 {
		return fmt.Sprintf("%d %s ago", days, plural(days, "day", "days"))
	}
	return t.Format("2006-01-02 15:04")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
