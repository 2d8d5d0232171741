package feed

import (
	"slices"
	"strings"
	"time"

	"wordcraft/models"
)

// Filter keeps posts in the given category whose title contains search,
// case-insensitively. Empty arguments match everything. Order is kept.
func Filter(posts []models.FeedPost, category, search string) []models.FeedPost {
	needle := strings.ToLower(search)
	out := make([]models.FeedPost, 0, len(posts))
	for _, p := range posts {
		if category != "" && p.Category != category {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Title), needle) {
			continue
		}
		out = append(out, p)
	}
	return out
}

var timeLayouts = []string{time.RFC3339Nano, time.DateTime, time.DateOnly}

func parseCreatedAt(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SortByRecency returns the posts newest first. Posts with an unreadable
// createdAt go last; ties keep their input order.
func SortByRecency(posts []models.FeedPost) []models.FeedPost {
	type keyed struct {
		post models.FeedPost
		at   time.Time
		ok   bool
	}
	ks := make([]keyed, len(posts))
	for i, p := range posts {
		at, ok := parseCreatedAt(p.CreatedAt)
		ks[i] = keyed{post: p, at: at, ok: ok}
	}

	slices.SortStableFunc(ks, func(a, b keyed) int {
		switch {
		case a.ok != b.ok:
			if a.ok {
				return -1
			}
			return 1
		case !a.ok:
			return 0
		}
		return b.at.Compare(a.at)
	})

	out := make([]models.FeedPost, len(ks))
	for i, k := range ks {
		out[i] = k.post
	}
	return out
}
