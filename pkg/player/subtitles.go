package player

import (
	"sort"
	"strings"
)

// Automated upstreams sometimes attach every language under the sun. Above
// this count the list is trimmed to the common ones.
const maxSubtitleTracks = 50

// MergeTracks combines external and engine-internal subtitle tracks,
// deduplicating by trimmed, case-insensitive label. When both carry the same
// label the URL-bearing track wins, so external files keep working through
// the proxy. The result is sorted by label.
func MergeTracks(external, internal []Track) []Track {
	seen := make(map[string]int)
	var merged []Track

	for _, t := range append(append([]Track{}, external...), internal...) {
		key := strings.ToLower(strings.TrimSpace(t.Label))
		if i, ok := seen[key]; ok {
			if merged[i].URL == "" && t.URL != "" {
				merged[i] = t
			}
			continue
		}
		seen[key] = len(merged)
		merged = append(merged, t)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Label < merged[j].Label
	})
	return merged
}

// FilterTracks drops thumbnail tracks and, when the list is excessively
// long, keeps only English, Japanese and Spanish variants.
func FilterTracks(tracks []Track) []Track {
	relevant := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t.Kind == "thumbnails" || strings.EqualFold(t.Label, "thumbnails") {
			continue
		}
		relevant = append(relevant, t)
	}

	if len(relevant) <= maxSubtitleTracks {
		return relevant
	}

	common := relevant[:0]
	for _, t := range relevant {
		label := strings.ToLower(t.Label)
		if strings.Contains(label, "eng") ||
			strings.Contains(label, "jp") ||
			strings.Contains(label, "esp") {
			common = append(common, t)
		}
	}
	return common
}

// DefaultTrackIndex picks the starting subtitle: an English track when
// present, otherwise the first one. Returns -1 for an empty list.
func DefaultTrackIndex(tracks []Track) int {
	if len(tracks) == 0 {
		return -1
	}
	for i, t := range tracks {
		if strings.Contains(strings.ToLower(t.Label), "eng") {
			return i
		}
	}
	return 0
}
