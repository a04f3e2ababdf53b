package timeline

import (
	"slices"
	"strings"
	"time"

	"elvcal/internal/links"
	"elvcal/internal/model"
)

// FallbackServiceColor is used for services with no matching event colour.
const FallbackServiceColor = "#2e7d32"

// Merge reconciles raw events and services into one list.
//
// Services come first, each taking the colour of the event that shares its
// id (or FallbackServiceColor). Events whose id matches a converted service
// are the calendar-side copy of that service and are dropped. The result is
// stably sorted by EffectiveTime.
func Merge(events []model.RawEvent, services []model.RawService, table *links.Table) ([]model.Item, model.MergeStats) {
	stats := model.MergeStats{ColorsInherited: map[string]string{}}

	colors := make(map[model.ID]string, len(events))
	for _, ev := range events {
		if ev.ID != "" && ev.Color != "" {
			colors[ev.ID] = ev.Color
		}
	}
	stats.TotalEventColors = len(colors)

	merged := make([]model.Item, 0, len(events)+len(services))
	seen := make(map[model.ID]struct{}, len(services))

	for _, svc := range services {
		it, ok := FromService(svc, table)
		if !ok {
			stats.SkippedRecords++
			continue
		}
		if c, ok := colors[svc.ID]; ok {
			it.Color = c
			stats.ColorsInherited[it.ID] = c
		} else {
			it.Color = FallbackServiceColor
		}
		merged = append(merged, it)
		seen[svc.ID] = struct{}{}
		stats.ServicesConverted++
	}

	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			stats.DuplicatesSkipped = append(stats.DuplicatesSkipped, ev.ID.String())
			continue
		}
		it, ok := FromEvent(ev)
		if !ok {
			stats.SkippedRecords++
			continue
		}
		merged = append(merged, it)
		stats.EventsAdded++
	}

	SortItems(merged)
	stats.TotalMerged = len(merged)
	if len(stats.ColorsInherited) == 0 {
		stats.ColorsInherited = nil
	}
	return merged, stats
}

// SortItems orders items by EffectiveTime, keeping ties in input order.
func SortItems(items []model.Item) {
	type keyed struct {
		at   time.Time
		item model.Item
	}
	tmp := make([]keyed, len(items))
	for i, it := range items {
		tmp[i] = keyed{at: EffectiveTime(it), item: it}
	}
	slices.SortStableFunc(tmp, func(a, b keyed) int {
		return a.at.Compare(b.at)
	})
	for i := range tmp {
		items[i] = tmp[i].item
	}
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var epoch = time.Unix(0, 0).UTC()

// EffectiveTime is the instant an item sorts by. The date is combined with
// the time when the date carries no time of its own. Values are read as
// UTC; missing or unparseable dates map to the Unix epoch.
func EffectiveTime(it model.Item) time.Time {
	if it.Date == "" {
		return epoch
	}
	if it.Time != "" && !strings.Contains(it.Date, ":") {
		if t, ok := parseDate(it.Date + " " + it.Time); ok {
			return t
		}
	}
	if t, ok := parseDate(it.Date); ok {
		return t
	}
	return epoch
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Start reads an item's start instant in UTC. timed is false for all-day
// items and when only a date could be read; ok is false when the date
// does not parse at all.
func Start(it model.Item) (at time.Time, timed, ok bool) {
	date := strings.TrimSpace(it.Date)
	if date == "" {
		return time.Time{}, false, false
	}
	if it.Time != "" && !it.IsAllDay() && !strings.Contains(date, ":") {
		if t, ok := parseDate(date + " " + it.Time); ok {
			return t, true, true
		}
	}
	t, ok := parseDate(date)
	if !ok {
		return time.Time{}, false, false
	}
	if it.IsAllDay() {
		return t.Truncate(24 * time.Hour), false, true
	}
	return t, len(date) > len(time.DateOnly), true
}
