// Package ics renders the merged timeline as an iCalendar feed.
package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"elvcal/internal/links"
	appLog "elvcal/internal/log"
	"elvcal/internal/model"
	"elvcal/internal/timeline"
)

// ContentType is served with the feed.
const ContentType = "text/calendar; charset=utf-8"

// DefaultName is the calendar display name when none is given.
const DefaultName = "Church Calendar"

// Feed builds a PUBLISH calendar with one VEVENT per item. Timed items
// carry a UTC DTSTART; all-day and date-only items a one-day DATE range.
// Items whose date cannot be read are left out. stamp becomes DTSTAMP.
func Feed(items []model.Item, name string, stamp time.Time) *ical.Calendar {
	if name == "" {
		name = DefaultName
	}

	cal := ical.NewCalendarFor("elvcal")
	cal.SetMethod(ical.MethodPublish)
	cal.SetName(name)
	cal.SetXWRCalName(name)
	cal.SetXPublishedTTL("PT1H")

	skipped := 0
	for _, it := range items {
		if !addEvent(cal, it, stamp) {
			skipped++
		}
	}
	if skipped > 0 {
		appLog.Debug("ics feed skipped items without a usable date", "skipped", skipped)
	}
	return cal
}

// UID is stable across refreshes for the same upstream record.
func UID(it model.Item) string {
	return it.Source + "-" + it.ID + "@elvcal"
}

func addEvent(cal *ical.Calendar, it model.Item, stamp time.Time) bool {
	at, timed, ok := timeline.Start(it)
	if !ok {
		return false
	}

	ev := cal.AddEvent(UID(it))
	ev.SetDtStampTime(stamp)
	if timed {
		ev.SetStartAt(at)
	} else {
		ev.SetAllDayStartAt(at)
		ev.SetAllDayEndAt(at.AddDate(0, 0, 1))
	}

	title := it.Title
	if it.Subtitle != "" {
		title += " (" + it.Subtitle + ")"
	}
	ev.SetSummary(title)
	if it.Location != "" {
		ev.SetLocation(it.Location)
	}
	if it.Description != "" {
		ev.SetDescription(it.Description)
	}
	switch {
	case links.ValidURL(it.LinkInfo):
		ev.SetURL(it.LinkInfo)
	case links.ValidURL(it.LinkRegister):
		ev.SetURL(it.LinkRegister)
	}
	if it.Color != "" {
		ev.SetColor(it.Color)
	}
	return true
}
