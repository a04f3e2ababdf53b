// Package timeline maps raw events and services onto model.Item and merges
// them into one date-ordered list.
package timeline

import (
	"strings"

	"elvcal/internal/links"
	"elvcal/internal/model"
)

// FromService converts a raw service. It returns false when the service
// has no id.
func FromService(raw model.RawService, table *links.Table) (model.Item, bool) {
	if raw.ID == "" {
		return model.Item{}, false
	}

	it := model.Item{
		ID:          raw.ID.String(),
		Source:      model.SourceService,
		Title:       raw.Name,
		Subtitle:    raw.SeriesName,
		Picture:     raw.Picture.String(),
		Location:    raw.LocationName(),
		Description: raw.Description,
		LinkInfo:    table.Resolve(raw),
	}
	it.Date, it.Time = SplitDateTime(raw.Date)
	return it, true
}

// FromEvent converts a raw event. It returns false when the event has no id.
func FromEvent(raw model.RawEvent) (model.Item, bool) {
	if raw.ID == "" {
		return model.Item{}, false
	}

	it := model.Item{
		ID:           raw.ID.String(),
		Source:       model.SourceEvent,
		Title:        raw.Name,
		Description:  raw.Description,
		Location:     raw.Where,
		LinkInfo:     raw.URL,
		Picture:      raw.Picture.String(),
		Color:        raw.Color,
		AllDay:       raw.AllDay.Bool(),
		LinkRegister: raw.RegisterURL,
	}
	it.Date, it.Time = SplitDateTime(raw.StartDate)
	return it, true
}

// SplitDateTime splits "2024-05-01 18:30:00" on the first space. A value
// without a space is returned as the date with an empty time.
func SplitDateTime(s string) (date, clock string) {
	if s == "" {
		return "", ""
	}
	date, clock, found := strings.Cut(s, " ")
	if !found {
		return s, ""
	}
	return date, clock
}
