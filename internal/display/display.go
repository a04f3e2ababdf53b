// Package display turns timeline items into carousel cards: formatted in
// the display timezone, with a resolved image and only usable links.
package display

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"elvcal/internal/links"
	"elvcal/internal/model"
	"elvcal/internal/timeline"
)

const (
	DefaultLimit = 10

	// DefaultImage is shown when an item has no usable picture.
	DefaultImage = "https://cdn.elvanto.eu/img/default-event-avatar.svg"

	summaryRunes = 200
)

// Card is one rendered carousel entry.
type Card struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Color       string `json:"color,omitempty"`
	Image       string `json:"image"`
	MoreInfo    string `json:"more_info,omitempty"`
	Register    string `json:"register,omitempty"`
}

// Cards renders at most limit items (DefaultLimit when limit <= 0) in
// their existing order. Times are stored in UTC and shown in loc.
func Cards(items []model.Item, loc *time.Location, limit int) []Card {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if loc == nil {
		loc = time.UTC
	}
	n := min(limit, len(items))
	out := make([]Card, 0, n)
	for _, it := range items[:n] {
		out = append(out, NewCard(it, loc))
	}
	return out
}

// NewCard renders a single item.
func NewCard(it model.Item, loc *time.Location) Card {
	c := Card{
		ID:          it.ID,
		Source:      it.Source,
		Title:       it.Title,
		Subtitle:    it.Subtitle,
		Location:    it.Location,
		Description: it.Description,
		Color:       it.Color,
	}
	if c.Title == "" {
		c.Title = "Event"
	}
	c.Date, c.Time = When(it, loc)

	doc := parseHTML(it.Description)
	c.Image = Image(it.Picture, doc)
	if doc != nil {
		c.Summary = truncateRunes(strings.Join(strings.Fields(doc.Text()), " "), summaryRunes)
	}

	if links.ValidURL(it.LinkInfo) {
		c.MoreInfo = it.LinkInfo
	}
	if links.ValidURL(it.LinkRegister) {
		c.Register = it.LinkRegister
	}
	return c
}

// When formats an item's date as "Mon 2nd Jan" and its time as "6:30pm".
// A stored time is UTC and is converted to loc, which can move the date.
// All-day items and items without a parseable time get no time.
func When(it model.Item, loc *time.Location) (date, clock string) {
	at, timed, ok := timeline.Start(it)
	if !ok {
		return "", ""
	}
	if !timed {
		return FormatDate(at), ""
	}
	at = at.In(loc)
	return FormatDate(at), FormatTime(at)
}

// FormatDate renders t as "Tue 1st Oct".
func FormatDate(t time.Time) string {
	return t.Format("Mon") + " " + Ordinal(t.Day()) + " " + t.Format("Jan")
}

// FormatTime renders t as "6:30pm".
func FormatTime(t time.Time) string {
	return t.Format("3:04pm")
}

// Ordinal returns n with its English suffix: 1st, 2nd, 3rd, 11th, 22nd.
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// Image picks the picture when it is a valid URL, else the first valid
// <img src> in the description, else DefaultImage.
func Image(picture string, description *goquery.Document) string {
	if links.ValidURL(picture) {
		return picture
	}
	if description != nil {
		var found string
		description.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, _ := s.Attr("src")
			src = strings.TrimSpace(src)
			if links.ValidURL(src) {
				found = src
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return DefaultImage
}

func parseHTML(s string) *goquery.Document {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return nil
	}
	return doc
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}
