// Package links turns the operator's "label|URL" text into a lookup table
// used to attach "more info" links to services.
package links

import (
	"net/url"
	"strings"

	"elvcal/internal/model"
)

// Entry is one configured label and its URL.
type Entry struct {
	Label string // lowercased, trimmed
	URL   string
}

// Table is an insertion-ordered label -> URL map. The zero value and a nil
// *Table are both empty tables.
type Table struct {
	entries []Entry
	index   map[string]int
}

// Parse builds a Table from multi-line configuration text. Lines that do
// not split into a label and an absolute URL are dropped. A repeated label
// replaces the earlier URL but keeps the earlier position.
func Parse(text string) *Table {
	t := &Table{index: make(map[string]int)}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(parts[0]))
		link := strings.TrimSpace(parts[1])
		if label == "" || !ValidURL(link) {
			continue
		}

		if i, ok := t.index[label]; ok {
			t.entries[i].URL = link
			continue
		}
		t.index[label] = len(t.entries)
		t.entries = append(t.entries, Entry{Label: label, URL: link})
	}

	return t
}

// ValidURL reports whether s is an absolute URL with a host.
func ValidURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// Len returns the number of labels.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the table in insertion order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Labels returns the normalized labels in insertion order.
func (t *Table) Labels() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Label
	}
	return out
}

// Lookup performs a case-insensitive exact match.
func (t *Table) Lookup(label string) (string, bool) {
	if t == nil || len(t.entries) == 0 {
		return "", false
	}
	i, ok := t.index[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return "", false
	}
	return t.entries[i].URL, true
}

// Resolve picks the "more info" URL for a service:
//  1. exact match on service_type.name, else on series_name;
//  2. otherwise the first label (in configuration order) contained in the
//     lowercased service name.
//
// It returns "" when nothing matches.
func (t *Table) Resolve(svc model.RawService) string {
	if t.Len() == 0 {
		return ""
	}

	serviceType := svc.ServiceTypeName()
	if serviceType == "" {
		serviceType = svc.SeriesName
	}
	if serviceType != "" {
		if u, ok := t.Lookup(serviceType); ok {
			return u
		}
	}

	if svc.Name == "" {
		return ""
	}
	title := strings.ToLower(svc.Name)
	for _, e := range t.entries {
		if strings.Contains(title, e.Label) {
			return e.URL
		}
	}
	return ""
}

// Ambiguity describes two labels where one contains the other, so the
// substring fallback depends on configuration order.
type Ambiguity struct {
	Label    string // the label that wins by order
	Shadowed string
}

// Ambiguities lists label pairs that can both match the same title in the
// substring fallback. Resolution is unaffected; callers may warn on them.
func (t *Table) Ambiguities() []Ambiguity {
	if t.Len() < 2 {
		return nil
	}
	var out []Ambiguity
	for i, a := range t.entries {
		for _, b := range t.entries[i+1:] {
			if strings.Contains(a.Label, b.Label) || strings.Contains(b.Label, a.Label) {
				out = append(out, Ambiguity{Label: a.Label, Shadowed: b.Label})
			}
		}
	}
	return out
}
