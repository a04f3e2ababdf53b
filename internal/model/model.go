package model

import (
	"encoding/json"
	"time"
)

// Source values for Item.Source.
const (
	SourceEvent   = "event"
	SourceService = "service"
)

// RawEvent is a record from the calendar events resource. Fields the
// upstream omits stay at their zero value.
type RawEvent struct {
	ID          ID     `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Where       string `json:"where,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	URL         string `json:"url,omitempty"`
	RegisterURL string `json:"register_url,omitempty"`
	Picture     Text   `json:"picture,omitempty"`
	Color       string `json:"color,omitempty"`
	AllDay      *Flag  `json:"all_day,omitempty"`
}

// Named is the `{ "name": ... }` shape the services resource uses for
// nested location and service type objects.
type Named struct {
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts anything. Non-objects (the upstream sends [] for an
// empty object) and non-string names decode to an empty Named.
func (n *Named) UnmarshalJSON(b []byte) error {
	*n = Named{}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil
	}
	var name Text
	if raw, ok := obj["name"]; ok {
		_ = json.Unmarshal(raw, &name)
	}
	n.Name = string(name)
	return nil
}

// RawService is a record from the services resource.
type RawService struct {
	ID          ID     `json:"id"`
	Name        string `json:"name,omitempty"`
	SeriesName  string `json:"series_name,omitempty"`
	Date        string `json:"date,omitempty"`
	Picture     Text   `json:"picture,omitempty"`
	Location    *Named `json:"location,omitempty"`
	ServiceType *Named `json:"service_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// LocationName returns location.name or "".
func (s RawService) LocationName() string {
	if s.Location == nil {
		return ""
	}
	return s.Location.Name
}

// ServiceTypeName returns service_type.name or "".
func (s RawService) ServiceTypeName() string {
	if s.ServiceType == nil {
		return ""
	}
	return s.ServiceType.Name
}

// Item is the canonical timeline entry handed to renderers. Optional
// fields are omitted from JSON when empty.
type Item struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Title        string `json:"title,omitempty"`
	Subtitle     string `json:"subtitle,omitempty"`
	Date         string `json:"date,omitempty"`
	Time         string `json:"time,omitempty"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
	Picture      string `json:"picture,omitempty"`
	LinkInfo     string `json:"link_info,omitempty"`
	LinkRegister string `json:"link_register,omitempty"`
	AllDay       *bool  `json:"all_day,omitempty"`
}

// IsAllDay reports whether the item is flagged all-day.
func (it Item) IsAllDay() bool {
	return it.AllDay != nil && *it.AllDay
}

// Window is the half-open [Start, End) date range requested upstream.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Pagination mirrors the counters the upstream reports next to each
// resource array. Only recorded; never used to fetch further pages.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	OnThisPage int `json:"on_this_page"`
}

// EndpointDiagnostics records what happened on one upstream call.
type EndpointDiagnostics struct {
	URL          string          `json:"url,omitempty"`
	Method       string          `json:"method,omitempty"`
	Skipped      bool            `json:"skipped,omitempty"`
	StatusCode   int             `json:"response_code,omitempty"`
	APIStatus    string          `json:"api_status,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	APIError     json.RawMessage `json:"api_error,omitempty"`
	Count        int             `json:"count"`
	Invalid      int             `json:"invalid_records,omitempty"`
	TopLevelKeys []string        `json:"full_response_keys,omitempty"`
	WrapperKeys  []string        `json:"wrapper_keys,omitempty"`
	Sample       json.RawMessage `json:"sample,omitempty"`
	Pagination   *Pagination     `json:"pagination,omitempty"`
	Duration     time.Duration   `json:"duration_ns,omitempty"`
}

// MergeStats summarizes one merge.
type MergeStats struct {
	ServicesConverted int               `json:"services_converted"`
	EventsAdded       int               `json:"regular_events_added"`
	DuplicatesSkipped []string          `json:"duplicate_ids_skipped,omitempty"`
	ColorsInherited   map[string]string `json:"colors_applied_to_services,omitempty"`
	TotalMerged       int               `json:"total_merged"`
	TotalEventColors  int               `json:"total_event_colors"`
	SkippedRecords    int               `json:"skipped_records"`
}

// Endpoints groups the per-resource diagnostics.
type Endpoints struct {
	Events   EndpointDiagnostics `json:"events"`
	Services EndpointDiagnostics `json:"services"`
}

// Diagnostics is the per-run record shown to operators.
type Diagnostics struct {
	RunID     string     `json:"run_id"`
	Timestamp time.Time  `json:"timestamp"`
	Window    Window     `json:"window"`
	Endpoints Endpoints  `json:"endpoints"`
	Merge     MergeStats `json:"merge_stats"`
	Errors    []string   `json:"errors,omitempty"`
}

// Status is the terminal state of a refresh.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Snapshot is the unit the refresher persists and overwrites each run.
type Snapshot struct {
	Items       []Item      `json:"items"`
	Diagnostics Diagnostics `json:"diagnostics"`
	RefreshedAt time.Time   `json:"refreshed_at"`
	Status      Status      `json:"status"`
	Partial     bool        `json:"partial,omitempty"`
}

// CountBySource returns how many items came from services and events.
func (s Snapshot) CountBySource() (services, events int) {
	for _, it := range s.Items {
		if it.Source == SourceService {
			services++
		} else {
			events++
		}
	}
	return services, events
}
