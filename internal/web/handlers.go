package web

import (
	"net/http"
	"time"

	"elvcal/internal/clock"
	"elvcal/internal/display"
	"elvcal/internal/ics"
	appLog "elvcal/internal/log"
	"elvcal/internal/model"
)

// testWindowDays is the range used by the connection test.
const testWindowDays = 7

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type eventsResponse struct {
	Items       []model.Item `json:"items"`
	Count       int          `json:"count"`
	RefreshedAt *time.Time   `json:"refreshed_at,omitempty"`
}

// handleEvents returns the stored items; limit <= 0 means all of them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	items := snap.Items
	if items == nil {
		items = []model.Item{}
	}
	if limit := parseIntDefault(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Items:       items,
		Count:       len(items),
		RefreshedAt: refreshedAt(snap),
	})
}

type cardsResponse struct {
	Cards    []display.Card `json:"cards"`
	Timezone string         `json:"timezone"`
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), s.cfg.CardLimit)
	loc := s.clock.Location()
	writeJSON(w, http.StatusOK, cardsResponse{
		Cards:    display.Cards(snap.Items, loc, limit),
		Timezone: loc.String(),
	})
}

type statusResponse struct {
	Configured  bool         `json:"api_key_configured"`
	RefreshedAt *time.Time   `json:"refreshed_at,omitempty"`
	Status      model.Status `json:"status,omitempty"`
	Partial     bool         `json:"partial"`
	Total       int          `json:"total"`
	Services    int          `json:"services"`
	Events      int          `json:"events"`
	Errors      []string     `json:"errors,omitempty"`
	NextRefresh *time.Time   `json:"next_refresh,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	services, events := snap.CountBySource()
	resp := statusResponse{
		Configured:  s.cfg.APIKey != "",
		RefreshedAt: refreshedAt(snap),
		Status:      snap.Status,
		Partial:     snap.Partial,
		Total:       len(snap.Items),
		Services:    services,
		Events:      events,
		Errors:      snap.Diagnostics.Errors,
	}
	if s.next != nil {
		if next := s.next(); !next.IsZero() {
			resp.NextRefresh = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	if snap.Diagnostics.RunID == "" {
		writeError(w, http.StatusNotFound, "no refresh has run yet")
		return
	}
	writeJSON(w, http.StatusOK, snap.Diagnostics)
}

type refreshResponse struct {
	Ran     bool         `json:"ran"`
	Status  model.Status `json:"status,omitempty"`
	Partial bool         `json:"partial"`
	Total   int          `json:"total"`
	Errors  []string     `json:"errors,omitempty"`
}

// handleRefresh runs a refresh synchronously. It waits for any run already
// in progress.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	appLog.Info("manual refresh requested", "remote", r.RemoteAddr)
	res := s.refresher.Run(r.Context(), s.cfg.APIKey)
	writeJSON(w, http.StatusOK, refreshResponse{
		Ran:     res.Ran,
		Status:  res.Snapshot.Status,
		Partial: res.Snapshot.Partial,
		Total:   len(res.Snapshot.Items),
		Errors:  res.Snapshot.Diagnostics.Errors,
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APIKey == "" {
		writeError(w, http.StatusBadRequest, "no API key configured")
		return
	}
	report, err := s.tester.TestConnection(r.Context(), s.cfg.APIKey, clock.DayWindow(s.clock, testWindowDays))
	if err != nil {
		appLog.Error("connection test failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleFeed serves the items as iCalendar, reusing the rendered body
// until the snapshot changes.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	s.feedMu.RLock()
	fc := s.feedCache
	s.feedMu.RUnlock()

	if fc == nil || !fc.refreshedAt.Equal(snap.RefreshedAt) {
		stamp := snap.RefreshedAt
		if stamp.IsZero() {
			stamp = s.clock.Now()
		}
		fc = &feedCache{
			refreshedAt: snap.RefreshedAt,
			body:        ics.Feed(snap.Items, "", stamp).Serialize(),
		}
		s.feedMu.Lock()
		s.feedCache = fc
		s.feedMu.Unlock()
	}

	w.Header().Set("Content-Type", ics.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fc.body))
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (model.Snapshot, bool) {
	snap, err := s.refresher.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read snapshot")
		return model.Snapshot{}, false
	}
	return snap, true
}

func refreshedAt(snap model.Snapshot) *time.Time {
	if snap.RefreshedAt.IsZero() {
		return nil
	}
	t := snap.RefreshedAt
	return &t
}
