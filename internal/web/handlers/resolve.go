package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/citewise/citewise/internal/catalog"
	"github.com/citewise/citewise/internal/citation"
)

const resolveMaxBodyBytes int64 = 16 * 1024

// ResolveHandler serves the public citation-resolution endpoint used by
// the form layer.
type ResolveHandler struct {
	resolver         *citation.Resolver
	catalog          *catalog.Catalog
	urgencyThreshold int
	now              func() time.Time
}

func NewResolveHandler(resolver *citation.Resolver, cat *catalog.Catalog, urgencyThreshold int) *ResolveHandler {
	return &ResolveHandler{
		resolver:         resolver,
		catalog:          cat,
		urgencyThreshold: urgencyThreshold,
		now:              time.Now,
	}
}

type resolveRequest struct {
	Citation      string `json:"citation"`
	City          string `json:"city,omitempty"`
	ViolationDate string `json:"violation_date,omitempty"`
}

type resolveResponse struct {
	citation.Resolution
	Deadline          *citation.Deadline   `json:"deadline,omitempty"`
	SectionName       string               `json:"section_name,omitempty"`
	PhoneConfirmation *catalog.PhonePolicy `json:"phone_confirmation,omitempty"`
	OnlineAppealURL   string               `json:"online_appeal_url,omitempty"`
}

// HandleResolve matches a citation against the catalog and, when a
// violation date is supplied, computes the appeal deadline in the resolved
// city's calendar.
func (h *ResolveHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, resolveMaxBodyBytes)

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	res := h.resolver.Resolve(req.Citation, req.City)
	resp := resolveResponse{Resolution: res}

	if res.Valid {
		city, section, err := h.catalog.Section(res.CityID, res.SectionID)
		if err == nil {
			resp.SectionName = section.Name
			resp.PhoneConfirmation = &section.PhoneConfirmation
			resp.OnlineAppealURL = section.OnlineAppealURL

			if violation, ok := parseDate(req.ViolationDate); ok {
				d := citation.ComputeDeadline(&violation, section.AppealDeadlineDays, h.now(), city.Location, h.urgencyThreshold)
				resp.Deadline = &d
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
