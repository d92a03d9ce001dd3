package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/bl4ck0w1/easmscan/internal/orchestration"
	"github.com/bl4ck0w1/easmscan/internal/storage"
	"github.com/bl4ck0w1/easmscan/pkg/models"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

const (
	DefaultTimeoutMs   = 10000
	DefaultDepth       = 3
	DefaultConcurrency = 5
)

type scanOptionsRequest struct {
	Timeout         *int              `json:"timeout"`
	Depth           *int              `json:"depth"`
	Concurrency     *int              `json:"concurrency"`
	UserAgent       string            `json:"userAgent"`
	FollowRedirects *bool             `json:"followRedirects"`
	Headers         map[string]string `json:"headers"`
	Cookies         map[string]string `json:"cookies"`
	Proxy           string            `json:"proxy"`
}

type scanRequest struct {
	URL     string              `json:"url"`
	Domain  string              `json:"domain"`
	IP      string              `json:"ip"`
	Options *scanOptionsRequest `json:"options"`
}

type ScanResponse struct {
	Scan      *models.ScanResult      `json:"scan"`
	Discovery *models.DiscoveryResult `json:"discovery"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// apiError carries a status code through the handler wrapper.
type apiError struct {
	status  int
	message string
	details map[string]string
}

func (e *apiError) Error() string { return e.message }

func badRequest(message string, details map[string]string) error {
	return &apiError{status: http.StatusBadRequest, message: message, details: details}
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}

		var ae *apiError
		switch {
		case errors.As(err, &ae):
			writeJSON(w, ae.status, errorResponse{Error: ae.message, Details: ae.details})
		case errors.Is(err, orchestration.ErrScanNotFound), errors.Is(err, storage.ErrResultNotFound):
			writeError(w, http.StatusNotFound, "Not found", err.Error())
		case errors.Is(err, orchestration.ErrAdmissionTimeout):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Scan capacity exhausted", err.Error())
		case errors.Is(err, orchestration.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		default:
			s.logger.WithError(err).Errorf("%s %s failed", r.Method, r.URL.Path)
			writeError(w, http.StatusInternalServerError, "Request failed", err.Error())
		}
	}
}

// POST /api/scan
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) error {
	var req scanRequest
	if err := decodeBody(w, r, &req); err != nil {
		return err
	}

	target, opts, err := req.validate()
	if err != nil {
		return err
	}

	log := s.logger.WithField("target", target.String())
	if claims, ok := ClaimsFrom(r.Context()); ok {
		log = log.WithField("subject", claims.Subject)
	}
	log.Info("Starting scan")

	var discovery *models.DiscoveryResult
	if target.Domain != "" && s.discoverer != nil {
		log.Infof("Performing passive reconnaissance for %s", target.Domain)
		discovery, err = s.discoverer.GatherDomainInformation(r.Context(), target.Domain)
		if err != nil {
			log.WithError(err).Warn("Passive reconnaissance failed")
			discovery = nil
		}
	}

	result, err := s.scanner.Scan(r.Context(), target, opts)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"scan_id": result.ScanID,
		"issues":  result.Summary.TotalIssues,
	}).Info("Scan completed")
	if s.results != nil {
		if _, err := s.results.Save(result); err != nil {
			log.WithError(err).Warn("Failed to persist scan result")
		}
	}
	return respond(w, http.StatusOK, ScanResponse{Scan: result, Discovery: discovery})
}

// POST /api/discover
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) error {
	if s.discoverer == nil {
		writeError(w, http.StatusServiceUnavailable, "Asset discovery disabled", "")
		return nil
	}

	var req struct {
		Domain string `json:"domain"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		return err
	}
	domain := utils.NormalizeDomain(req.Domain)
	if domain == "" {
		return badRequest("Domain is required", nil)
	}
	if !utils.IsValidDomain(domain) {
		return badRequest("Invalid request", map[string]string{"domain": "must be a valid domain name"})
	}

	result, err := s.discoverer.GatherDomainInformation(r.Context(), domain)
	if err != nil {
		return fmt.Errorf("asset discovery failed: %w", err)
	}
	return respond(w, http.StatusOK, result)
}

// GET /api/scans
func (s *Server) handleListScans(w http.ResponseWriter, _ *http.Request) error {
	return respond(w, http.StatusOK, s.scanner.ListActiveScans())
}

// GET /api/scans/{id}
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) error {
	status, err := s.scanner.GetScanStatus(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return respond(w, http.StatusOK, status)
}

// DELETE /api/scans/{id}
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := s.scanner.CancelScan(id); err != nil {
		return err
	}
	return respond(w, http.StatusAccepted, map[string]string{"scanId": id, "status": "cancelling"})
}

// GET /api/results
func (s *Server) handleListResults(w http.ResponseWriter, _ *http.Request) error {
	if s.results == nil {
		writeError(w, http.StatusServiceUnavailable, "Result storage disabled", "")
		return nil
	}
	list, err := s.results.List()
	if err != nil {
		return err
	}
	return respond(w, http.StatusOK, list)
}

// GET /api/results/{id}
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) error {
	if s.results == nil {
		writeError(w, http.StatusServiceUnavailable, "Result storage disabled", "")
		return nil
	}
	result, err := s.results.Load(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return respond(w, http.StatusOK, result)
}

// GET /api/capabilities
func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) error {
	return respond(w, http.StatusOK, s.scanner.Registry().Describe())
}

// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) error {
	return respond(w, http.StatusOK, s.scanner.GetStats())
}

// validate applies the request defaults and bounds.
func (req scanRequest) validate() (models.Target, models.Options, error) {
	details := make(map[string]string)

	target := models.Target{
		URL:    strings.TrimSpace(req.URL),
		Domain: utils.NormalizeDomain(req.Domain),
		IP:     strings.TrimSpace(req.IP),
	}
	if target.URL != "" && !utils.IsValidURL(target.URL) {
		details["url"] = "must be a valid http(s) URL"
	}
	if target.Domain != "" && !utils.IsValidDomain(target.Domain) {
		details["domain"] = "must be a valid domain name"
	}
	if target.IP != "" && !utils.IsValidIP(target.IP) {
		details["ip"] = "must be a valid IP address"
	}

	o := req.Options
	if o == nil {
		o = &scanOptionsRequest{}
	}
	timeout := intOr(o.Timeout, DefaultTimeoutMs)
	depth := intOr(o.Depth, DefaultDepth)
	concurrency := intOr(o.Concurrency, DefaultConcurrency)
	checkRange(details, "options.timeout", timeout, 1000, 60000)
	checkRange(details, "options.depth", depth, 1, 10)
	checkRange(details, "options.concurrency", concurrency, 1, 20)

	if len(details) > 0 {
		return models.Target{}, models.Options{}, badRequest("Invalid request", details)
	}
	if target.IsEmpty() {
		return models.Target{}, models.Options{}, badRequest("At least one target (url, domain, or ip) must be provided", nil)
	}

	follow := true
	if o.FollowRedirects != nil {
		follow = *o.FollowRedirects
	}
	opts := models.Options{
		Timeout:         time.Duration(timeout) * time.Millisecond,
		Depth:           depth,
		Concurrency:     concurrency,
		UserAgent:       o.UserAgent,
		FollowRedirects: models.Bool(follow),
		Headers:         o.Headers,
		Cookies:         o.Cookies,
		Proxy:           o.Proxy,
	}
	return target, opts, nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func checkRange(details map[string]string, field string, v, lo, hi int) {
	if v < lo || v > hi {
		details[field] = fmt.Sprintf("must be between %d and %d", lo, hi)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return badRequest("Invalid request", map[string]string{"body": "request body is required"})
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return badRequest("Invalid request", map[string]string{"body": err.Error()})
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respond writes v and returns nil so handlers can end with it.
func respond(w http.ResponseWriter, status int, v interface{}) error {
	writeJSON(w, status, v)
	return nil
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, errorResponse{Error: message, Message: detail})
}
