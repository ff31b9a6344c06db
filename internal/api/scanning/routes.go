// Package scanning serves the scan and framework endpoints.
package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ahrav/compliance-armada/internal/api/errs"
	scanapp "github.com/ahrav/compliance-armada/internal/app/scanning"
	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
	scanDomain "github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// Service is the application surface the handlers need.
type Service interface {
	StartScan(ctx context.Context, cmd scanapp.StartScanCommand) (*scanDomain.Scan, error)
	GetScan(ctx context.Context, scanID uuid.UUID) (*scanDomain.Scan, error)
	ListScans(ctx context.Context, userID string) ([]*scanDomain.Scan, error)
	GetReport(ctx context.Context, scanID uuid.UUID) (scanapp.Report, error)
	ExportSARIF(ctx context.Context, scanID uuid.UUID) ([]byte, error)
	CancelScan(ctx context.Context, scanID uuid.UUID) error
	ListFrameworks(ctx context.Context) ([]rules.Framework, error)
	GetFrameworkRules(ctx context.Context, frameworkID string) (rules.Framework, []rules.Rule, error)
}

// Config contains the dependencies needed by the scan handlers.
type Config struct {
	Log     *logger.Logger
	Service Service
	Limits  document.Limits
}

// multipartOverhead is allowed on top of the document size for form
// boundaries and fields.
const multipartOverhead = 64 << 10

// Routes binds the scan and framework endpoints.
func Routes(r chi.Router, cfg Config) {
	h := &handlers{
		log:     cfg.Log.With("component", "scan_api"),
		service: cfg.Service,
		limits:  cfg.Limits,
	}

	r.Get("/frameworks", h.listFrameworks)
	r.Get("/frameworks/{id}/rules", h.frameworkRules)

	r.Route("/scans", func(r chi.Router) {
		r.Post("/", h.start)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/report", h.report)
		r.Get("/{id}/report/sarif", h.sarif)
		r.Post("/{id}/cancel", h.cancel)
	})
}

type handlers struct {
	log     *logger.Logger
	service Service
	limits  document.Limits
}

func (h *handlers) maxSize() int64 {
	if h.limits.MaxSize > 0 {
		return h.limits.MaxSize
	}
	return document.DefaultMaxSize
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	cmd, apiErr := h.decodeUpload(w, r)
	if apiErr != nil {
		errs.Write(w, apiErr)
		return
	}

	scan, err := h.service.StartScan(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startResponse{
		ScanID: scan.ScanID().String(),
		Status: scan.Status().String(),
	})
}

// decodeUpload accepts either a multipart form with a "file" part or a
// JSON body carrying the document inline.
func (h *handlers) decodeUpload(w http.ResponseWriter, r *http.Request) (scanapp.StartScanCommand, *errs.Error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize()+multipartOverhead)

	var (
		req         startRequest
		contentType string
		size        int64
	)

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.maxSize()); err != nil {
			return scanapp.StartScanCommand{}, bodyError(err)
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			return scanapp.StartScanCommand{}, errs.Newf(errs.InvalidArgument, "multipart field \"file\" is required")
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, h.maxSize()+1))
		if err != nil {
			return scanapp.StartScanCommand{}, bodyError(err)
		}

		req = startRequest{
			UserID:       r.FormValue("user_id"),
			FrameworkID:  r.FormValue("framework_id"),
			DocumentName: r.FormValue("document_name"),
			Content:      string(content),
		}
		if req.DocumentName == "" {
			req.DocumentName = header.Filename
		}
		contentType = header.Header.Get("Content-Type")
		size = int64(len(content))

	case "application/json", "":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return scanapp.StartScanCommand{}, bodyError(err)
		}
		size = int64(len(req.Content))

	default:
		return scanapp.StartScanCommand{}, errs.Newf(errs.InvalidArgument, "unsupported request content type %q", mediaType)
	}

	if err := errs.Check(req); err != nil {
		return scanapp.StartScanCommand{}, errs.New(errs.InvalidArgument, err)
	}
	if err := h.limits.Check(req.DocumentName, contentType, size); err != nil {
		if errors.Is(err, document.ErrDocumentTooLarge) {
			return scanapp.StartScanCommand{}, errs.New(errs.TooLarge, err)
		}
		return scanapp.StartScanCommand{}, errs.New(errs.InvalidArgument, err)
	}

	return scanapp.StartScanCommand{
		UserID:       req.UserID,
		FrameworkID:  req.FrameworkID,
		DocumentName: req.DocumentName,
		Content:      []byte(req.Content),
	}, nil
}

func bodyError(err error) *errs.Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errs.Newf(errs.TooLarge, "request body exceeds %d bytes", tooLarge.Limit)
	}
	return errs.New(errs.InvalidArgument, fmt.Errorf("malformed request body: %w", err))
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		errs.Write(w, errs.Newf(errs.InvalidArgument, "query parameter user_id is required"))
		return
	}

	scans, err := h.service.ListScans(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := scanListResponse{Scans: make([]scanResponse, 0, len(scans))}
	for _, s := range scans {
		resp.Scans = append(resp.Scans, toScanResponse(s, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}
	scan, err := h.service.GetScan(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScanResponse(scan, true))
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}
	report, err := h.service.GetReport(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(report))
}

func (h *handlers) sarif(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}
	data, err := h.service.ExportSARIF(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/sarif+json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id.String()+".sarif"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelScan(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{ScanID: id.String(), Status: "cancelling"})
}

func (h *handlers) listFrameworks(w http.ResponseWriter, r *http.Request) {
	fws, err := h.service.ListFrameworks(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := frameworkListResponse{Frameworks: make([]frameworkResponse, 0, len(fws))}
	for _, fw := range fws {
		resp.Frameworks = append(resp.Frameworks, toFrameworkResponse(fw))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) frameworkRules(w http.ResponseWriter, r *http.Request) {
	fw, rs, err := h.service.GetFrameworkRules(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := frameworkRulesResponse{
		Framework: toFrameworkResponse(fw),
		Rules:     make([]ruleResponse, 0, len(rs)),
	}
	for _, rule := range rs {
		resp.Rules = append(resp.Rules, ruleResponse{
			ID:          rule.ID,
			Citation:    rule.Citation,
			Title:       rule.Title,
			Requirement: rule.Requirement,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func scanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, errs.Newf(errs.InvalidArgument, "scan id %q is not a UUID", chi.URLParam(r, "id")))
		return uuid.Nil, false
	}
	return id, true
}

// fail maps domain errors onto API error codes.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scanDomain.ErrScanNotFound), errors.Is(err, rules.ErrFrameworkNotFound):
		errs.Write(w, errs.New(errs.NotFound, err))
	case errors.Is(err, scanDomain.ErrScanNotCompleted), errors.Is(err, scanapp.ErrScanNotCancellable):
		errs.Write(w, errs.New(errs.FailedPrecondition, err))
	case errors.Is(err, scanapp.ErrOrchestratorStopped):
		errs.Write(w, &errs.Error{Code: errs.Unavailable, Message: err.Error()})
	default:
		h.log.Error(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		errs.Write(w, errs.Newf(errs.Internal, "internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
