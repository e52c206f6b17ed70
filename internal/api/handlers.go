package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/sonargate/internal/analysis"
	"github.com/mattjoyce/sonargate/internal/jobid"
	"github.com/mattjoyce/sonargate/internal/jobs"
	"github.com/mattjoyce/sonargate/internal/sonar"
)

// uploadFields are the multipart field names accepted for the archive.
var uploadFields = map[string]bool{"file": true, "zip": true}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// handleReadyz reports whether the SonarQube engine can take work.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Engine == nil {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	health, err := s.deps.Engine.Health(r.Context())
	resp.Engine = health
	switch {
	case err != nil:
		resp.Status = "unavailable"
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
	case health == sonar.HealthGreen || health == sonar.HealthYellow:
		respondJSON(w, http.StatusOK, resp)
	default:
		resp.Status = "unavailable"
		respondJSON(w, http.StatusServiceUnavailable, resp)
	}
}

// handleAnalyze accepts a multipart zip upload and runs the pipeline
// synchronously. The archive is streamed straight to the workspace.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		s.writeAnalysisError(w, analysis.MissingField("file"))
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeAnalysisError(w, analysis.MissingField("file"))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.writeAnalysisError(w, uploadReadError(err))
			return
		}
		if !uploadFields[part.FormName()] {
			_ = part.Close()
			continue
		}

		res, err := s.deps.Analyzer.Run(r.Context(), analysis.Upload{
			Filename: part.FileName(),
			Body:     part,
		})
		_ = part.Close()
		if err != nil {
			s.writeAnalysisError(w, err)
			return
		}

		w.Header().Set(jobIDHeader, res.JobID)
		respondJSON(w, http.StatusOK, AnalyzeResponse{
			Vulnerabilities: res.Issues,
			TotalCount:      res.TotalCount,
		})
		return
	}

	s.writeAnalysisError(w, analysis.MissingField("file"))
}

// uploadReadError classifies a failure reading the multipart stream.
func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return analysis.NewError(analysis.KindArchive, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
	}
	return analysis.NewError(analysis.KindArchive, fmt.Errorf("read upload: %w", err))
}

// writeAnalysisError renders a pipeline failure in the error envelope.
func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	kind := analysis.KindOf(err)
	msg := err.Error()
	var ae *analysis.Error
	if !errors.As(err, &ae) {
		msg = kind.Prefix() + msg
	} else if ae.JobID != "" {
		w.Header().Set(jobIDHeader, ae.JobID)
	}
	s.writeError(w, kind.Status(), msg)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "job history disabled")
		return
	}

	limit := jobs.DefaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.deps.Jobs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	respondJSON(w, http.StatusOK, JobListResponse{Jobs: list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "job history disabled")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	if !jobid.Valid(jobID) {
		s.writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := s.deps.Jobs.Get(r.Context(), jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
