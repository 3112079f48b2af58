package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/helper"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/parser"
	"github.com/docmind/docmind/internal/worker"
)

const maxUploadBytes = 64 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var event models.IngestEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(event.PDFPath) == "" {
		s.respondError(w, http.StatusBadRequest, "pdf_path is required")
		return
	}

	runID, err := s.dispatcher.EnqueueIngest(r.Context(), event)
	if err != nil {
		log.Error().Err(err).Str("path", event.PDFPath).Msg("Failed to enqueue ingest")
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "source_id": event.Source()})
}

// handleUpload stores a multipart "file" in the upload directory and ingests
// it under its file name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || !parser.Supported(name) {
		s.respondError(w, http.StatusBadRequest, "unsupported file type: "+header.Filename)
		return
	}

	dest, err := s.saveUpload(name, file)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to save upload")
		s.respondError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	event := models.IngestEvent{PDFPath: dest, SourceID: name}
	runID, err := s.dispatcher.EnqueueIngest(r.Context(), event)
	if err != nil {
		log.Error().Err(err).Str("path", dest).Msg("Failed to enqueue ingest")
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	log.Info().Str("file", name).Str("run_id", runID).Msg("Upload queued for ingestion")
	s.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "source_id": name})
}

func (s *Server) saveUpload(name string, src io.Reader) (string, error) {
	if err := helper.CreateFolder(s.config.UploadDir); err != nil {
		return "", err
	}
	dest, err := filepath.Abs(filepath.Join(s.config.UploadDir, name))
	if err != nil {
		return "", err
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", err
	}
	return dest, out.Close()
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var event models.QueryEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(event.Question) == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	if event.TopK < 0 {
		s.respondError(w, http.StatusBadRequest, "top_k must be positive")
		return
	}

	runID, err := s.dispatcher.EnqueueQuery(r.Context(), event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue query")
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	status, err := s.dispatcher.WaitForResult(r.Context(), runID, s.config.QueryWait())
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to wait for query run")
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch status.State {
	case worker.RunCompleted:
		var answer models.AnswerResult
		if err := json.Unmarshal(status.Result, &answer); err != nil {
			s.respondError(w, http.StatusInternalServerError, "malformed run result")
			return
		}
		s.respondJSON(w, http.StatusOK, answer)
	case worker.RunFailed:
		s.respondJSON(w, http.StatusBadGateway, map[string]string{"run_id": runID, "error": status.Error})
	default:
		// no answer within the wait window; the run keeps going
		s.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "pending"})
	}
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.dispatcher.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, worker.ErrRunNotFound) {
			s.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
