package prescription

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/rx-tracker/internal/catalog"
	"github.com/zombor/rx-tracker/internal/imaging"
	"github.com/zombor/rx-tracker/internal/recognition"
)

// maxUploadSize allows high-resolution phone photos
const maxUploadSize = int64(50 << 20) // 50MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps an error to an HTTP status and a message for the caller
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, imaging.ErrDecode), errors.Is(err, recognition.ErrRecognition):
		return http.StatusUnprocessableEntity, fmt.Sprintf("%v. Please try again with a clearer image.", err)
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Result not found"
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, message := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSONError(w, message, code)
}

// readUpload reads the "file" part of a multipart form. It writes the error
// response itself and reports whether the caller should continue.
func readUpload(w http.ResponseWriter, r *http.Request) (imaging.Source, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSONError(w, errorMsg, http.StatusBadRequest)
		return imaging.Source{}, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeJSONError(w, errorMsg, http.StatusBadRequest)
		return imaging.Source{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return imaging.Source{}, false
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = imaging.MediaTypeFor(header.Filename)
	}

	return imaging.Source{Name: header.Filename, MediaType: contentType, Data: data}, true
}

// handleSubmitJob starts processing an upload in the background
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	src, ok := readUpload(w, r)
	if !ok {
		return
	}

	job, err := s.service.Submit(src)
	if err != nil {
		slog.Warn("Rejected upload", "filename", src.Name, "content_type", src.MediaType, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

// handleGetJob reports a job's progress. A finished job is discarded once read.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.service.Job(id)
	if !ok {
		writeJSONError(w, "Job not found", http.StatusNotFound)
		return
	}

	status := job.Status()
	if status.State != JobRunning {
		s.service.ForgetJob(id)
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCancelJob abandons a running job
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.service.Job(id)
	if !ok {
		writeJSONError(w, "Job not found", http.StatusNotFound)
		return
	}

	job.Cancel()
	s.service.ForgetJob(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleJobEvents streams job progress as server-sent events
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.service.Job(id)
	if !ok {
		writeJSONError(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates := job.Subscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case p, open := <-updates:
			if !open {
				writeJobOutcome(w, job)
				flusher.Flush()
				s.service.ForgetJob(id)
				return
			}
			fmt.Fprintf(w, "event: progress\ndata: %d\n\n", p)
			flusher.Flush()
		}
	}
}

func writeJobOutcome(w io.Writer, job *Job) {
	status := job.Status()
	if status.State == JobSucceeded {
		data, err := json.Marshal(status.Result)
		if err != nil {
			slog.Error("Error encoding result", "job_id", job.ID, "error", err)
			return
		}
		fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
		return
	}

	jobErr := job.Err()
	_, message := statusFor(jobErr)
	data, _ := json.Marshal(map[string]any{"error": message, "retryable": IsRetryable(jobErr)})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}

// handleProcessPrescription processes an upload and responds with the result
func (s *Server) handleProcessPrescription(w http.ResponseWriter, r *http.Request) {
	src, ok := readUpload(w, r)
	if !ok {
		return
	}

	result, err := s.service.Process(r.Context(), src)
	if err != nil {
		slog.Error("Error processing prescription", "filename", src.Name, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleListResults returns the processing history
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.ListResults()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleGetResult returns a single result
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetResult(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleVerifyResult verifies a pending result
func (s *Server) handleVerifyResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.VerifyResult(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRejectResult rejects a pending result
func (s *Server) handleRejectResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RejectResult(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDeleteResult deletes a result
func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteResult(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats summarizes the processing history
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSearchMedicines filters the catalog by ?q= and ?category=
func (s *Server) handleSearchMedicines(w http.ResponseWriter, r *http.Request) {
	medicines := s.service.SearchMedicines(r.URL.Query().Get("q"), r.URL.Query().Get("category"))
	if medicines == nil {
		medicines = []catalog.Medicine{}
	}
	writeJSON(w, http.StatusOK, medicines)
}

// handleGetMedicine looks up one medicine by name, generic name or alias
func (s *Server) handleGetMedicine(w http.ResponseWriter, r *http.Request) {
	medicine, ok := s.service.LookupMedicine(r.PathValue("name"))
	if !ok {
		writeJSONError(w, "Medicine not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, medicine)
}

// handleCategories lists the catalog categories
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories := s.service.Categories()
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, categories)
}
