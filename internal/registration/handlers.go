package registration

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/sinova-register/internal/verification"
)

// maxUploadSize bounds a payment screenshot upload
const maxUploadSize = int64(5 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// contentTypeFor picks the upload's MIME type from its header, falling back to the extension
func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleVerify runs the verification pipeline on an uploaded screenshot
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "File is too large. Maximum size is 5MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		writeError(w, "session_id is required", http.StatusBadRequest)
		return
	}
	teamName := strings.TrimSpace(r.FormValue("team_name"))

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, "No file was selected. Please choose a payment screenshot to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, "File is too large. Maximum size is 5MB.", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	file := verification.File{
		Name:        header.Filename,
		ContentType: contentTypeFor(header.Header.Get("Content-Type"), header.Filename),
		Reader:      bytes.NewReader(data),
	}

	result, err := s.service.VerifyPayment(r.Context(), sessionID, teamName, file)
	switch {
	case errors.Is(err, verification.ErrBusy):
		writeError(w, "A verification is already running for this form. Please wait.", http.StatusConflict)
		return
	case errors.Is(err, verification.ErrSuperseded):
		writeError(w, "This upload was replaced by a newer one.", http.StatusConflict)
		return
	case err != nil:
		slog.Error("Error verifying payment", "session_id", sessionID, "error", err)
		writeError(w, "Error processing image. Please try again.", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleProgress reports the verification progress of a form session
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	update, busy, err := s.service.VerificationProgress(r.PathValue("id"))
	if err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage":    update.Stage,
		"progress": update.Progress,
		"busy":     busy,
	})
}

// handleRegister submits a team
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	team, err := s.service.Register(r.Context(), req)
	if err != nil {
		code := http.StatusInternalServerError
		message := "Registration failed. Please try again."
		switch {
		case errors.Is(err, ErrSessionRequired), errors.Is(err, ErrInvalidTeam):
			code, message = http.StatusBadRequest, err.Error()
		case errors.Is(err, ErrNotVerified):
			code, message = http.StatusPaymentRequired, "Please upload and verify your payment screenshot first."
		case errors.Is(err, ErrPaymentRejected):
			code, message = http.StatusPaymentRequired, "Your payment screenshot was rejected. Please upload a clearer screenshot."
		case errors.Is(err, ErrDuplicatePayment), errors.Is(err, ErrDuplicateTransaction):
			code, message = http.StatusConflict, "This payment has already been used by another team."
		case errors.Is(err, ErrRegistryUnavailable):
			code, message = http.StatusServiceUnavailable, "Registration is temporarily unavailable. Please try again shortly."
		default:
			slog.Error("Error registering team", "error", err)
		}
		writeError(w, message, code)
		return
	}

	writeJSON(w, http.StatusCreated, team)
}

// handleGetTeam returns the public status of a registration
func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Team ID required", http.StatusBadRequest)
		return
	}
	status, err := s.service.GetTeam(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrTeamNotFound) {
			slog.Error("Error getting team", "team_id", id, "error", err)
			writeError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeError(w, "Team not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleListTeams returns every registration with the summary
func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, summary, err := s.service.ListTeams(r.Context())
	if err != nil {
		slog.Error("Error listing teams", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"teams":   teams,
		"summary": summary,
	})
}

// handleSlots reports remaining capacity
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.service.Slots(r.Context())
	if err != nil {
		slog.Error("Error counting slots", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// handleHealth pings the team store
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Health(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		writeError(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
