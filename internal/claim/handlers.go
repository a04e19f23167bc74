package claim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxUploadSize covers high-resolution phone photos
const maxUploadSize = int64(50 << 20)

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidClaim):
		return http.StatusBadRequest
	case errors.Is(err, ErrClaimNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case IsExtractionFailure(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListClaims()
	if err != nil {
		slog.Error("Error listing claims", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No receipt file was provided.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	in := ClaimInput{
		EmployeeID:    r.FormValue("employee_id"),
		EmployeeName:  r.FormValue("employee_name"),
		ClaimedAmount: r.FormValue("claimed_amount"),
		Date:          r.FormValue("date"),
		Filename:      header.Filename,
		ContentType:   strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type"))),
		Data:          data,
	}

	record, err := s.service.SubmitClaim(r.Context(), in)
	if err != nil {
		slog.Error("Error processing claim", "filename", header.Filename, "error", err)
		code := statusFor(err)
		if record != nil {
			writeJSON(w, code, map[string]any{"error": err.Error(), "claim": record})
			return
		}
		writeError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetClaim(r.PathValue("id"))
	if err != nil {
		code := statusFor(err)
		if code == http.StatusNotFound {
			writeError(w, code, "Claim not found")
			return
		}
		slog.Error("Error getting claim", "error", err)
		writeError(w, code, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetClaimFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetClaimFile(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleExportClaims(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportClaims(&buf); err != nil {
		slog.Error("Error exporting claims", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="claims.xlsx"`)
	w.Write(buf.Bytes())
}
