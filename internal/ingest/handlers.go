package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"receiptsnap/internal/extract"
	"receiptsnap/internal/imaging"
	"receiptsnap/internal/notion"
)

// maxFormSize bounds the multipart parse. Larger than the upload ceiling
// on purpose: HEIC input can shrink considerably when transcoded, and the
// normalizer applies the real limit afterwards.
const maxFormSize = int64(50 << 20) // 50MB

// ScanResult is the response of the scan endpoint: recognized text plus
// the heuristic guesses the client prefills its form with.
type ScanResult struct {
	Text     string   `json:"text"`
	Amount   *float64 `json:"amount,omitempty"`
	Merchant string   `json:"merchant,omitempty"`
}

// handleSubmit normalizes the uploaded file and creates a record in the
// document store
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		corsError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		corsError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		corsError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	file, err := imaging.NormalizeForUpload(imaging.File{
		Name:     header.Filename,
		MIMEType: contentTypeFor(header),
		Data:     data,
	})
	if err != nil {
		if errors.Is(err, imaging.ErrTooLarge) {
			corsError(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("Error normalizing file", "filename", header.Filename, "error", err)
		corsError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fields := Fields{
		Amount:   r.FormValue("amount"),
		Merchant: r.FormValue("merchant"),
		Date:     r.FormValue("date"),
		Notes:    r.FormValue("notes"),
	}

	sub, err := s.service.Submit(r.Context(), file, fields)
	if err != nil {
		var apiErr *notion.APIError
		if errors.As(err, &apiErr) {
			// Pass the store's status and body through unchanged so
			// schema mismatches can be diagnosed from the client.
			slog.Error("Document store rejected record", "status", apiErr.StatusCode, "body", apiErr.Body)
			setCORSHeaders(w)
			w.WriteHeader(apiErr.StatusCode)
			io.WriteString(w, apiErr.Body)
			return
		}
		slog.Error("Error submitting receipt", "filename", header.Filename, "error", err)
		corsError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(sub); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleScan runs the configured vision scanner over an uploaded image and
// applies the amount and merchant heuristics to its output
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		corsError(w, "No scanner configured", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		corsError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		corsError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		corsError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	text, err := s.scanner.Recognize(data, contentTypeFor(header))
	if err != nil {
		slog.Error("Error recognizing receipt text", "filename", header.Filename, "error", err)
		corsError(w, err.Error(), http.StatusBadGateway)
		return
	}

	result := ScanResult{
		Text:     text,
		Merchant: extract.Merchant(text),
	}
	if amount, ok := extract.Amount(text); ok {
		result.Amount = &amount
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleListSubmissions returns the journal, newest first
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.service.Submissions()
	if err != nil {
		slog.Error("Error listing submissions", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if subs == nil {
		subs = []*Submission{}
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(subs); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleHealth is the deploy probe target
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// contentTypeFor determines a file's MIME type, falling back to the
// filename extension when the part header carries none. Phone uploads
// frequently omit or mislabel it.
func contentTypeFor(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
