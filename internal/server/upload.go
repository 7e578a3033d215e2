package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cloud-image-relay/internal/relay"
)

// imageField is the multipart field carrying the upload.
const imageField = "image"

// uploadResp is the JSON body of a successful upload.
type uploadResp struct {
	Success bool `json:"success"`
	relay.UploadResult
}

// failureResp is the JSON body of every upload failure.
type failureResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// failureFor maps an upload error to its status code, client message and
// metric kind.
func failureFor(err error) (status int, message, kind string) {
	var ve *relay.ValidationError
	var ue *relay.UpstreamError
	switch {
	case errors.As(err, &ve):
		if ve.Message == relay.MessageTooLarge {
			return http.StatusRequestEntityTooLarge, ve.Message, FailureTooLarge
		}
		if ve.Message == "" {
			return http.StatusBadRequest, relay.MessageNoImage, FailureValidation
		}
		return http.StatusBadRequest, ve.Message, FailureValidation
	case errors.As(err, &ue):
		if ue.Message == "" {
			return http.StatusInternalServerError, relay.MessageUploadFailed, FailureUpstream
		}
		return http.StatusInternalServerError, ue.Message, FailureUpstream
	default:
		return http.StatusInternalServerError, relay.MessageUploadFailed, FailureUnknown
	}
}

// handleUpload handles POST /upload: one multipart field "image" is relayed to
// the vendor and the hosted descriptor returned.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := s.log.With(zap.String("rid", RequestIDFromContext(r.Context())))

	req, err := s.readImage(w, r)
	if err != nil {
		s.writeUploadFailure(w, log, err)
		return
	}

	res, err := s.relay.Upload(r.Context(), req)
	if err != nil {
		s.writeUploadFailure(w, log.With(
			zap.String("filename", req.Filename),
			zap.String("mime_type", req.MimeType),
			zap.Int("bytes", len(req.Data)),
		), err)
		return
	}

	took := time.Since(start)
	s.metrics.RecordUpload(int64(len(req.Data)), took)
	log.Info("upload relayed",
		zap.String("backend", s.relay.Backend()),
		zap.String("public_id", res.PublicID),
		zap.String("format", res.Format),
		zap.Int("bytes", len(req.Data)),
		zap.Duration("took", took),
	)

	writeJSON(w, http.StatusOK, uploadResp{Success: true, UploadResult: res})
}

// readImage parses the multipart body and returns the "image" part. Every
// error is a *relay.ValidationError.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (relay.UploadRequest, error) {
	if limit := s.maxUploadBytes; limit > 0 {
		if r.ContentLength > limit {
			return relay.UploadRequest{}, &relay.ValidationError{
				Message: relay.MessageTooLarge,
				Err:     fmt.Errorf("content length %d exceeds %d", r.ContentLength, limit),
			}
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	if err := r.ParseMultipartForm(s.multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return relay.UploadRequest{}, &relay.ValidationError{Message: relay.MessageTooLarge, Err: err}
		}
		return relay.UploadRequest{}, &relay.ValidationError{
			Message: relay.MessageNoImage,
			Err:     fmt.Errorf("%w: %v", relay.ErrMissingImage, err),
		}
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(imageField)
	if err != nil {
		return relay.UploadRequest{}, &relay.ValidationError{
			Message: relay.MessageNoImage,
			Err:     fmt.Errorf("%w: %v", relay.ErrMissingImage, err),
		}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return relay.UploadRequest{}, &relay.ValidationError{
			Message: relay.MessageNoImage,
			Err:     fmt.Errorf("read image part: %w", err),
		}
	}

	return relay.UploadRequest{
		Data:     data,
		MimeType: header.Header.Get("Content-Type"),
		Filename: SanitizeFilename(header.Filename),
	}, nil
}

func (s *Server) writeUploadFailure(w http.ResponseWriter, log *zap.Logger, err error) {
	status, message, kind := failureFor(err)
	s.metrics.RecordUploadFailure(kind)

	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("upload failed", append(fields, zap.String("backend", s.relay.Backend()))...)
	} else {
		log.Warn("upload rejected", fields...)
	}

	writeJSON(w, status, failureResp{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
