// Package relay turns one in-memory image into a vendor-hosted object
// descriptor. It owns the data URI encoding, the vendor call and the mapping
// of the vendor payload; HTTP concerns live in package server.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ResourceTypeAuto lets the vendor classify the uploaded media itself.
const ResourceTypeAuto = "auto"

// Options configures a Relay.
type Options struct {
	UploadPreset string
	Breaker      *CircuitBreaker
	Logger       *zap.Logger
}

// Relay forwards uploads to a Backend. It holds no per-request state and is
// safe for concurrent use.
type Relay struct {
	backend Backend
	preset  string
	breaker *CircuitBreaker
	log     *zap.Logger
}

// New returns a Relay bound to backend.
func New(backend Backend, opts Options) *Relay {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		backend: backend,
		preset:  opts.UploadPreset,
		breaker: opts.Breaker,
		log:     log.With(zap.String("backend", backend.Name())),
	}
}

// Backend returns the name of the configured backend.
func (r *Relay) Backend() string { return r.backend.Name() }

// Breaker exposes the breaker for health and metrics reporting; may be nil.
func (r *Relay) Breaker() *CircuitBreaker { return r.breaker }

// Upload encodes req as a data URI and stores it with the backend. The
// returned error is a *ValidationError or an *UpstreamError.
func (r *Relay) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if len(req.Data) == 0 {
		return UploadResult{}, &ValidationError{Message: MessageEmptyImage}
	}

	mimeType := normaliseMimeType(req.MimeType, req.Data)
	asset := Asset{
		DataURI:      DataURI(mimeType, req.Data),
		Data:         req.Data,
		MimeType:     mimeType,
		UploadPreset: r.preset,
		ResourceType: ResourceTypeAuto,
	}

	start := time.Now()
	var resp *VendorResponse
	err := r.breaker.Execute(func() error {
		var uerr error
		resp, uerr = r.backend.Upload(ctx, asset)
		if uerr != nil {
			if cerr := ctx.Err(); cerr != nil && !errors.Is(uerr, cerr) {
				return fmt.Errorf("%w: %w", cerr, uerr)
			}
			return uerr
		}
		return resp.validate()
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
			return UploadResult{}, &UpstreamError{Backend: r.backend.Name(), Message: err.Error(), Err: err}
		}
		return UploadResult{}, asUpstream(r.backend.Name(), err)
	}

	r.log.Debug("vendor upload complete",
		zap.String("public_id", resp.PublicID),
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(req.Data)),
		zap.Duration("took", time.Since(start)),
	)

	return UploadResult{
		URL:      resp.SecureURL,
		PublicID: resp.PublicID,
		Format:   resp.Format,
		Width:    resp.Width,
		Height:   resp.Height,
	}, nil
}

// Ping checks that the backend is reachable with the configured credentials.
func (r *Relay) Ping(ctx context.Context) error {
	if err := r.backend.Ping(ctx); err != nil {
		return asUpstream(r.backend.Name(), err)
	}
	return nil
}
