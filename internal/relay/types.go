package relay

import "context"

// UploadRequest is the single file taken from the multipart field "image".
type UploadRequest struct {
	Data     []byte
	MimeType string
	Filename string
}

// UploadResult is the hosted object descriptor returned to the client.
type UploadResult struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
	Format   string `json:"format"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Asset is what a Backend receives. DataURI is always populated; Data and
// MimeType are kept for backends that store raw bytes.
type Asset struct {
	DataURI      string
	Data         []byte
	MimeType     string
	UploadPreset string
	ResourceType string
}

// VendorResponse is the subset of the vendor upload descriptor the relay
// depends on.
type VendorResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// validate reports the first required key missing from the vendor payload.
func (v *VendorResponse) validate() error {
	switch {
	case v == nil:
		return &UpstreamError{Message: "vendor returned an empty response"}
	case v.SecureURL == "":
		return &UpstreamError{Message: "vendor response missing secure_url"}
	case v.PublicID == "":
		return &UpstreamError{Message: "vendor response missing public_id"}
	case v.Format == "":
		return &UpstreamError{Message: "vendor response missing format"}
	}
	return nil
}

// Backend stores one asset on the media host and returns its descriptor.
type Backend interface {
	Name() string
	Upload(ctx context.Context, asset Asset) (*VendorResponse, error)
	Ping(ctx context.Context) error
}
