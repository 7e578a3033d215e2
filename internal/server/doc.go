// Package server implements the HTTP front door of the image relay. It
// accepts multipart uploads on POST /upload, hands the "image" part to the
// relay and writes the JSON reply. It also serves the static client with
// fallback routing and exposes health and metrics endpoints.
package server
