package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError is a single invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects every configuration problem so they can be reported at once.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d error(s):\n", len(v.errors))
	for i, err := range v.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidateRequired records an error when value is empty.
func (v *Validator) ValidateRequired(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "required value not set")
	}
}

// ValidateURL checks value is an absolute http(s) URL. Empty values are skipped.
func (v *Validator) ValidateURL(field, value string) {
	if value == "" {
		return
	}

	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(field, "URL must use http or https scheme")
		return
	}
	if parsed.Host == "" {
		v.AddError(field, "URL must include a host")
	}
}

// ValidatePort accepts "3000" or ":3000".
func (v *Validator) ValidatePort(field, value string) {
	if value == "" {
		return
	}

	port, err := strconv.Atoi(strings.TrimPrefix(value, ":"))
	if err != nil {
		v.AddError(field, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(field, "port must be between 1 and 65535")
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// fieldKeys maps struct namespaces reported by the validator back to
// configuration keys.
var fieldKeys = map[string]string{
	"Config.Port":                   "port",
	"Config.Env":                    "app.env",
	"Config.Log.Level":              "log.level",
	"Config.Log.Format":             "log.format",
	"Config.Backend":                "relay.backend",
	"Config.Static.Dir":             "static.dir",
	"Config.Static.Index":           "static.index",
	"Config.Upload.MaxBytes":        "upload.max_bytes",
	"Config.Upload.MultipartMemory": "upload.multipart_memory",
	"Config.Breaker.Timeout":        "breaker.timeout",
}

func fieldKey(fe validator.FieldError) string {
	if key, ok := fieldKeys[fe.Namespace()]; ok {
		return key
	}
	return fe.Namespace()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required value not set"
	case "oneof":
		return fmt.Sprintf("must be one of: %s (got: %v)", strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// Validate checks the whole configuration and returns every problem found.
func (c Config) Validate() error {
	v := NewValidator()

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			v.AddError(fieldKey(fe), describe(fe))
		}
	}

	v.ValidatePort("port", c.Port)

	switch c.Backend {
	case BackendCloudinary:
		if c.Cloudinary.URL != "" {
			if !strings.HasPrefix(c.Cloudinary.URL, "cloudinary://") {
				v.AddError("cloudinary.url", "must start with cloudinary://")
			}
		} else {
			v.ValidateRequired("cloudinary.cloud_name", c.Cloudinary.CloudName)
			v.ValidateRequired("cloudinary.api_key", c.Cloudinary.APIKey)
			v.ValidateRequired("cloudinary.api_secret", c.Cloudinary.APISecret)
		}
		v.ValidateURL("cloudinary.upload_prefix", c.Cloudinary.UploadPrefix)
	case BackendMinIO:
		v.ValidateRequired("minio.endpoint", c.MinIO.Endpoint)
		v.ValidateRequired("minio.access_key", c.MinIO.AccessKey)
		v.ValidateRequired("minio.secret_key", c.MinIO.SecretKey)
		v.ValidateRequired("minio.bucket", c.MinIO.Bucket)
		if strings.Contains(c.MinIO.Endpoint, "://") {
			v.ValidateURL("minio.endpoint", c.MinIO.Endpoint)
		}
		v.ValidateURL("minio.public_url", c.MinIO.PublicURL)
	}

	if !c.CORS.AllowAll {
		for _, origin := range c.CORS.AllowedOrigins {
			v.ValidateURL("cors.allowed_origins", origin)
		}
	}

	if v.HasErrors() {
		return errors.New(v.ErrorString())
	}
	return nil
}

// Warnings lists settings that are valid but probably unintended.
func (c Config) Warnings() []string {
	var warnings []string

	if strings.TrimSpace(c.Cloudinary.UploadPreset) == "" {
		warnings = append(warnings, "cloudinary.upload_preset not set - uploads use the account defaults")
	}
	if c.CORS.AllowAll && c.Env == "production" {
		warnings = append(warnings, "cors.allow_all enabled in production - any origin may call the API")
	}
	if !c.CORS.AllowAll && len(c.CORS.AllowedOrigins) == 0 {
		warnings = append(warnings, "cors.allowed_origins empty - cross-origin requests will be refused")
	}
	if c.Upload.MaxBytes == 0 {
		warnings = append(warnings, "upload.max_bytes not set - request bodies are not size limited")
	}

	return warnings
}
