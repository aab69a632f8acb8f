package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	_ = validate.RegisterValidation("file_exists", validateFileExists)
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs struct-tag validation followed by the
// cross-field rules, and returns every problem found.
func ValidateWithDetails(cfg *Config) error {
	var details ValidationErrors
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}
		for _, fe := range validationErrors {
			details = append(details, ConfigError{
				Field:   fe.Namespace(),
				Message: formatValidationError(fe),
				Value:   fe.Value(),
			})
		}
	}
	details = append(details, crossFieldErrors(cfg)...)
	if len(details) > 0 {
		return details
	}
	return nil
}

// crossFieldErrors checks rules that span several fields.
func crossFieldErrors(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	if cfg.LLM.Provider != "offline" && cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.LLM.APIKey",
			Message: fmt.Sprintf("is required for provider %q", cfg.LLM.Provider),
			Value:   "",
		})
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" && cfg.Embedding.BaseURL == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Embedding.APIKey",
			Message: "is required for the openai embedder",
			Value:   "",
		})
	}
	if cfg.Lock.Backend == "redis" && cfg.Lock.Redis.Address == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Lock.Redis.Address",
			Message: "is required for the redis lock backend",
			Value:   "",
		})
	}
	if cfg.Storage.Type == "badger" && cfg.Storage.Badger.Path == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Storage.Badger.Path",
			Message: "is required for badger storage",
			Value:   "",
		})
	}
	if tls := cfg.Server.GRPC.TLS; cfg.Server.GRPC.Enabled && tls.Enabled {
		for field, path := range map[string]string{"CertFile": tls.CertFile, "KeyFile": tls.KeyFile} {
			if err := validate.Var(path, "required,file_exists"); err != nil {
				errs = append(errs, ConfigError{
					Field:   "Config.Server.GRPC.TLS." + field,
					Message: "must name an existing file",
					Value:   path,
				})
			}
		}
	}
	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Tracing.Endpoint",
			Message: "is required when tracing is enabled",
			Value:   "",
		})
	}
	return errs
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "env":
		return "must be one of [development staging production]"
	case "file_exists":
		return "file does not exist"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	}
	return false
}

// validateFileExists checks that the field names a regular file.
func validateFileExists(fl validator.FieldLevel) bool {
	info, err := os.Stat(fl.Field().String())
	return err == nil && !info.IsDir()
}
