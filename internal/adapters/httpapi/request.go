package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/runtime"

	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
)

const maxBodyBytes = 64 << 10

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in error details.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a single JSON object into dst and runs struct validation.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("missing request body", nil)
		}
		return apperr.Validation("malformed request body", map[string]any{"body": err.Error()})
	}
	if dec.More() {
		return apperr.Validation("request body must contain a single JSON object", nil)
	}
	if err := s.validate.Struct(dst); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			details := make(map[string]any, len(ves))
			for _, fe := range ves {
				details[fe.Field()] = fe.Tag()
			}
			return apperr.Validation("invalid request", details)
		}
		return apperr.Validation("invalid request", nil)
	}
	return nil
}

// pathParam binds a chi URL parameter using the simple style.
func pathParam(r *http.Request, name string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || strings.TrimSpace(v) == "" {
		return "", apperr.Validation("invalid path parameter", map[string]any{name: "required"})
	}
	return v, nil
}

// boolQuery binds an optional form-style boolean query parameter.
func boolQuery(r *http.Request, name string) (bool, error) {
	var v *bool
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return false, apperr.Validation("invalid query parameter", map[string]any{name: "must be a boolean"})
	}
	return v != nil && *v, nil
}

// requestHash fingerprints a request for idempotent replay: route, path values and the canonical body.
func requestHash(route string, pathValues []string, body any) (string, error) {
	raw, err := json.Marshal(struct {
		Route string   `json:"route"`
		Path  []string `json:"path"`
		Body  any      `json:"body,omitempty"`
	}{route, pathValues, body})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
