package validators

import (
	"context"
	"errors"
	"maps"
	"mime"
	"reflect"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	maxFilenameSize = 255
	maxFolderSize   = 1024
)

var ErrNoSpace = errors.New("not enough space")

// ValidationError collects a message for every field that failed
// validation
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}

	return "validation failed, " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}

	e.Fields[field] = msg
}

// Merge copies the fields of other that e doesn't report yet
func (e *ValidationError) Merge(other error) {
	var o *ValidationError
	if !errors.As(other, &o) {
		return
	}

	for k, msg := range o.Fields {
		if _, ok := e.Fields[k]; !ok {
			e.add(k, msg)
		}
	}
}

// UploadRequest is what a client declares before an upload starts
type UploadRequest struct {
	Filename string `json:"filename" validate:"required,max=255,safefilename"`
	MimeType string `json:"mime_type" validate:"required,mediatype,mimeallowed"`
	Size     int64  `json:"file_size" validate:"gt=0,maxsize"`
	Folder   string `json:"folder" validate:"omitempty,max=1024,safefolder"`
}

type UploadRules struct {
	MaxSize      int64
	AllowedTypes []string // Entries may be wildcards like image/*
}

type rulesKey struct{}

// WithRules attaches the configured upload limits to ctx. The mimeallowed
// and maxsize tags pass when ctx carries none.
func WithRules(ctx context.Context, r UploadRules) context.Context {
	return context.WithValue(ctx, rulesKey{}, r)
}

func rulesFrom(ctx context.Context) (UploadRules, bool) {
	r, ok := ctx.Value(rulesKey{}).(UploadRules)
	return r, ok
}

func init() {
	if err := Register(validate); err != nil {
		panic(err)
	}
}

// Register adds the upload rules to v and makes it report fields by their
// json or form name. Gin's binding engine gets the same treatment so
// binding tags can use them too.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}

		return f.Name
	})

	rules := map[string]validator.Func{
		"safefilename": func(fl validator.FieldLevel) bool {
			return FilenameValidator(fl.Field().String()) == nil
		},
		"safefolder": func(fl validator.FieldLevel) bool {
			_, err := CleanFolder(fl.Field().String())
			return err == nil
		},
		"mediatype": func(fl validator.FieldLevel) bool {
			t, _, err := mime.ParseMediaType(fl.Field().String())
			return err == nil && strings.Contains(t, "/")
		},
	}

	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}

	ctxRules := map[string]validator.FuncCtx{
		"mimeallowed": func(ctx context.Context, fl validator.FieldLevel) bool {
			r, ok := rulesFrom(ctx)
			return !ok || MimeAllowed(fl.Field().String(), r.AllowedTypes)
		},
		"maxsize": func(ctx context.Context, fl validator.FieldLevel) bool {
			r, ok := rulesFrom(ctx)
			return !ok || r.MaxSize <= 0 || fl.Field().Int() <= r.MaxSize
		},
	}

	for tag, fn := range ctxRules {
		if err := v.RegisterValidationCtx(tag, fn); err != nil {
			return err
		}
	}

	return nil
}

// ValidateUpload checks everything a client declares before an upload
// starts. Failures are always a *ValidationError.
func ValidateUpload(r UploadRequest, rules UploadRules) error {
	return FromValidator(validate.StructCtx(WithRules(context.Background(), rules), r))
}

// FromValidator turns validator.ValidationErrors into a *ValidationError
// keyed by field name. Other errors are returned as they are.
func FromValidator(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}

	verr := &ValidationError{}
	for _, fe := range ves {
		verr.add(fe.Field(), message(fe))
	}

	return verr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "is too long"
	case "gt":
		return "must be bigger than " + fe.Param()
	case "safefilename":
		if err := FilenameValidator(fe.Value().(string)); err != nil {
			return err.Error()
		}
	case "safefolder":
		if _, err := CleanFolder(fe.Value().(string)); err != nil {
			return err.Error()
		}
	case "mediatype":
		return "is not a valid media type"
	case "mimeallowed":
		return "unsupported file type"
	case "maxsize":
		return "exceeds the upload size limit"
	}

	return "is invalid"
}

func hasControl(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}

func FilenameValidator(name string) error {
	switch {
	case name == "":
		return errors.New("is required")
	case len(name) > maxFilenameSize:
		return errors.New("is too long")
	case !utf8.ValidString(name):
		return errors.New("must be valid UTF-8")
	case strings.ContainsAny(name, `/\`):
		return errors.New("must not contain path separators")
	case hasControl(name):
		return errors.New("must not contain control characters")
	case name == "." || name == "..":
		return errors.New("is not a valid file name")
	}

	return nil
}

// CleanFolder validates a destination folder relative to the storage root
// and returns it without leading or trailing slashes. Anything that could
// escape the root is rejected.
func CleanFolder(folder string) (string, error) {
	if folder == "" {
		return "", nil
	}

	if len(folder) > maxFolderSize {
		return "", errors.New("is too long")
	}

	if strings.HasPrefix(folder, "/") {
		return "", errors.New("must be relative")
	}

	if strings.Contains(folder, `\`) {
		return "", errors.New("must not contain backslashes")
	}

	if hasControl(folder) || !utf8.ValidString(folder) {
		return "", errors.New("must not contain control characters")
	}

	folder = strings.TrimSuffix(folder, "/")

	for seg := range strings.SplitSeq(folder, "/") {
		switch seg {
		case "":
			return "", errors.New("must not contain empty segments")
		case ".", "..":
			return "", errors.New("must not contain relative segments")
		}

		if len(seg) > maxFilenameSize {
			return "", errors.New("segment is too long")
		}
	}

	return folder, nil
}

// NormalizeMime lowercases a media type and strips any parameters
func NormalizeMime(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}

func MimeAllowed(m string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	m = NormalizeMime(m)
	if !strings.Contains(m, "/") {
		return false
	}

	for _, a := range allowed {
		a = NormalizeMime(a)

		if a == "*/*" || a == m {
			return true
		}

		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(m, prefix+"/") {
			return true
		}
	}

	return false
}
