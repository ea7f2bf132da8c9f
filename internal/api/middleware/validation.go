package middleware

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nextconvert/shorts/internal/modules/compose"
)

// multipartMemory is the part of a form kept in memory; the rest spills to
// temp files.
const multipartMemory = 32 << 20

var (
	imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
	audioExts = []string{".mp3", ".wav", ".ogg", ".m4a", ".aac", ".flac"}
	videoExts = []string{".mp4", ".mov", ".avi", ".webm", ".mkv", ".mpeg", ".mpg"}
)

// UploadRules maps form fields to the extensions they accept.
type UploadRules map[string][]string

// ComposeUploadRules covers every staged field of the composition operations.
var ComposeUploadRules = UploadRules{
	compose.FieldImages:   imageExts,
	compose.FieldAudio:    audioExts,
	compose.FieldFiles:    audioExts,
	compose.FieldVideo:    videoExts,
	compose.FieldOutro:    append(slices.Clone(imageExts), videoExts...),
	compose.FieldCaptions: {".ass", ".ssa"},
}

// ValidateUploads parses a multipart body of at most maxSize bytes and checks
// every file against rules. The parsed form is left on the request for the
// handler and its temp files are removed afterwards.
func ValidateUploads(rules UploadRules, maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				WriteError(w, http.StatusBadRequest, "expected a multipart/form-data body", "validation")
				return
			}

			if maxSize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			if err := r.ParseMultipartForm(multipartMemory); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					WriteError(w, http.StatusRequestEntityTooLarge,
						fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), "validation")
					return
				}
				WriteError(w, http.StatusBadRequest, "failed to parse form", "validation")
				return
			}
			defer r.MultipartForm.RemoveAll()

			if err := rules.Check(r.MultipartForm.File); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "validation")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Check validates the files of a parsed form.
func (u UploadRules) Check(files map[string][]*multipart.FileHeader) error {
	for field, headers := range files {
		allowed, ok := u[field]
		if !ok {
			return fmt.Errorf("unexpected file field %q", field)
		}
		for _, fh := range headers {
			ext := strings.ToLower(filepath.Ext(fh.Filename))
			if !slices.Contains(allowed, ext) {
				return fmt.Errorf("%s: file extension %q is not allowed", field, ext)
			}
		}
	}
	return nil
}
