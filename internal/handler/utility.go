package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
)

const maxUploadBytes = 10 << 20

var allowedUploadExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".pdf"}

// HandleUploadFile stores one attachment and returns its opaque handle, which
// clients then attach to an asset, valuation or application.
func (util *RouteHandler) HandleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1024)

	err := r.ParseMultipartForm(maxUploadBytes)
	if err != nil {
		util.ErrHandler.BadRequest(w, r, errors.New("invalid request data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		util.ErrHandler.BadRequest(w, r, errors.New("error retrieving the file"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(allowedUploadExtensions, ext) {
		util.ErrHandler.Handle(w, r, apperror.FieldInvalid("file", "file must be an image or a PDF"))
		return
	}

	handle, err := util.Uploader.Upload(r.Context(), filepath.Base(header.Filename), file)
	if err != nil {
		util.ErrHandler.Handle(w, r, apperror.Upstream("file upload failed", err))
		return
	}

	data := map[string]any{
		"handle": handle,
		"name":   header.Filename,
		"size":   header.Size,
	}

	util.created(w, r, data, "File uploaded successfully")
}
