package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CTAG07/Haikoo/pkg/haiku"
	"github.com/CTAG07/Haikoo/pkg/render"
	"github.com/google/uuid"
)

const (
	imageRoute    = "/api/haiku/images/"
	minThumbSize  = 16
	maxThumbSize  = 1024
	imageFileType = ".png"
)

// HaikuAPI holds the dependencies for the haiku generation handlers.
type HaikuAPI struct {
	haikoo *Haikoo
	cm     *ConfigManager
	logger *slog.Logger
}

// NewHaikuAPI creates a new instance of the HaikuAPI.
func NewHaikuAPI(h *Haikoo, cm *ConfigManager, logger *slog.Logger) *HaikuAPI {
	return &HaikuAPI{
		haikoo: h,
		cm:     cm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/haiku endpoints.
func (a *HaikuAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/haiku", a.handleCreate)
	mux.HandleFunc("/api/haiku/presets", a.handlePresets)
	mux.HandleFunc(imageRoute, a.handleImage)
}

// CreateHaikuRequest is the JSON body for generating a haiku from an image URL.
type CreateHaikuRequest struct {
	URL      string   `json:"url"`
	Keywords []string `json:"keywords"`
}

// HaikuResponse describes a generated haiku and its image.
type HaikuResponse struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Keywords     []*string `json:"keywords"`
	ImageURL     string    `json:"image_url"`
	ErrorMessage *string   `json:"error_message"`
}

// handleCreate generates a haiku from an uploaded image (multipart field
// "image") or from an image URL given as JSON.
func (a *HaikuAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "haiku:create") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'haiku:create' scope")
		return
	}

	cfg := a.cm.Get()
	r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxUploadBytes)

	var input string
	var keywords []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		upload, kw, err := a.saveUpload(r, cfg.Server.MaxUploadBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondWithError(w, http.StatusRequestEntityTooLarge, "Image is too large")
				return
			}
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer func(name string) {
			_ = os.Remove(name)
		}(upload)
		input, keywords = upload, kw
	} else {
		var req CreateHaikuRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
			respondWithError(w, http.StatusBadRequest, "An http(s) image url is required")
			return
		}
		input, keywords = req.URL, req.Keywords
	}

	gen := a.haikoo.Generator()
	if len(keywords) > 0 {
		var err error
		gen, err = a.haikoo.WithKeywords(r.Context(), keywords)
		if err != nil {
			a.logger.Error("Failed to prepare keyword generator", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
			return
		}
	}

	if err := os.MkdirAll(cfg.Server.OutputDir, 0o755); err != nil {
		a.logger.Error("Failed to create output directory", "dir", cfg.Server.OutputDir, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to prepare output directory")
		return
	}
	id := uuid.NewString()
	out := filepath.Join(cfg.Server.OutputDir, id+imageFileType)

	result := gen.CreateImage(r.Context(), input, out)
	resp := HaikuResponse{
		ID:           id,
		Text:         result.Text,
		Keywords:     result.Keywords,
		ErrorMessage: result.ErrorMessage,
	}
	if result.Image != "" {
		resp.ImageURL = imageRoute + id
	}

	a.logger.Info("Haiku request served",
		"id", id,
		"remote_addr", getClientIP(r, a.cm),
		"success", result.Success(),
	)
	if !result.Success() {
		respondWithJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	respondWithJSON(w, http.StatusCreated, resp)
}

// saveUpload copies the "image" form file to a temporary file and returns its
// path with the optional comma-separated "keywords" field.
func (a *HaikuAPI) saveUpload(r *http.Request, maxBytes int64) (string, []string, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return "", nil, errors.New("multipart field 'image' is required")
	}
	defer func(file io.Closer) {
		_ = file.Close()
	}(file)

	tmp, err := os.CreateTemp("", "haikoo-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", nil, err
	}
	if _, err = io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, err
	}

	var keywords []string
	for _, k := range strings.Split(r.FormValue("keywords"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return tmp.Name(), keywords, nil
}

// handleImage serves a generated image, or a thumbnail of it when the
// "thumb" query parameter gives a size.
func (a *HaikuAPI) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "haiku:create") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'haiku:create' scope")
		return
	}

	id, err := uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, imageRoute), "/"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid image ID format in URL")
		return
	}

	dir := a.cm.Get().Server.OutputDir
	path := filepath.Join(dir, id.String()+imageFileType)
	if _, err = os.Stat(path); err != nil {
		respondWithError(w, http.StatusNotFound, "Image not found")
		return
	}

	if thumb := r.URL.Query().Get("thumb"); thumb != "" {
		size, err := strconv.Atoi(thumb)
		if err != nil || size < minThumbSize || size > maxThumbSize {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("thumb must be between %d and %d", minThumbSize, maxThumbSize))
			return
		}
		thumbPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", id, size, imageFileType))
		if _, err = os.Stat(thumbPath); err != nil {
			if _, err = render.Thumbnail(path, thumbPath, size, size); err != nil {
				a.logger.Error("Failed to create thumbnail", "id", id.String(), "error", err)
				respondWithError(w, http.StatusInternalServerError, "Failed to create thumbnail")
				return
			}
		}
		path = thumbPath
	}

	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// handlePresets lists the model presets and the configured model.
func (a *HaikuAPI) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "markov:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'markov:read' scope")
		return
	}

	presets := make(map[string]haiku.ModelConfig)
	for _, name := range haiku.PresetNames() {
		presets[name], _ = haiku.Preset(name)
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"model":   a.cm.Get().Generator.Model,
		"presets": presets,
	})
}
