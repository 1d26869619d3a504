package handlers

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/schisto-cnn/internal/dataset"
	"github.com/Brownie44l1/schisto-cnn/internal/model"
	"github.com/Brownie44l1/schisto-cnn/internal/monitor"
)

type Handler struct {
	classifier *model.Classifier
	loader     *dataset.Loader
	metrics    *monitor.Prometheus
}

// NewHandler serves classifier. loader preprocesses uploaded images the same
// way the training images were; it may be nil when no backbone is loaded.
func NewHandler(classifier *model.Classifier, loader *dataset.Loader, metrics *monitor.Prometheus) *Handler {
	return &Handler{
		classifier: classifier,
		loader:     loader,
		metrics:    metrics,
	}
}

// Routes registers every endpoint on a new router.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(cors)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/predict", h.Predict).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/predict/image", h.PredictFromImage).Methods(http.MethodPost, http.MethodOptions)
	if h.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"classes": h.classifier.Classes,
		"image":   h.loader != nil,
	})
}

// Predict classifies a raw bottleneck feature vector.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if expected := h.classifier.FeatureWidth(); len(req.Features) != expected {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Features)),
			http.StatusBadRequest)
		return
	}

	result, err := h.classifier.PredictFeatures(req.Features)
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}
	h.respond(w, result)
}

// PredictFromImage classifies an uploaded image and returns the top classes.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		http.Error(w, "Image prediction unavailable: no backbone loaded", http.StatusServiceUnavailable)
		return
	}

	// 10MB max
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG, BMP, TIFF, PPM", http.StatusBadRequest)
		return
	}
	log.Debug().
		Str("file", header.Filename).
		Int64("bytes", header.Size).
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("received image")

	result, err := h.classifier.PredictImage(h.preprocessImage(img))
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}
	h.respond(w, result)
}

// preprocessImage converts an image to the tensor the backbone expects.
func (h *Handler) preprocessImage(img image.Image) []float32 {
	input := make([]float32, h.loader.SampleLen())
	h.loader.Tensor(img, 0, input)
	return input
}

func (h *Handler) respond(w http.ResponseWriter, result *model.PredictionResponse) {
	if h.metrics != nil {
		h.metrics.Predictions.WithLabelValues(result.Class).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
