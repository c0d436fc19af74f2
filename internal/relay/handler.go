package relay

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxBodySize is the request body limit when none is configured.
const DefaultMaxBodySize = 10 * 1024 * 1024

// Options configures the relay HTTP handler.
type Options struct {
	Service      *Service
	Metrics      *Metrics
	Static       fs.FS
	ClientOrigin string
	MaxBodySize  int64
}

// sendRequest is the JSON body of a chart submission. The web page sends
// recipient and chartImage; email and image are accepted as aliases.
type sendRequest struct {
	Recipient  string `json:"recipient"`
	Email      string `json:"email"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	ChartImage string `json:"chartImage"`
	Image      string `json:"image"`
}

func (r sendRequest) resolve() Request {
	out := Request{
		Recipient:  r.Recipient,
		Subject:    r.Subject,
		Message:    r.Message,
		ChartImage: r.ChartImage,
	}
	if out.Recipient == "" {
		out.Recipient = r.Email
	}
	if out.ChartImage == "" {
		out.ChartImage = r.Image
	}
	return out
}

type sendResponse struct {
	Success       bool     `json:"success"`
	MessageID     string   `json:"messageId,omitempty"`
	Error         string   `json:"error,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
}

// NewHandler builds the relay router:
//
//	POST /api/send-email             chart submission
//	POST /api/send-chart-email       same, original path
//	GET  /api/test-email-connection  provider self-test
//	GET  /healthz                    liveness
//	GET  /metrics                    Prometheus metrics
//	GET  /*                          static chart page
func NewHandler(opts Options) http.Handler {
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if opts.ClientOrigin != "" {
		r.Use(CORS(DefaultCORSConfig(opts.ClientOrigin)))
	}

	h := &handler{service: opts.Service, maxBody: maxBody}

	r.Route("/api", func(r chi.Router) {
		r.Post("/send-email", h.send)
		r.Post("/send-chart-email", h.send)
		r.Get("/test-email-connection", h.testConnection)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	if opts.Static != nil {
		r.Handle("/*", http.FileServerFS(opts.Static))
	}

	return r
}

type handler struct {
	service *Service
	maxBody int64
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, sendResponse{Error: "Request body too large"})
			return
		}
		slog.DebugContext(r.Context(), "invalid request body",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusBadRequest, sendResponse{Error: "Invalid JSON request body"})
		return
	}

	id, err := h.service.Send(r.Context(), body.resolve())
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			slog.InfoContext(r.Context(), "chart email rejected",
				"request_id", middleware.GetReqID(r.Context()),
				"error", err,
			)
			writeJSON(w, http.StatusBadRequest, sendResponse{
				Error:         verr.Message,
				MissingFields: verr.MissingFields,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, sendResponse{Error: userMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id})
}

func (h *handler) testConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.service.TestConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, sendResponse{Error: userMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
