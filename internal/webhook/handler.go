// Package webhook is the inbound HTTP surface of the chatbot: platform
// webhooks, on-demand sends and one-shot media downloads.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/media"
	"github.com/ziadkadry99/chatpilot/internal/wassenger"
)

const maxBodySize = 1 << 20

// Processor accepts inbound events for background processing.
type Processor interface {
	Submit(ev *wassenger.WebhookEvent)
}

// Sender delivers messages on demand.
type Sender interface {
	SendMessage(ctx context.Context, req wassenger.SendRequest) (*wassenger.SendResult, error)
}

// Files hands out stored media exactly once.
type Files interface {
	Take(id string) (*media.File, error)
}

// Handler serves the webhook endpoints.
type Handler struct {
	processor Processor
	sender    Sender
	files     Files
	device    wassenger.Device
	log       *logrus.Entry
}

// New creates a Handler. files may be nil when voice replies are disabled.
func New(processor Processor, sender Sender, files Files, device wassenger.Device, log *logrus.Entry) *Handler {
	return &Handler{processor: processor, sender: sender, files: files, device: device, log: log}
}

// RegisterRoutes mounts the endpoints. limit wraps the on-demand send
// routes; it may be nil.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/", h.handleIndex)
	r.Post("/webhook", h.handleWebhook)
	r.Get("/files/{id}", h.handleFile)

	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/message", h.handleSendMessage)
		r.Get("/sample", h.handleSample)
	})
}

type endpoint struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "chatbot",
		"description": "WhatsApp ChatGPT powered chatbot for Wassenger",
		"endpoints": map[string]endpoint{
			"webhook":     {Path: "/webhook", Method: http.MethodPost},
			"sendMessage": {Path: "/message", Method: http.MethodPost},
			"sample":      {Path: "/sample", Method: http.MethodGet},
		},
	})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev wassenger.WebhookEvent
	if err := decode(r, &ev); err != nil || ev.Event == "" || ev.Data == nil {
		writeMessage(w, http.StatusBadRequest, "Invalid payload body")
		return
	}
	if ev.Event != wassenger.EventMessageInNew {
		writeMessage(w, http.StatusAccepted, "Ignore webhook event: only "+wassenger.EventMessageInNew+" is accepted")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	h.log.WithFields(logrus.Fields{"event": ev.ID, "from": ev.Data.FromNumber}).Debug("webhook event received")
	h.processor.Submit(&ev)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req wassenger.SendRequest
	if err := decode(r, &req); err != nil || req.Phone == "" || (req.Message == "" && req.Media == nil) {
		writeMessage(w, http.StatusBadRequest, "Invalid payload body")
		return
	}
	if req.Device == "" {
		req.Device = h.device.ID
	}
	h.send(w, r, req, "Failed to send message")
}

func (h *Handler) handleSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := wassenger.SendRequest{
		Phone:   q.Get("phone"),
		Message: q.Get("message"),
		Device:  h.device.ID,
	}
	if req.Phone == "" {
		req.Phone = h.device.Phone
	}
	if req.Message == "" {
		req.Message = "Hello World from Wassenger!"
	}
	h.send(w, r, req, "Failed to send sample message")
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, req wassenger.SendRequest, failure string) {
	res, err := h.sender.SendMessage(r.Context(), req)
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}

	var apiErr *wassenger.APIError
	if errors.As(err, &apiErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		if json.Valid(apiErr.Body) {
			w.Write(apiErr.Body)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": failure})
		return
	}
	h.log.WithError(err).WithField("phone", req.Phone).Warn("on-demand send failed")
	writeMessage(w, http.StatusInternalServerError, failure)
}

func (h *Handler) handleFile(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		http.NotFound(w, r)
		return
	}
	f, err := h.files.Take(chi.URLParam(r, "id"))
	if errors.Is(err, media.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.log.WithError(err).Warn("failed to read media file")
		writeMessage(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(f.Data)
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
