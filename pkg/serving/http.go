package serving

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/mocab/pkg/common/logger"
	"github.com/synaptica-ai/mocab/pkg/observability/metrics"
	"github.com/synaptica-ai/mocab/pkg/route"
	"github.com/synaptica-ai/mocab/pkg/transform"
)

type HTTPHandler struct {
	service *Service
	rules   *route.RuleTable
	maxBody int64
}

// NewHTTPHandler serves service. rules backs route resolution by rule
// name and may be nil.
func NewHTTPHandler(service *Service, rules *route.RuleTable, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, rules: rules, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.handleMetrics).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/models", h.handleModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{model}/columns", h.handleColumns).Methods(http.MethodGet)
	api.HandleFunc("/models/{model}/transform", h.handleTransform).Methods(http.MethodPost)
	api.HandleFunc("/models/{model}/assemble", h.handleAssemble).Methods(http.MethodPost)
	api.HandleFunc("/models/{model}/vectors", h.handleVectors).Methods(http.MethodGet)
	api.HandleFunc("/routes/resolve", h.handleResolve).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

func (h *HTTPHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": h.service.Models()})
}

func (h *HTTPHandler) handleColumns(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Model(mux.Vars(r)["model"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":   info.Name,
		"columns": info.Columns,
		"inputs":  info.Inputs,
	})
}

type transformRequest struct {
	// Inputs maps names to {"value": v, "date": d} objects.
	Inputs map[string]interface{} `json:"inputs"`
	// Values maps names to bare values.
	Values map[string]interface{} `json:"values"`
}

func (h *HTTPHandler) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if !h.decode(w, r, &req) {
		return
	}

	inputs := transform.InputsFromMap(req.Inputs)
	for name, v := range req.Values {
		if _, ok := inputs[name]; !ok {
			inputs[name] = transform.Input{Value: v}
		}
	}

	result, err := h.service.Transform(r.Context(), mux.Vars(r)["model"], inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Model = mux.Vars(r)["model"]

	result, err := h.service.Assemble(r.Context(), SourceHTTP, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleVectors(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if val := r.URL.Query().Get("limit"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	logs, err := h.service.Recent(r.Context(), mux.Vars(r)["model"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []VectorLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vectors": logs})
}

type resolveRequest struct {
	Expression string      `json:"expression"`
	Rule       string      `json:"rule"`
	Record     interface{} `json:"record"`
}

func (h *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	var plan route.Plan
	switch {
	case req.Rule != "":
		if h.rules == nil {
			http.Error(w, "no resource routes loaded", http.StatusNotFound)
			return
		}
		rule, ok := h.rules.Get(req.Rule)
		if !ok {
			http.Error(w, "unknown rule", http.StatusNotFound)
			return
		}
		if rule.Builtin != "" {
			http.Error(w, "rule "+rule.Name+" calls a builtin and has no path", http.StatusBadRequest)
			return
		}
		plan = rule.Plan
	case req.Expression != "":
		var err error
		if plan, err = route.Compile(req.Expression); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "expression or rule is required", http.StatusBadRequest)
		return
	}

	value, found := route.Resolve(plan, req.Record)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":  plan.String(),
		"found": found,
		"value": value,
	})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		logger.Log.WithError(err).Warn("invalid request payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transform.ErrUnknownModel):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrAssemblyDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case IsRequestError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Log.WithError(err).Error("failed to build feature vector")
		http.Error(w, "failed to build feature vector", http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}
