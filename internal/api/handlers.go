package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/osbits/expira/internal/runner"
	"github.com/osbits/expira/internal/storage"
)

const (
	defaultCheckLimit = 20
	maxCheckLimit     = 500
)

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status      string    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	Database    string    `json:"database"`
	Detail      string    `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok", GeneratedAt: time.Now().UTC()}
	status := http.StatusOK
	if err := a.store.Ping(r.Context()); err != nil {
		resp.Status = "critical"
		resp.Database = "critical"
		resp.Detail = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (a *App) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.store.ListProducts(r.Context())
	if err != nil {
		a.logger.Error("list products", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if products == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *App) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	p, err := a.store.GetProduct(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Product "+id+" not found")
		return
	}
	if err != nil {
		a.logger.Error("get product", "product_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) handleCheckProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	resp, err := a.runner.CheckProduct(r.Context(), id)
	if errors.Is(err, runner.ErrProductNotFound) {
		writeJSON(w, http.StatusNotFound, resp)
		return
	}
	if err != nil {
		a.logger.Error("check product", "product_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to check product: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleListChecks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	limit := defaultCheckLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCheckLimit)
	}
	if _, err := a.store.GetProduct(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Product "+id+" not found")
			return
		}
		a.logger.Error("get product", "product_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	results, err := a.store.ListCheckResults(r.Context(), id, limit)
	if err != nil {
		a.logger.Error("list check results", "product_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list check results")
		return
	}
	writeJSON(w, http.StatusOK, results)
}
