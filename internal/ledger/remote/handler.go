package remote

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
)

// Handler serves a Store over the PostgREST dialect spoken by RESTClient:
//
//	GET    /rest/v1/{table}?user_id=eq.X[&updated_at=gt.T][&id=in.(a,b)]
//	POST   /rest/v1/{table}                 insert, returns [row]
//	PATCH  /rest/v1/{table}?id=eq.X         update, returns [row] or []
//	DELETE /rest/v1/{table}?id=eq.X
//	POST   /rest/v1/app_settings?on_conflict=user_id,key
//
// When an api key is configured every request must carry it in the apikey
// header.
type Handler struct {
	store  Store
	apiKey string
	logger *log.Logger
	router *mux.Router
}

// NewHandler creates a handler for store. An empty apiKey disables the key
// check. If logger is nil, logs go to stderr with a "[remote] " prefix.
func NewHandler(store Store, apiKey string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	h := &Handler{
		store:  store,
		apiKey: apiKey,
		logger: logger,
		router: mux.NewRouter(),
	}

	h.router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	api := h.router.PathPrefix("/rest/v1").Subrouter()
	api.Use(h.requireAPIKey)
	api.HandleFunc("/{table}", h.handleSelect).Methods(http.MethodGet)
	api.HandleFunc("/{table}", h.handleInsert).Methods(http.MethodPost)
	api.HandleFunc("/{table}", h.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/{table}", h.handleDelete).Methods(http.MethodDelete)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.validKey(r.Header.Get("apikey")) {
			respondError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) validKey(key string) bool {
	if h.apiKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) == 1
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := mux.Vars(r)["table"]

	q, err := decodeQuery(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch table {
	case TableSettings:
		rows, err := h.store.SelectSettings(ctx, q.UserID)
		h.respond(w, http.StatusOK, rows, err)
	case TableBooks:
		rows, err := h.store.SelectBooks(ctx, q)
		h.respond(w, http.StatusOK, rows, err)
	case TableCategories:
		rows, err := h.store.SelectCategories(ctx, q)
		h.respond(w, http.StatusOK, rows, err)
	case TableTransactions:
		rows, err := h.store.SelectTransactions(ctx, q)
		h.respond(w, http.StatusOK, rows, err)
	default:
		respondError(w, http.StatusNotFound, "unknown table "+table)
	}
}

func (h *Handler) handleInsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := mux.Vars(r)["table"]

	switch table {
	case TableBooks:
		insertAndRespond(ctx, h, w, r, h.store.InsertBook)
	case TableCategories:
		insertAndRespond(ctx, h, w, r, h.store.InsertCategory)
	case TableTransactions:
		insertAndRespond(ctx, h, w, r, h.store.InsertTransaction)
	case TableSettings:
		s, err := decodeBody[Setting](r.Body)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		err = h.store.UpsertSetting(ctx, s)
		h.respond(w, http.StatusCreated, []*Setting{s}, err)
	default:
		respondError(w, http.StatusNotFound, "unknown table "+table)
	}
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := mux.Vars(r)["table"]

	id, err := eqID(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch table {
	case TableBooks:
		updateAndRespond(ctx, h, w, r, func(b *Book) { b.ID = id }, h.store.UpdateBook)
	case TableCategories:
		updateAndRespond(ctx, h, w, r, func(c *Category) { c.ID = id }, h.store.UpdateCategory)
	case TableTransactions:
		updateAndRespond(ctx, h, w, r, func(t *Transaction) { t.ID = id }, h.store.UpdateTransaction)
	default:
		respondError(w, http.StatusNotFound, "unknown table "+table)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := mux.Vars(r)["table"]

	id, err := eqID(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch table {
	case TableBooks:
		err = h.store.DeleteBook(ctx, id)
	case TableCategories:
		err = h.store.DeleteCategory(ctx, id)
	case TableTransactions:
		err = h.store.DeleteTransaction(ctx, id)
	default:
		respondError(w, http.StatusNotFound, "unknown table "+table)
		return
	}
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func insertAndRespond[T any](ctx context.Context, h *Handler, w http.ResponseWriter, r *http.Request, insert func(context.Context, *T) (string, error)) {
	row, err := decodeBody[T](r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, err = insert(ctx, row)
	h.respond(w, http.StatusCreated, []*T{row}, err)
}

func updateAndRespond[T any](ctx context.Context, h *Handler, w http.ResponseWriter, r *http.Request, setID func(*T), update func(context.Context, *T) error) {
	row, err := decodeBody[T](r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	setID(row)
	if err := update(ctx, row); err != nil {
		if errors.Is(err, ErrNotFound) {
			respondJSON(w, http.StatusOK, []*T{})
			return
		}
		h.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, []*T{row})
}

// decodeBody accepts a single JSON object or a one-element array.
func decodeBody[T any](body io.Reader) (*T, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return nil, err
	}
	var many []*T
	if err := json.Unmarshal(raw, &many); err == nil {
		if len(many) != 1 || many[0] == nil {
			return nil, errors.New("expected exactly one row")
		}
		return many[0], nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, errors.New("invalid request payload")
	}
	return &one, nil
}

// respond writes rows with status, or maps err to an error response.
func (h *Handler) respond(w http.ResponseWriter, status int, rows any, err error) {
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	respondJSON(w, status, rows)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		respondError(w, apiErr.Status, apiErr.Message)
	case errors.Is(err, ErrMissingParent):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Printf("store error: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}
