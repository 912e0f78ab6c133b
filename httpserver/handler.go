package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/mdstore/interfaces"
	"github.com/ruteri/mdstore/multidoc"
)

// DefaultMaxBodySize bounds request bodies. A document travels base64 encoded.
const DefaultMaxBodySize = 2*multidoc.MaxDocumentSize + 64*1024

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// DocumentRequest is the body of write and decrypt requests.
type DocumentRequest struct {
	PartitionKey []byte `json:"partition_key,omitempty"`
	KeyName      string `json:"key_name,omitempty"`
	Password     string `json:"password"`
	Document     []byte `json:"document,omitempty"`
}

// PutResponse is returned by HandlePutDocument.
type PutResponse struct {
	Created     bool   `json:"created"`
	PartitionID string `json:"partition_id"`
}

// DecryptResponse is returned by HandleDecrypt.
type DecryptResponse struct {
	Document []byte `json:"document"`
}

// StoreSummary is returned by HandleInspect.
type StoreSummary struct {
	Name            string         `json:"name"`
	FormatVersion   string         `json:"format_version"`
	Threshold       int            `json:"threshold"`
	SpaceSize       int            `json:"space_size"`
	AllocationRatio float64        `json:"allocation_ratio"`
	Compress        bool           `json:"compress"`
	Partitions      map[string]int `json:"partitions"`
	ShareCount      int            `json:"share_count"`
}

// Handler processes HTTP requests against one multidoc.Service.
type Handler struct {
	service     *multidoc.Service
	keys        interfaces.KeyStore
	log         *slog.Logger
	maxBodySize int64
}

// NewHandler creates a new HTTP request handler.
//
// Parameters:
//   - service: the store service all requests go through
//   - keys: optional key store resolving key_name; may be nil
//   - log: Structured logger for operational insights
func NewHandler(service *multidoc.Service, keys interfaces.KeyStore, log *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		keys:        keys,
		log:         log,
		maxBodySize: DefaultMaxBodySize,
	}
}

// WithMaxBodySize overrides the request body limit.
func (h *Handler) WithMaxBodySize(n int64) *Handler {
	if n > 0 {
		h.maxBodySize = n
	}
	return h
}

// HandlePutDocument creates the store or writes the partition's document
// into it.
//
// URL format: PUT /api/v1/stores/{store}/documents
func (h *Handler) HandlePutDocument(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	req, err := h.readRequest(r)
	if err != nil {
		h.writeError(w, store, err)
		return
	}
	if req.Document == nil {
		h.writeError(w, store, &RequestError{http.StatusBadRequest, errors.New("missing document")})
		return
	}

	key, err := h.partitionKey(r, req)
	if err != nil {
		h.writeError(w, store, err)
		return
	}

	created, err := h.service.Put(r.Context(), store, req.Document, req.Password, key)
	if err != nil {
		h.writeError(w, store, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, PutResponse{Created: created, PartitionID: string(multidoc.PartitionIDOf(key))})
}

// HandleDecrypt reconstructs the partition's document.
//
// URL format: POST /api/v1/stores/{store}/documents/decrypt
func (h *Handler) HandleDecrypt(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	req, err := h.readRequest(r)
	if err != nil {
		h.writeError(w, store, err)
		return
	}

	key, err := h.partitionKey(r, req)
	if err != nil {
		h.writeError(w, store, err)
		return
	}

	document, err := h.service.Decrypt(r.Context(), store, req.Password, key)
	if err != nil {
		h.writeError(w, store, err)
		return
	}
	writeJSON(w, http.StatusOK, DecryptResponse{Document: document})
}

// HandleInspect returns the public metadata of a store.
//
// URL format: GET /api/v1/stores/{store}
func (h *Handler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	store := chi.URLParam(r, "store")
	summary, err := h.service.Inspect(r.Context(), store)
	if err != nil {
		h.writeError(w, store, err)
		return
	}

	meta := summary.Metadata
	partitions := make(map[string]int, len(meta.Partitions))
	for id, info := range meta.Partitions {
		partitions[string(id)] = info.ChunkCount
	}
	writeJSON(w, http.StatusOK, StoreSummary{
		Name:            summary.Name,
		FormatVersion:   meta.FormatVersion,
		Threshold:       meta.Threshold,
		SpaceSize:       meta.SpaceSize,
		AllocationRatio: meta.AllocationRatio,
		Compress:        meta.Compress,
		Partitions:      partitions,
		ShareCount:      summary.ShareCount,
	})
}

func (h *Handler) readRequest(r *http.Request) (DocumentRequest, error) {
	var req DocumentRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		return req, &RequestError{http.StatusBadRequest, errors.New("failed to read request body")}
	}
	if int64(len(body)) > h.maxBodySize {
		return req, &RequestError{http.StatusRequestEntityTooLarge, errors.New("request body too large")}
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, &RequestError{http.StatusBadRequest, errors.New("invalid request body")}
	}
	return req, nil
}

// partitionKey takes the key from the request or resolves key_name.
func (h *Handler) partitionKey(r *http.Request, req DocumentRequest) ([]byte, error) {
	switch {
	case len(req.PartitionKey) > 0 && req.KeyName != "":
		return nil, &RequestError{http.StatusBadRequest, errors.New("partition_key and key_name are exclusive")}
	case len(req.PartitionKey) > 0:
		return req.PartitionKey, nil
	case req.KeyName == "":
		return nil, &RequestError{http.StatusBadRequest, errors.New("missing partition_key")}
	case h.keys == nil:
		return nil, &RequestError{http.StatusBadRequest, errors.New("key_name requires a keyring")}
	}

	key, err := h.keys.Get(r.Context(), req.KeyName)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// writeError maps service errors to status codes. Credential failures share
// one status and body.
func (h *Handler) writeError(w http.ResponseWriter, store string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", slog.String("store", store), "err", err)
	} else {
		h.log.Debug("Request rejected", slog.String("store", store), slog.Int("status", status), "err", err)
	}
	http.Error(w, message, status)
}

func statusFor(err error) (int, string) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode, reqErr.Err.Error()
	case errors.Is(err, interfaces.ErrStoreNotFound):
		return http.StatusNotFound, "store not found"
	case errors.Is(err, interfaces.ErrUpdateFailed):
		return http.StatusInternalServerError, "update failed"
	case errors.Is(err, interfaces.ErrUnknownPartition),
		errors.Is(err, interfaces.ErrDecryptionFailed),
		errors.Is(err, interfaces.ErrInsufficientShares),
		errors.Is(err, interfaces.ErrKeyNotFound):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, interfaces.ErrShareCollision):
		return http.StatusConflict, "share slot collision, use another partition key"
	case errors.Is(err, interfaces.ErrInvalidStoreName),
		errors.Is(err, interfaces.ErrEmptyPartitionKey),
		errors.Is(err, multidoc.ErrDocumentTooLarge):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
