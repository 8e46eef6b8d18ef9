package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/document"
)

type createDocumentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

func (a *API) handleDocuments(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		docs, err := a.documents.List(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if docs == nil {
			docs = []document.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	case http.MethodPost:
		var req createDocumentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		doc, err := a.documents.Create(r.Context(), id, document.Document{
			Filename:    req.Filename,
			ContentType: req.ContentType,
			Size:        req.Size,
			ContentHash: req.ContentHash,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, "document.create", map[string]string{"document_id": doc.ID})
		w.Header().Set("Location", fmt.Sprintf("/v1/documents/%s", doc.ID))
		writeJSON(w, http.StatusCreated, doc)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDocument(w http.ResponseWriter, r *http.Request) {
	docID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), "/")
	if docID == "" || strings.Contains(docID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id := auth.IdentityFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		doc, err := a.documents.Get(r.Context(), id, docID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPut, http.MethodPatch:
		var upd document.Update
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		doc, err := a.documents.Update(r.Context(), id, docID, upd, r.Method == http.MethodPatch)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := a.documents.Delete(r.Context(), id, docID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(r, "document.delete", map[string]string{"document_id": docID})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}
