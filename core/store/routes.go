// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/logger"
	"github.com/relabs-tech/melone/core/store/blobs"
)

// authorHeader optionally carries the resource id of the creating user on
// create requests.
const authorHeader = "Melone-Author"

func (s *Store) handleRoutes(enableCORS bool) {
	if enableCORS {
		s.handleCORS()
	}
	router := s.router

	router.HandleFunc("/api/store/resources", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var author *uuid.UUID
		if value := r.Header.Get(authorHeader); value != "" {
			parsed, err := uuid.Parse(value)
			if err != nil {
				writeError(w, r, core.BadDataError("invalid "+authorHeader+" header"))
				return
			}
			author = &parsed
		}
		rendered, err := s.Create(r.Context(), raw, author)
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, r, http.StatusOK, map[string]interface{}{"data": rendered})
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/store/resources/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		id, err := parseID(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		switch r.Method {
		case http.MethodGet:
			rendered, err := s.Read(r.Context(), id)
			if err != nil {
				writeError(w, r, err)
				return
			}
			jsonResponse(w, r, http.StatusOK, map[string]interface{}{"data": rendered})
		case http.MethodPatch:
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, err)
				return
			}
			rendered, err := s.Update(r.Context(), id, raw)
			if err != nil {
				writeError(w, r, err)
				return
			}
			jsonResponse(w, r, http.StatusOK, map[string]interface{}{"data": rendered})
		case http.MethodDelete:
			if err := s.Delete(r.Context(), id); err != nil {
				writeError(w, r, err)
				return
			}
			jsonResponse(w, r, http.StatusOK, map[string]interface{}{})
		}
	}).Methods(http.MethodOptions, http.MethodGet, http.MethodPatch, http.MethodDelete)

	router.HandleFunc("/api/store/resources/{id}/{key}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		id, err := parseID(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		key := mux.Vars(r)["key"]
		var rendered interface{}
		switch r.Method {
		case http.MethodGet:
			rendered, err = s.ItemRead(r.Context(), id, key)
		case http.MethodPut:
			rendered, err = s.itemPut(w, r, id, key)
		case http.MethodPost:
			var raw []byte
			if raw, err = io.ReadAll(r.Body); err == nil {
				rendered, err = s.ItemAppend(r.Context(), id, key, raw)
			}
		case http.MethodDelete:
			var raw []byte
			if raw, err = io.ReadAll(r.Body); err == nil {
				rendered, err = s.ItemRemove(r.Context(), id, key, raw)
			}
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		jsonResponse(w, r, http.StatusOK, rendered)
	}).Methods(http.MethodOptions, http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete)

	// type names may carry a namespace prefix with a slash
	router.HandleFunc(`/api/store/by-type/{type:[\w-]+(?:/[\w-]+)?}`, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		resources, err := s.ByType(r.Context(), mux.Vars(r)["type"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		links := make([]interface{}, 0, len(resources))
		for _, rendered := range resources {
			links = append(links, map[string]interface{}{
				"id":   rendered["id"],
				"type": rendered["type"],
				"href": rendered["href"],
			})
		}
		jsonResponse(w, r, http.StatusOK, map[string]interface{}{"data": links})
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/store/by-handle/{handle}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		handle := mux.Vars(r)["handle"]
		switch r.Method {
		case http.MethodGet:
			link, err := s.ByHandle(r.Context(), handle)
			if err != nil {
				writeError(w, r, err)
				return
			}
			jsonResponse(w, r, http.StatusOK, map[string]interface{}{"data": link})
		case http.MethodPost, http.MethodPut:
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, err)
				return
			}
			allowOverwrite := r.Method == http.MethodPut
			link, err := s.HandleSet(r.Context(), handle, raw, allowOverwrite)
			if err != nil {
				writeError(w, r, err)
				return
			}
			jsonResponse(w, r, http.StatusOK, map[string]interface{}{"data": link})
		case http.MethodDelete:
			if err := s.HandleDelete(r.Context(), handle); err != nil {
				writeError(w, r, err)
				return
			}
			jsonResponse(w, r, http.StatusOK, map[string]interface{}{})
		}
	}).Methods(http.MethodOptions, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)

	router.HandleFunc("/api/store/blobs/{blob}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		content, contentType, err := s.BlobOpen(r.Context(), mux.Vars(r)["blob"])
		if err == blobs.ErrNoBlob {
			writeError(w, r, &core.Error{
				Code:   core.CodeNoResource,
				Status: http.StatusNotFound,
				Title:  "no such resource",
				Detail: "no blob " + mux.Vars(r)["blob"],
			})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer content.Close()
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, content); err != nil {
			logger.FromContext(r.Context()).Warnln("could not stream blob:", err)
		}
	}).Methods(http.MethodOptions, http.MethodGet)
}

// itemPut dispatches on the field kind: upload items consume the raw
// request body with its content type, everything else expects JSON.
func (s *Store) itemPut(w http.ResponseWriter, r *http.Request, id uuid.UUID, key string) (interface{}, error) {
	_, ts, err := s.load(r.Context(), id)
	if err != nil {
		return nil, err
	}
	field, err := ts.Field(key)
	if err != nil {
		return nil, err
	}
	if field.IsUpload() {
		defer r.Body.Close()
		return s.ItemUpload(r.Context(), id, key, r.Header.Get("Content-Type"), r.Body)
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return s.ItemUpdate(r.Context(), id, key, raw)
}

func (s *Store) handleCORS() {
	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, "+authorHeader)
			w.Header().Set("Access-Control-Expose-Headers", "*")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method, " (handled by CORS middleware)")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.ServeHTTP(w, r)
		})
	}
	s.router.Use(corsMiddleware)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, core.BadDataError("invalid resource id " + raw)
	}
	return id, nil
}

// writeError renders an error as a {"errors": [...]} document. Errors
// without a structured form become an internal server error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := core.AsError(err)
	if !ok {
		logger.FromContext(r.Context()).Errorln("internal error:", err)
		e = &core.Error{
			Code:   core.CodeBadData,
			Status: http.StatusInternalServerError,
			Title:  "internal error",
			Detail: "internal error",
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	payload, _ := json.Marshal(map[string]interface{}{"errors": []interface{}{e}})
	w.Write(payload)
}

func jsonResponse(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
