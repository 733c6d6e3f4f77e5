package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/transport"
)

// APIPrefix is the path the test server mounts the inventory API under.
const APIPrefix = "/api"

// TestServer serves the inventory HTTP API over a MockTransport.
type TestServer struct {
	*httptest.Server
	Inventory *transport.MockTransport

	mu       sync.Mutex
	down     bool
	token    string
	presence []*websocket.Conn
	requests int
}

// NewTestServer starts a server with the fixture catalog loaded.
func NewTestServer() *TestServer {
	ts := &TestServer{Inventory: transport.NewMockTransport()}
	for _, p := range Catalog() {
		ts.Inventory.AddProduct(p)
	}

	mux := http.NewServeMux()
	list := APIPrefix + "/instances/{instance}/shopping-list"
	mux.HandleFunc("GET "+list, ts.handleActiveList)
	mux.HandleFunc("POST "+list+"/generate", ts.handleGenerate)
	mux.HandleFunc("POST "+list+"/complete", ts.handleComplete)
	mux.HandleFunc("POST "+list+"/items/bulk-add", ts.handleBulkAdd)
	mux.HandleFunc("PATCH "+list+"/items/bulk-update", ts.handleBulkUpdate)
	mux.HandleFunc("POST "+list+"/items/bulk-remove", ts.handleBulkRemove)
	mux.HandleFunc("GET "+APIPrefix+"/instances/{instance}/products/{product}", ts.handleProduct)
	mux.HandleFunc("GET "+APIPrefix+"/ws/presence", ts.handlePresence)

	ts.Server = httptest.NewServer(ts.guard(mux))
	return ts
}

// BaseURL returns the API root for config.APIConfig.BaseURL.
func (ts *TestServer) BaseURL() string {
	return ts.URL + APIPrefix
}

// RequireToken rejects requests without the bearer token.
func (ts *TestServer) RequireToken(token string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
}

// SetDown drops every connection while down, including open presence
// sockets.
func (ts *TestServer) SetDown(down bool) {
	ts.mu.Lock()
	ts.down = down
	conns := ts.presence
	if down {
		ts.presence = nil
	}
	ts.mu.Unlock()

	if down {
		for _, c := range conns {
			c.Close()
		}
	}
}

// Requests returns how many API requests reached a handler.
func (ts *TestServer) Requests() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requests
}

func (ts *TestServer) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		down, token := ts.down, ts.token
		if !down {
			ts.requests++
		}
		ts.mu.Unlock()

		if down {
			// Drop the connection without a response
			panic(http.ErrAbortHandler)
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, &models.APIError{Code: "UNAUTHORIZED", Message: "missing or invalid token", StatusCode: http.StatusUnauthorized})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ts *TestServer) handleActiveList(w http.ResponseWriter, r *http.Request) {
	list, err := ts.Inventory.ActiveList(r.Context(), r.PathValue("instance"))
	if err == nil && list == nil {
		err = &models.APIError{Code: "NOT_FOUND", Message: "no active shopping list", StatusCode: http.StatusNotFound}
	}
	respond(w, list, err)
}

func (ts *TestServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Merge bool `json:"merge"`
	}
	if !decode(w, r, &req) {
		return
	}
	list, err := ts.Inventory.GenerateList(r.Context(), r.PathValue("instance"), req.Merge)
	respond(w, list, err)
}

func (ts *TestServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	msg, err := ts.Inventory.CompleteList(r.Context(), r.PathValue("instance"))
	respond(w, map[string]string{"message": msg}, err)
}

func (ts *TestServer) handleBulkAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []transport.AddItemRequest `json:"items"`
	}
	if !decode(w, r, &req) {
		return
	}
	items, err := ts.Inventory.BulkAddItems(r.Context(), r.PathValue("instance"), req.Items)
	respond(w, items, err)
}

func (ts *TestServer) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []models.ItemUpdate `json:"updates"`
	}
	if !decode(w, r, &req) {
		return
	}
	items, err := ts.Inventory.BulkUpdateItems(r.Context(), r.PathValue("instance"), req.Updates)
	respond(w, items, err)
}

func (ts *TestServer) handleBulkRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"item_ids"`
	}
	if !decode(w, r, &req) {
		return
	}
	items, err := ts.Inventory.BulkRemoveItems(r.Context(), r.PathValue("instance"), req.ItemIDs)
	respond(w, items, err)
}

func (ts *TestServer) handleProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("product"))
	if err != nil {
		writeError(w, &models.APIError{Code: "BAD_REQUEST", Message: "invalid product id", StatusCode: http.StatusBadRequest})
		return
	}
	product, err := ts.Inventory.Product(r.Context(), r.PathValue("instance"), id)
	respond(w, product, err)
}

func (ts *TestServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ts.mu.Lock()
	ts.presence = append(ts.presence, conn)
	ts.mu.Unlock()

	// Answer pings until the client or SetDown closes the socket
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

func decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, &models.APIError{Code: "BAD_REQUEST", Message: err.Error(), StatusCode: http.StatusBadRequest})
		return false
	}
	return true
}

func respond(w http.ResponseWriter, body interface{}, err error) {
	if err != nil {
		var apiErr *models.APIError
		if errors.As(err, &apiErr) {
			writeError(w, apiErr)
			return
		}
		if models.IsNetworkError(err) {
			panic(http.ErrAbortHandler)
		}
		writeError(w, &models.APIError{Code: "INTERNAL", Message: err.Error(), StatusCode: http.StatusInternalServerError})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, apiErr *models.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_ = json.NewEncoder(w).Encode(apiErr)
}
