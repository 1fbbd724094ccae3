package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
)

const routeKey = "scenes_fwslash_liver_dot_scn"

func TestHealthEndpoint(t *testing.T) {
	handler, _, _ := newTestHandler(t, 0)

	recorder := perform(t, handler, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
}

func TestCommentLifecycle(t *testing.T) {
	handler, _, _ := newTestHandler(t, 0)
	base := "/resources/" + routeKey + "/comments"

	created := perform(t, handler, http.MethodPost, base, `{"author":"alice","body":"mesh too coarse","original_path":"scenes/liver.scn"}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", created.Code, created.Body.String())
	}
	var createResponse struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &createResponse); err != nil || createResponse.ID == "" {
		t.Fatalf("expected created id, got %s", created.Body.String())
	}

	reply := perform(t, handler, http.MethodPost, base, `{"author":"bob","body":"@alice agreed","parent_id":"`+createResponse.ID+`"}`)
	if reply.Code != http.StatusCreated {
		t.Fatalf("expected reply to be created, got %d", reply.Code)
	}

	patched := perform(t, handler, http.MethodPatch, base+"/"+createResponse.ID, `{"body":"mesh far too coarse"}`)
	if patched.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 on patch, got %d", patched.Code)
	}

	listed := listComments(t, handler, base)
	if len(listed) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(listed))
	}
	root := listed[createResponse.ID]
	if root.Body != "mesh far too coarse" || !root.Edited() || root.Author != "alice" {
		t.Fatalf("unexpected root comment after patch: %#v", root)
	}
	if root.OriginalPath != "scenes/liver.scn" {
		t.Fatalf("expected original path to round trip, got %q", root.OriginalPath)
	}

	deleted := perform(t, handler, http.MethodDelete, base+"/"+createResponse.ID, "")
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 on delete, got %d", deleted.Code)
	}
	listed = listComments(t, handler, base)
	if len(listed) != 1 {
		t.Fatalf("expected orphaned reply to remain, got %d comments", len(listed))
	}
}

func TestCommentErrors(t *testing.T) {
	handler, _, _ := newTestHandler(t, 0)
	base := "/resources/" + routeKey + "/comments"

	tests := []struct {
		name         string
		method       string
		path         string
		body         string
		expectedCode int
		expectedErr  string
	}{
		{name: "reserved-key", method: http.MethodGet, path: "/resources/liver.scn/comments", expectedCode: http.StatusBadRequest, expectedErr: errorInvalidKey},
		{name: "malformed-json", method: http.MethodPost, path: base, body: `{`, expectedCode: http.StatusBadRequest, expectedErr: errorInvalidRequest},
		{name: "blank-body", method: http.MethodPost, path: base, body: `{"author":"alice","body":"   "}`, expectedCode: http.StatusBadRequest, expectedErr: errorInvalidRequest},
		{name: "missing-parent", method: http.MethodPost, path: base, body: `{"author":"alice","body":"hi","parent_id":"ghost"}`, expectedCode: http.StatusNotFound, expectedErr: errorNotFound},
		{name: "patch-missing", method: http.MethodPatch, path: base + "/ghost", body: `{"body":"x"}`, expectedCode: http.StatusNotFound, expectedErr: errorNotFound},
		{name: "delete-missing", method: http.MethodDelete, path: base + "/ghost", expectedCode: http.StatusNotFound, expectedErr: errorNotFound},
		{name: "bad-cursor", method: http.MethodGet, path: "/resources/" + routeKey + "/stream?since=abc", expectedCode: http.StatusBadRequest, expectedErr: errorInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := perform(t, handler, tt.method, tt.path, tt.body)
			if recorder.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d", tt.expectedCode, recorder.Code)
			}
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to decode error payload: %v", err)
			}
			if payload.Error != tt.expectedErr {
				t.Fatalf("expected error %q, got %q", tt.expectedErr, payload.Error)
			}
		})
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error without service")
	}
}

func perform(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func listComments(t *testing.T, handler http.Handler, path string) comments.Collection {
	t.Helper()
	recorder := perform(t, handler, http.MethodGet, path, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200 on list, got %d", recorder.Code)
	}
	var payload struct {
		Comments comments.Collection `json:"comments"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode list payload: %v", err)
	}
	return payload.Comments
}
