package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Resinat/Coffer/internal/service"
)

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name       string
		token      string
		header     string
		wantStatus int
		wantMsg    string
	}{
		{name: "valid", token: "secret-token", header: "Bearer secret-token", wantStatus: http.StatusOK},
		{name: "missing_header", token: "secret-token", wantStatus: http.StatusUnauthorized, wantMsg: "missing Authorization header"},
		{name: "wrong_token", token: "secret-token", header: "Bearer wrong-token", wantStatus: http.StatusUnauthorized, wantMsg: "invalid admin token"},
		{name: "prefix_of_token", token: "secret-token", header: "Bearer secret", wantStatus: http.StatusUnauthorized, wantMsg: "invalid admin token"},
		{name: "basic_scheme", token: "secret-token", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized, wantMsg: "invalid Authorization header format"},
		{name: "disabled", token: "", wantStatus: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := AuthMiddleware(tc.token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status: got %d, want %d", rec.Code, tc.wantStatus)
			}
			if called != (tc.wantStatus == http.StatusOK) {
				t.Fatalf("next called=%v with status %d", called, rec.Code)
			}
			if tc.wantMsg != "" {
				assertBodyContains(t, rec, "UNAUTHORIZED")
				assertBodyContains(t, rec, tc.wantMsg)
			}
		})
	}
}

func TestRequestBodyLimitMiddleware_OversizedBodyGets413(t *testing.T) {
	handler := RequestBodyLimitMiddleware(4, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := readBody(w, r); ok {
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("12345")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	assertBodyContains(t, rec, "max 4 bytes")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("1234")))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("body at the limit: got %d", rec.Code)
	}
}

func TestWriteServiceError(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{&service.ServiceError{Code: "INVALID_ARGUMENT", Message: "bad"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{&service.ServiceError{Code: "NOT_FOUND", Message: "gone"}, http.StatusNotFound, "NOT_FOUND"},
		{&service.ServiceError{Code: "CONFLICT", Message: "busy"}, http.StatusConflict, "CONFLICT"},
		{&service.ServiceError{Code: "SOMETHING_NEW", Message: "?"}, http.StatusInternalServerError, "SOMETHING_NEW"},
		{errors.New("db exploded"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tc.err)
		if rec.Code != tc.wantStatus {
			t.Errorf("%v: status %d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
		assertBodyContains(t, rec, `"code":"`+tc.wantCode+`"`)
	}

	rec := httptest.NewRecorder()
	writeServiceError(rec, errors.New("db exploded"))
	if strings.Contains(rec.Body.String(), "exploded") {
		t.Fatalf("internal error detail leaked: %s", rec.Body.String())
	}
}

func assertBodyContains(t *testing.T, rec *httptest.ResponseRecorder, substr string) {
	t.Helper()
	if body := rec.Body.String(); !strings.Contains(body, substr) {
		t.Errorf("body %q does not contain %q", body, substr)
	}
}
