package presenceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProfileChecker(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		complete bool
		wantErr  bool
	}{
		{
			name:     "both assets present",
			status:   http.StatusOK,
			body:     `{"selfieUrl":"https://cdn/s.jpg","videoUrl":"https://cdn/v.mp4"}`,
			complete: true,
		},
		{
			name:   "missing video",
			status: http.StatusOK,
			body:   `{"selfieUrl":"https://cdn/s.jpg","videoUrl":""}`,
		},
		{
			name:   "missing selfie",
			status: http.StatusOK,
			body:   `{"selfieUrl":"","videoUrl":"https://cdn/v.mp4"}`,
		},
		{
			name:    "backend error",
			status:  http.StatusInternalServerError,
			body:    `{}`,
			wantErr: true,
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `not-json`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/user/me", r.URL.Path)
				assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			checker := NewHTTPProfileChecker(server.URL, "session-token", nil)
			complete, err := checker.ProfileComplete(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.complete, complete)
		})
	}
}
