package problems

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase(t *testing.T) {
	t.Setenv("PROBLEM_BASE_URL", "")
	t.Setenv("BASE_PUBLIC_URL", "")
	assert.Equal(t, "https://example.com/problems/not-ready", Type("not-ready"))

	t.Setenv("BASE_PUBLIC_URL", "https://orgs.internal/")
	assert.Equal(t, "https://orgs.internal/problems", Base())

	t.Setenv("PROBLEM_BASE_URL", "https://errors.internal/p/")
	assert.Equal(t, "https://errors.internal/p", Base())
}

func TestWrite(t *testing.T) {
	t.Setenv("PROBLEM_BASE_URL", "https://p.test")
	rec := httptest.NewRecorder()
	Write(rec, New(http.StatusServiceUnavailable, "not-ready", "Organization not ready", "acme"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var got Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, Problem{Type: "https://p.test/not-ready", Title: "Organization not ready", Status: 503, Detail: "acme"}, got)
}
