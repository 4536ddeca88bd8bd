package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchemaReturnsExistingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/subjects/activity_logged-value/versions/latest", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]int{"id": 12})
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL+"/").EnsureSchema(context.Background(), "activity_logged-value", activityLoggedSchema)
	require.NoError(t, err)
	assert.Equal(t, 12, id)
}

func TestEnsureSchemaRegistersMissingSubject(t *testing.T) {
	var registered map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/subjects/achievement_unlocked-value/versions", r.URL.Path)
		assert.Equal(t, "application/vnd.schemaregistry.v1+json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
		_ = json.NewEncoder(w).Encode(map[string]int{"id": 7})
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "achievement_unlocked-value", achievementUnlockedSchema)
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.Equal(t, "JSON", registered["schemaType"])
	assert.JSONEq(t, achievementUnlockedSchema, registered["schema"])
}

func TestEnsureSchemaSurfacesRegistryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error_code":409}`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "x-value", "{}")
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusConflict, regErr.Status)
	assert.Equal(t, 409, regErr.Code)
}

func TestEnsureSchemaDoesNotRegisterWhenLookupFails(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_code":50001,"message":"Error in the backend data store"}`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "activity_logged-value", activityLoggedSchema)
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, 50001, regErr.Code)
	assert.Equal(t, "Error in the backend data store", regErr.Message)
	assert.Zero(t, posts)
}

func TestLatestIDReportsMissingSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":40401,"message":"Subject not found."}`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).LatestID(context.Background(), "missing-value")
	require.ErrorIs(t, err, ErrSubjectNotFound)
}
