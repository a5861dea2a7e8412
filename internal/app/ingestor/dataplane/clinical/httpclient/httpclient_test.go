package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medplane/medplane/internal/pkg/medical"
)

func TestGetPatientInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/p1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(medical.PatientInfo{ID: "p1", Name: "Jane Doe"})
	}))
	defer srv.Close()

	c := NewClient(&Config{HISBaseURL: srv.URL})
	defer c.Close()

	info, err := c.GetPatientInfo(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", info.Name)
}

func TestGetMedicalRecordsPassesSince(t *testing.T) {
	since := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/p1/records", r.URL.Path)
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode([]medical.ClinicalRecord{{ID: "cr1", PatientID: "p1"}})
	}))
	defer srv.Close()

	c := NewClient(&Config{EMRBaseURL: srv.URL})
	defer c.Close()

	records, err := c.GetMedicalRecords(context.Background(), "p1", since)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGetLabResultsPassesTestTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crp,wbc", r.URL.Query().Get("types"))
		_ = json.NewEncoder(w).Encode([]medical.LabResult{{ID: "lr1", TestType: "crp"}})
	}))
	defer srv.Close()

	c := NewClient(&Config{LISBaseURL: srv.URL})
	defer c.Close()

	results, err := c.GetLabResults(context.Background(), "p1", []string{"crp", "wbc"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestGetImagingStudiesPassesModality(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mri", r.URL.Query().Get("modality"))
		_ = json.NewEncoder(w).Encode([]medical.ImagingStudy{{ID: "is1", Modality: medical.ModalityMRI}})
	}))
	defer srv.Close()

	c := NewClient(&Config{PACSBaseURL: srv.URL})
	defer c.Close()

	studies, err := c.GetImagingStudies(context.Background(), "p1", medical.ModalityMRI)
	require.NoError(t, err)
	assert.Len(t, studies, 1)
}

func TestNotFoundStatusMapsToNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(&Config{HISBaseURL: srv.URL})
	defer c.Close()

	_, err := c.GetPatientInfo(context.Background(), "stranger")
	assert.True(t, medical.IsNotFound(err))
}

func TestServerErrorMapsToUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&Config{EMRBaseURL: srv.URL})
	defer c.Close()

	_, err := c.GetMedicalRecords(context.Background(), "p1", time.Time{})
	var uerr *medical.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "emr", uerr.System)
}

func TestUnreachableHostMapsToUpstreamError(t *testing.T) {
	c := NewClient(&Config{LISBaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	defer c.Close()

	_, err := c.GetLabResults(context.Background(), "p1", nil)
	var uerr *medical.UpstreamError
	assert.ErrorAs(t, err, &uerr)
}

func TestExpiredDeadlineMapsToTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(medical.PatientInfo{ID: "p1"})
	}))
	defer srv.Close()

	c := NewClient(&Config{HISBaseURL: srv.URL})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetPatientInfo(ctx, "p1")
	assert.True(t, medical.IsTimeout(err))
}
