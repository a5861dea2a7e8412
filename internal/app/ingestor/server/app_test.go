package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medplane/medplane/internal/app/ingestor/batch"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/blobstorage/inmemory"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane/clinical/mock"
	"github.com/medplane/medplane/internal/app/ingestor/index"
	"github.com/medplane/medplane/internal/app/ingestor/pipeline"
	"github.com/medplane/medplane/internal/app/ingestor/preprocess"
	"github.com/medplane/medplane/internal/app/ingestor/retrieval"
	"github.com/medplane/medplane/internal/pkg/medical"
)

func newTestServer(t *testing.T) (*httptest.Server, *mock.Provider) {
	t.Helper()

	idx, err := index.Open(&index.Config{CacheSize: 16})
	require.NoError(t, err)
	blobs := inmemory.NewBlobStorage()
	clinical := mock.NewProvider()

	pipe := pipeline.New(&pipeline.Config{}, blobs, idx, preprocess.NewDefaultRegistry())
	manager := batch.NewManager(&batch.Config{Workers: 2}, pipe)
	t.Cleanup(manager.Close)
	engine := retrieval.NewEngine(idx, blobs, clinical, 50)

	logger := log.New()
	logger.Level = log.ErrorLevel
	app := &App{}
	app.Setup(pipe, manager, engine, idx, blobs, 5*time.Second, logger)

	srv := httptest.NewServer(app.Router)
	t.Cleanup(srv.Close)
	return srv, clinical
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func uploadBody(patient, summary string, payload []byte) map[string]interface{} {
	return map[string]interface{}{
		"patientId": patient,
		"modality":  "text",
		"summary":   summary,
		"payload":   payload,
	}
}

func TestUploadThenRetrieve(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/upload", uploadBody("p1", "biopsy report for review", []byte("full report text")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var record medical.MetadataRecord
	decode(t, resp, &record)
	require.NotEmpty(t, record.ID)
	require.NotEmpty(t, record.ContentRef)

	// point lookup
	resp, err := http.Get(srv.URL + "/records/" + record.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got medical.MetadataRecord
	decode(t, resp, &got)
	assert.Equal(t, record.ID, got.ID)

	// artifact bytes
	resp, err = http.Get(srv.URL + "/artifacts/" + record.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "full report text", buf.String())

	// text search finds it
	resp, err = http.Get(srv.URL + "/search/text?q=biopsy")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []medical.MetadataRecord
	decode(t, resp, &results)
	require.Len(t, results, 1)
	assert.Equal(t, record.ID, results[0].ID)
}

func TestUploadValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	body := uploadBody("p1", "", nil)
	resp := postJSON(t, srv.URL+"/upload", body)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownRecordIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/records/unknown")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteRecordRemovesIt(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/upload", uploadBody("p1", "to be removed", []byte("bytes")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var record medical.MetadataRecord
	decode(t, resp, &record)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/records/"+record.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/records/" + record.ID)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/artifacts/" + record.ID)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatchLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]interface{}{
		"items": []map[string]interface{}{
			uploadBody("p1", "first note", []byte("one")),
			uploadBody("p1", "second note", []byte("two")),
		},
	}
	resp := postJSON(t, srv.URL+"/batches", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created map[string]string
	decode(t, resp, &created)
	batchID := created["batchId"]
	require.NotEmpty(t, batchID)

	var job batch.Job
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/batches/" + batchID)
		if err != nil {
			return false
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return false
		}
		return job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, medical.BatchCompleted, job.Status)
	assert.Equal(t, 2, job.CompletedCount)
}

func TestCancelUnknownBatchIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/batches/unknown", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPatientViewAndStructuredSearch(t *testing.T) {
	srv, _ := newTestServer(t)

	for n, summary := range []string{"ct of the chest", "note about recovery"} {
		body := uploadBody("p9", summary, []byte(fmt.Sprintf("payload-%d", n)))
		if n == 0 {
			body["modality"] = "ct"
			body["studyId"] = "s9"
		}
		resp := postJSON(t, srv.URL+"/upload", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close() //nolint:errcheck
	}

	resp, err := http.Get(srv.URL + "/patients/p9")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view retrieval.View
	decode(t, resp, &view)
	assert.Len(t, view.Images, 1)
	assert.Len(t, view.Documents, 1)

	resp = postJSON(t, srv.URL+"/search/structured", map[string]interface{}{"modality": "ct"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []medical.MetadataRecord
	decode(t, resp, &results)
	require.Len(t, results, 1)
	assert.Equal(t, medical.ModalityCT, results[0].Modality)
}

func TestIntegratedViewSurfacesUpstreamWarnings(t *testing.T) {
	srv, clinical := newTestServer(t)

	clinical.AddPatient(medical.PatientInfo{ID: "p1", Name: "Jane Doe"})
	clinical.FailSystem("lis")

	resp, err := http.Get(srv.URL + "/patients/p1/integrated")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view retrieval.IntegratedView
	decode(t, resp, &view)
	require.NotNil(t, view.PatientInfo)
	assert.Equal(t, "Jane Doe", view.PatientInfo.Name)
	require.Len(t, view.Warnings, 1)
	assert.Contains(t, view.Warnings[0], "lis")
}

func TestSearchTextRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/search/text")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/search/text?q=scan&limit=abc")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/upload", uploadBody("p1", "a record", []byte("x")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats index.Stats
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalRecords)
	assert.Equal(t, 1, stats.Patients)
}
