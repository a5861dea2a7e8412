package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/medplane/medplane/internal/app/ingestor/batch"
	"github.com/medplane/medplane/internal/app/ingestor/dataplane"
	"github.com/medplane/medplane/internal/app/ingestor/index"
	"github.com/medplane/medplane/internal/app/ingestor/pipeline"
	"github.com/medplane/medplane/internal/app/ingestor/preprocess"
	"github.com/medplane/medplane/internal/app/ingestor/retrieval"
	"github.com/medplane/medplane/internal/pkg/medical"
)

//App is the ingestor HTTP API
type App struct {
	Router   *mux.Router
	Pipeline *pipeline.Pipeline
	Batches  *batch.Manager
	Engine   *retrieval.Engine
	Index    *index.Index
	Blobs    dataplane.BlobProvider
	Logger   *log.Logger

	callTimeout time.Duration
}

//Setup initializes application
func (a *App) Setup(
	pipe *pipeline.Pipeline,
	batches *batch.Manager,
	engine *retrieval.Engine,
	idx *index.Index,
	blobs dataplane.BlobProvider,
	callTimeout time.Duration,
	logger *log.Logger) {

	a.Pipeline = pipe
	a.Batches = batches
	a.Engine = engine
	a.Index = idx
	a.Blobs = blobs
	a.Logger = logger
	a.callTimeout = callTimeout

	a.Router = mux.NewRouter()
	a.setupRoutes()
}

//setupRoutes initializes the API routing
func (a *App) setupRoutes() {
	logged := AddLog(a.Logger)

	a.Router.Handle("/upload", logged(http.HandlerFunc(a.Upload))).Methods("POST")

	a.Router.Handle("/batches", logged(http.HandlerFunc(a.CreateBatch))).Methods("POST")
	a.Router.Handle("/batches/{id}", logged(http.HandlerFunc(a.GetBatch))).Methods("GET")
	a.Router.Handle("/batches/{id}", logged(http.HandlerFunc(a.CancelBatch))).Methods("DELETE")

	a.Router.Handle("/records/{id}", logged(http.HandlerFunc(a.GetRecord))).Methods("GET")
	a.Router.Handle("/records/{id}", logged(http.HandlerFunc(a.DeleteRecord))).Methods("DELETE")
	a.Router.Handle("/artifacts/{id}", logged(http.HandlerFunc(a.GetArtifact))).Methods("GET")

	a.Router.Handle("/patients/{id}", logged(http.HandlerFunc(a.ByPatient))).Methods("GET")
	a.Router.Handle("/patients/{id}/integrated", logged(http.HandlerFunc(a.Integrated))).Methods("GET")
	a.Router.Handle("/studies/{id}", logged(http.HandlerFunc(a.ByStudy))).Methods("GET")

	a.Router.Handle("/search/text", logged(http.HandlerFunc(a.SearchText))).Methods("GET")
	a.Router.Handle("/search/structured", logged(http.HandlerFunc(a.SearchStructured))).Methods("POST")
	a.Router.Handle("/stats", logged(http.HandlerFunc(a.Stats))).Methods("GET")
}

func (a *App) callContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.callTimeout > 0 {
		return context.WithTimeout(r.Context(), a.callTimeout)
	}
	return r.Context(), func() {}
}

type uploadRequest struct {
	PatientID       string                 `json:"patientId"`
	StudyID         string                 `json:"studyId,omitempty"`
	Modality        medical.Modality       `json:"modality"`
	AcquisitionDate time.Time              `json:"acquisitionDate,omitempty"`
	Summary         string                 `json:"summary,omitempty"`
	Attributes      map[string]string      `json:"attributes,omitempty"`
	Format          string                 `json:"format,omitempty"`
	Preprocess      bool                   `json:"preprocess,omitempty"`
	Operations      []preprocess.Operation `json:"operations,omitempty"`
	Payload         []byte                 `json:"payload,omitempty"`
}

func (u *uploadRequest) toPipelineRequest() pipeline.Request {
	return pipeline.Request{
		Payload:    u.Payload,
		Format:     u.Format,
		Preprocess: u.Preprocess,
		Operations: u.Operations,
		Metadata: medical.MetadataRecord{
			PatientID:       u.PatientID,
			StudyID:         u.StudyID,
			Modality:        u.Modality,
			AcquisitionDate: u.AcquisitionDate,
			Summary:         u.Summary,
			Attributes:      u.Attributes,
		},
	}
}

//Upload ingests a single item
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(&medical.ValidationError{Reason: "malformed request body"}, w)
		return
	}
	defer r.Body.Close() //nolint:errcheck

	ctx, cancel := a.callContext(r)
	defer cancel()
	record, err := a.Pipeline.Submit(ctx, req.toPipelineRequest())
	if err != nil {
		respondWithError(err, w)
		return
	}
	respondWithJSON(w, http.StatusCreated, record)
}

type batchItemRequest struct {
	Name string `json:"name,omitempty"`
	uploadRequest
}

type batchRequest struct {
	Items []batchItemRequest `json:"items"`
}

//CreateBatch submits a batch of upload items
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(&medical.ValidationError{Reason: "malformed request body"}, w)
		return
	}
	defer r.Body.Close() //nolint:errcheck

	specs := make([]batch.ItemSpec, 0, len(req.Items))
	for _, it := range req.Items {
		specs = append(specs, batch.ItemSpec{Name: it.Name, Request: it.toPipelineRequest()})
	}
	batchID, err := a.Batches.CreateBatch(r.Context(), specs)
	if err != nil {
		respondWithError(err, w)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"batchId": batchID})
}

//GetBatch returns a snapshot of a batch job
func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	job, err := a.Batches.Status(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(err, w)
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

//CancelBatch requests cooperative cancellation of a batch job
func (a *App) CancelBatch(w http.ResponseWriter, r *http.Request) {
	if err := a.Batches.Cancel(mux.Vars(r)["id"]); err != nil {
		respondWithError(err, w)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

//GetRecord returns one metadata record
func (a *App) GetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := a.Index.Get(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(err, w)
		return
	}
	respondWithJSON(w, http.StatusOK, record)
}

//DeleteRecord removes a record from the index together with its artifact.
//The index entry goes first so readers never observe a record whose artifact
//is already gone.
func (a *App) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	record, err := a.Index.Delete(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(err, w)
		return
	}
	if record.ContentRef != "" {
		ctx, cancel := a.callContext(r)
		defer cancel()
		if err := a.Blobs.Delete(ctx, record.ContentRef); err != nil {
			log.WithError(err).WithField("recordID", record.ID).Warn("failed to delete artifact for removed record")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

//GetArtifact streams the artifact bytes behind a record
func (a *App) GetArtifact(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.callContext(r)
	defer cancel()
	data, err := a.Engine.FetchArtifact(ctx, mux.Vars(r)["id"])
	if err != nil {
		respondWithError(err, w)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

//ByPatient returns the grouped view of a patient's indexed data
func (a *App) ByPatient(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, a.Engine.ByPatient(mux.Vars(r)["id"]))
}

//ByStudy returns the grouped view of a study's indexed data
func (a *App) ByStudy(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, a.Engine.ByStudy(mux.Vars(r)["id"]))
}

//Integrated returns the merged patient view including external clinical data
func (a *App) Integrated(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.callContext(r)
	defer cancel()
	respondWithJSON(w, http.StatusOK, a.Engine.Integrate(ctx, mux.Vars(r)["id"]))
}

//SearchText runs a ranked free-text query
func (a *App) SearchText(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondWithError(&medical.ValidationError{Reason: "missing query parameter q"}, w)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := parsePositive(raw)
		if err != nil {
			respondWithError(&medical.ValidationError{Reason: "invalid limit"}, w)
			return
		}
		limit = n
	}
	respondWithJSON(w, http.StatusOK, a.Engine.SearchText(q, limit))
}

type structuredSearchRequest struct {
	Modality   *medical.Modality `json:"modality,omitempty"`
	From       *time.Time        `json:"from,omitempty"`
	To         *time.Time        `json:"to,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

//SearchStructured runs a conjunctive structured query
func (a *App) SearchStructured(w http.ResponseWriter, r *http.Request) {
	var req structuredSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(&medical.ValidationError{Reason: "malformed request body"}, w)
		return
	}
	defer r.Body.Close() //nolint:errcheck
	results := a.Engine.Search(index.Filter{
		Modality:   req.Modality,
		From:       req.From,
		To:         req.To,
		Attributes: req.Attributes,
	})
	respondWithJSON(w, http.StatusOK, results)
}

//Stats returns summary statistics for the metadata index
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, a.Index.Stats())
}

//Run blocks serving the API
func (a *App) Run(addr string) error {
	return http.ListenAndServe(addr, a.Router)
}
