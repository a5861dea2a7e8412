package index

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//Config to set up a metadata index. An empty Dir keeps the index purely in
//memory with no durable state.
type Config struct {
	Dir       string `yaml:"dir"`
	CacheSize int    `yaml:"cachesize"`
}

type idSet map[string]struct{}

//Index maps record ids to metadata records and maintains secondary posting
//sets by patient, study and modality plus an inverted token index over the
//record text. Mutations are serialized behind the write lock and update the
//primary map and every secondary structure as one atomic step; readers see a
//consistent snapshot and never block each other.
type Index struct {
	mu         sync.RWMutex
	primary    map[string]medical.MetadataRecord
	byPatient  map[string]idSet
	byStudy    map[string]idSet
	byModality map[medical.Modality]idSet
	tokens     map[string]idSet

	cache *lru.Cache[string, medical.MetadataRecord]
	wal   *wal
}

//Open loads the index from its durable snapshot and append log, rebuilding
//all secondary structures from the primary record set
func Open(cfg *Config) (*Index, error) {
	idx := &Index{
		primary:    make(map[string]medical.MetadataRecord),
		byPatient:  make(map[string]idSet),
		byStudy:    make(map[string]idSet),
		byModality: make(map[medical.Modality]idSet),
		tokens:     make(map[string]idSet),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, medical.MetadataRecord](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("error creating index cache: %w", err)
		}
		idx.cache = cache
	}
	if cfg.Dir != "" {
		records, w, err := loadState(cfg.Dir)
		if err != nil {
			return nil, err
		}
		idx.wal = w
		for _, r := range records {
			idx.applyInsert(r)
		}
		log.WithFields(log.Fields{
			"dir":     cfg.Dir,
			"records": len(records),
		}).Info("metadata index loaded")
	}
	return idx, nil
}

//Insert adds a record to the index, or replaces it when the id already
//exists. The record is discoverable through every secondary index the moment
//Insert returns.
func (i *Index) Insert(record medical.MetadataRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.wal != nil {
		if err := i.wal.append(walEntry{Op: opInsert, Record: &record}); err != nil {
			return fmt.Errorf("appending insert to index log: %w", err)
		}
	}
	i.applyInsert(record)
	if i.cache != nil {
		i.cache.Remove(record.ID)
	}
	return nil
}

//Get returns the record for an id
func (i *Index) Get(id string) (medical.MetadataRecord, error) {
	if i.cache != nil {
		if r, ok := i.cache.Get(id); ok {
			return r, nil
		}
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	r, ok := i.primary[id]
	if !ok {
		return medical.MetadataRecord{}, &medical.NotFoundError{Kind: "record", ID: id}
	}
	// populate the cache while still holding the read lock so a concurrent
	// delete cannot leave a stale entry behind
	if i.cache != nil {
		i.cache.Add(id, r)
	}
	return r, nil
}

//Delete removes a record and all its secondary index entries, returning the
//removed record so callers can clean up its artifact
func (i *Index) Delete(id string) (medical.MetadataRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	old, ok := i.primary[id]
	if !ok {
		return medical.MetadataRecord{}, &medical.NotFoundError{Kind: "record", ID: id}
	}
	if i.wal != nil {
		if err := i.wal.append(walEntry{Op: opDelete, ID: id}); err != nil {
			return medical.MetadataRecord{}, fmt.Errorf("appending delete to index log: %w", err)
		}
	}
	i.removePostings(old)
	delete(i.primary, id)
	if i.cache != nil {
		i.cache.Remove(id)
	}
	return old, nil
}

//QueryByPatient returns all records for a patient, most recent first
func (i *Index) QueryByPatient(patientID string) []medical.MetadataRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collect(i.byPatient[patientID])
}

//QueryByStudy returns all records for a study, most recent first
func (i *Index) QueryByStudy(studyID string) []medical.MetadataRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collect(i.byStudy[studyID])
}

//QueryByModality returns all records of one modality, most recent first
func (i *Index) QueryByModality(modality medical.Modality) []medical.MetadataRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collect(i.byModality[modality])
}

//QueryText tokenizes the query terms, unions the matching posting sets and
//returns up to limit records ranked by matched-token count, ties broken by
//most recent CreatedAt then id
func (i *Index) QueryText(terms string, limit int) []medical.MetadataRecord {
	queryTokens := Tokenize(terms)
	if len(queryTokens) == 0 || limit <= 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	scores := make(map[string]int)
	for _, tok := range queryTokens {
		for id := range i.tokens[tok] {
			scores[id]++
		}
	}
	matches := make([]medical.MetadataRecord, 0, len(scores))
	for id := range scores {
		matches = append(matches, i.primary[id])
	}
	sort.Slice(matches, func(a, b int) bool {
		sa, sb := scores[matches[a].ID], scores[matches[b].ID]
		if sa != sb {
			return sa > sb
		}
		if !matches[a].CreatedAt.Equal(matches[b].CreatedAt) {
			return matches[a].CreatedAt.After(matches[b].CreatedAt)
		}
		return matches[a].ID < matches[b].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

//Filter is a conjunctive structured query. All set clauses are ANDed; a
//clause referencing a field absent from a record excludes that record.
type Filter struct {
	Modality   *medical.Modality
	From       *time.Time
	To         *time.Time
	Attributes map[string]string
}

//QueryStructured returns all records matching the filter, most recent first
func (i *Index) QueryStructured(f Filter) []medical.MetadataRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var out []medical.MetadataRecord
	if f.Modality != nil {
		for id := range i.byModality[*f.Modality] {
			if r := i.primary[id]; matches(r, f) {
				out = append(out, r)
			}
		}
	} else {
		for _, r := range i.primary {
			if matches(r, f) {
				out = append(out, r)
			}
		}
	}
	sortRecords(out)
	return out
}

func matches(r medical.MetadataRecord, f Filter) bool {
	if f.Modality != nil && r.Modality != *f.Modality {
		return false
	}
	if f.From != nil || f.To != nil {
		if r.AcquisitionDate.IsZero() {
			return false
		}
		if f.From != nil && r.AcquisitionDate.Before(*f.From) {
			return false
		}
		if f.To != nil && r.AcquisitionDate.After(*f.To) {
			return false
		}
	}
	for k, v := range f.Attributes {
		got, ok := r.Attributes[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

//Stats summarises the index contents
type Stats struct {
	TotalRecords int                      `json:"totalRecords"`
	Patients     int                      `json:"patients"`
	Studies      int                      `json:"studies"`
	ByModality   map[medical.Modality]int `json:"byModality"`
	Tokens       int                      `json:"tokens"`
}

//Stats returns summary statistics for the index
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s := Stats{
		TotalRecords: len(i.primary),
		Patients:     len(i.byPatient),
		Studies:      len(i.byStudy),
		ByModality:   make(map[medical.Modality]int, len(i.byModality)),
		Tokens:       len(i.tokens),
	}
	for m, set := range i.byModality {
		s.ByModality[m] = len(set)
	}
	return s
}

//Compact rewrites the snapshot from the current primary record set and
//truncates the append log
func (i *Index) Compact() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.wal == nil {
		return nil
	}
	records := make([]medical.MetadataRecord, 0, len(i.primary))
	for _, r := range i.primary {
		records = append(records, r)
	}
	if err := writeSnapshot(i.wal.dir, records); err != nil {
		return err
	}
	return i.wal.truncate()
}

//Close compacts the durable state and releases the append log
func (i *Index) Close() error {
	if err := i.Compact(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.wal != nil {
		return i.wal.close()
	}
	return nil
}

// applyInsert and removePostings run under the write lock (or before the
// index is published, during Open).

func (i *Index) applyInsert(r medical.MetadataRecord) {
	if old, ok := i.primary[r.ID]; ok {
		i.removePostings(old)
	}
	i.primary[r.ID] = r
	addTo(i.byPatient, r.PatientID, r.ID)
	addTo(i.byStudy, r.StudyID, r.ID)
	if r.Modality != "" {
		if i.byModality[r.Modality] == nil {
			i.byModality[r.Modality] = make(idSet)
		}
		i.byModality[r.Modality][r.ID] = struct{}{}
	}
	for _, tok := range Tokenize(recordText(r)) {
		addTo(i.tokens, tok, r.ID)
	}
}

func (i *Index) removePostings(r medical.MetadataRecord) {
	removeFrom(i.byPatient, r.PatientID, r.ID)
	removeFrom(i.byStudy, r.StudyID, r.ID)
	if set, ok := i.byModality[r.Modality]; ok {
		delete(set, r.ID)
		if len(set) == 0 {
			delete(i.byModality, r.Modality)
		}
	}
	for _, tok := range Tokenize(recordText(r)) {
		removeFrom(i.tokens, tok, r.ID)
	}
}

func (i *Index) collect(set idSet) []medical.MetadataRecord {
	if len(set) == 0 {
		return nil
	}
	out := make([]medical.MetadataRecord, 0, len(set))
	for id := range set {
		out = append(out, i.primary[id])
	}
	sortRecords(out)
	return out
}

func sortRecords(records []medical.MetadataRecord) {
	sort.Slice(records, func(a, b int) bool {
		if !records[a].CreatedAt.Equal(records[b].CreatedAt) {
			return records[a].CreatedAt.After(records[b].CreatedAt)
		}
		return records[a].ID < records[b].ID
	})
}

func addTo(m map[string]idSet, key, id string) {
	if key == "" {
		return
	}
	if m[key] == nil {
		m[key] = make(idSet)
	}
	m[key][id] = struct{}{}
}

func removeFrom(m map[string]idSet, key, id string) {
	if key == "" {
		return
	}
	if set, ok := m[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}
