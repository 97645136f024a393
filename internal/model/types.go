// Package model defines the ACE core data model: RootAnalysis, Observable,
// Analysis, AnalysisModuleType and AnalysisRequest, along with the direct
// and differential merge operations that are the only way they may be
// mutated once tracked (see merge.go).
package model

import (
	"fmt"
	"time"
)

// ObservableKey is the identity of an Observable: (type, value, time?).
// Identity equality ignores every other field, and merges key on it.
type ObservableKey struct {
	Type  string
	Value string
	Time  *time.Time
}

// String renders a stable, comparable projection of the key. When Time is
// nil the time component is omitted rather than zero-valued, so
// ("ipv4","1.1.1.1",nil) and ("ipv4","1.1.1.1", epoch) never collide.
func (k ObservableKey) String() string {
	if k.Time == nil {
		return k.Type + "\x00" + k.Value
	}
	return k.Type + "\x00" + k.Value + "\x00" + k.Time.UTC().Format(time.RFC3339Nano)
}

// AnalysisState is the lifecycle state of a single Analysis result.
type AnalysisState string

const (
	AnalysisPending AnalysisState = "pending"
	AnalysisSuccess AnalysisState = "success"
	AnalysisFailed  AnalysisState = "failed"
)

// AnalysisStatus carries the state and, for AnalysisFailed, the reason.
type AnalysisStatus struct {
	State  AnalysisState `json:"state"`
	Reason string        `json:"reason,omitempty"`
}

// Analysis is the output of one AnalysisModuleType run against one
// Observable. Its parent is always an Observable. The observables it
// discovered are not embedded here: they are merged directly into the
// owning RootAnalysis's flat observable set, and AddedObservableKeys
// is only the provenance record of which identities this module
// contributed.
type Analysis struct {
	ModuleName          string         `json:"module_name"`
	ModuleVersion       string         `json:"module_version"`
	DetailsRef          string         `json:"details_ref,omitempty"`
	AddedObservableKeys StringSet      `json:"added_observable_keys"`
	Tags                StringSet      `json:"tags"`
	Detections          DetectionSet   `json:"detections"`
	Directives          StringSet      `json:"directives"`
	Status              AnalysisStatus `json:"status"`
}

// NewAnalysis returns an empty, pending Analysis for the given module.
func NewAnalysis(moduleName, moduleVersion string) *Analysis {
	return &Analysis{
		ModuleName:          moduleName,
		ModuleVersion:       moduleVersion,
		AddedObservableKeys: NewStringSet(),
		Tags:                NewStringSet(),
		Detections:          NewDetectionSet(),
		Directives:          NewStringSet(),
		Status:              AnalysisStatus{State: AnalysisPending},
	}
}

// Clone returns a deep, independent copy.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	return &Analysis{
		ModuleName:          a.ModuleName,
		ModuleVersion:       a.ModuleVersion,
		DetailsRef:          a.DetailsRef,
		AddedObservableKeys: a.AddedObservableKeys.Clone(),
		Tags:                a.Tags.Clone(),
		Detections:          a.Detections.Clone(),
		Directives:          a.Directives.Clone(),
		Status:              a.Status,
	}
}

// Observable is a typed (type, value, time?) datum under analysis.
type Observable struct {
	ID                  string              `json:"id"`
	Type                string              `json:"type"`
	Value               string              `json:"value"`
	Time                *time.Time          `json:"time,omitempty"`
	Tags                StringSet           `json:"tags"`
	Detections          DetectionSet        `json:"detections"`
	Directives          StringSet           `json:"directives"`
	Analyses            map[string]*Analysis `json:"analyses"`
	OutstandingRequests StringSet           `json:"outstanding_requests"`
}

// NewObservableValue returns an empty Observable for the given identity.
func NewObservableValue(id, obsType, value string, t *time.Time) *Observable {
	return &Observable{
		ID:                  id,
		Type:                obsType,
		Value:               value,
		Time:                t,
		Tags:                NewStringSet(),
		Detections:          NewDetectionSet(),
		Directives:          NewStringSet(),
		Analyses:            make(map[string]*Analysis),
		OutstandingRequests: NewStringSet(),
	}
}

// Key returns the identity of this observable.
func (o *Observable) Key() ObservableKey {
	return ObservableKey{Type: o.Type, Value: o.Value, Time: o.Time}
}

// Clone returns a deep, independent copy.
func (o *Observable) Clone() *Observable {
	if o == nil {
		return nil
	}
	out := &Observable{
		ID:                  o.ID,
		Type:                o.Type,
		Value:               o.Value,
		Tags:                o.Tags.Clone(),
		Detections:          o.Detections.Clone(),
		Directives:          o.Directives.Clone(),
		Analyses:            make(map[string]*Analysis, len(o.Analyses)),
		OutstandingRequests: o.OutstandingRequests.Clone(),
	}
	if o.Time != nil {
		t := *o.Time
		out.Time = &t
	}
	for name, a := range o.Analyses {
		out.Analyses[name] = a.Clone()
	}
	return out
}

// RootAnalysis is the top-level container of a single analysis job.
type RootAnalysis struct {
	UUID                string                     `json:"uuid"`
	Description         string                     `json:"description"`
	AnalysisMode        string                     `json:"analysis_mode"`
	Tool                string                     `json:"tool,omitempty"`
	ToolInstance        string                     `json:"tool_instance,omitempty"`
	EventTime           *time.Time                 `json:"event_time,omitempty"`
	DetailsRef          string                     `json:"details_ref,omitempty"`
	Observables         map[string]*Observable     `json:"observables"`
	Tags                StringSet                  `json:"tags"`
	Detections          DetectionSet               `json:"detections"`
	Directives          StringSet                  `json:"directives"`
	OutstandingRequests StringSet                  `json:"outstanding_requests"`
	Completed           bool                       `json:"completed"`
	AlertedDetections   StringSet                  `json:"-"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

// NewRootAnalysis returns an empty root with the given identity.
func NewRootAnalysis(uuid string) *RootAnalysis {
	now := time.Now().UTC()
	return &RootAnalysis{
		UUID:                uuid,
		AnalysisMode:        "analysis",
		Observables:         make(map[string]*Observable),
		Tags:                NewStringSet(),
		Detections:          NewDetectionSet(),
		Directives:          NewStringSet(),
		OutstandingRequests: NewStringSet(),
		AlertedDetections:   NewStringSet(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Clone returns a deep, independent copy, suitable as a diff-merge baseline
// or a cache entry.
func (r *RootAnalysis) Clone() *RootAnalysis {
	if r == nil {
		return nil
	}
	out := &RootAnalysis{
		UUID:                r.UUID,
		Description:         r.Description,
		AnalysisMode:        r.AnalysisMode,
		Tool:                r.Tool,
		ToolInstance:        r.ToolInstance,
		DetailsRef:          r.DetailsRef,
		Observables:         make(map[string]*Observable, len(r.Observables)),
		Tags:                r.Tags.Clone(),
		Detections:          r.Detections.Clone(),
		Directives:          r.Directives.Clone(),
		OutstandingRequests: r.OutstandingRequests.Clone(),
		AlertedDetections:   r.AlertedDetections.Clone(),
		Completed:           r.Completed,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.EventTime != nil {
		t := *r.EventTime
		out.EventTime = &t
	}
	for key, o := range r.Observables {
		out.Observables[key] = o.Clone()
	}
	return out
}

// FindObservable looks up an observable by identity key string.
func (r *RootAnalysis) FindObservable(key string) (*Observable, bool) {
	o, ok := r.Observables[key]
	return o, ok
}

// PutObservable inserts or replaces an observable by identity.
func (r *RootAnalysis) PutObservable(o *Observable) {
	r.Observables[o.Key().String()] = o
}

// AnalysisModuleType is the declarative description of a registered module.
type AnalysisModuleType struct {
	Name               string        `json:"name"`
	Version            string        `json:"version"`
	ObservableTypes    StringSet     `json:"observable_types"`
	RequiredDirectives StringSet     `json:"required_directives"`
	RequiredTags       StringSet     `json:"required_tags"`
	CacheTTL           *time.Duration `json:"cache_ttl,omitempty"`
	ExtendedCacheKeys  []string      `json:"extended_cache_keys,omitempty"`
	Timeout            time.Duration `json:"timeout"`
	Manual             bool          `json:"manual"`
	Dependencies       StringSet     `json:"dependencies"`
}

// Accepts reports whether this AMT applies to the given observable: its
// type is accepted and all required directives/tags are present.
func (amt *AnalysisModuleType) Accepts(o *Observable) bool {
	if !amt.ObservableTypes.Contains(o.Type) {
		return false
	}
	for d := range amt.RequiredDirectives {
		if !o.Directives.Contains(d) {
			return false
		}
	}
	for t := range amt.RequiredTags {
		if !o.Tags.Contains(t) {
			return false
		}
	}
	return true
}

// Clone returns a deep, independent copy.
func (amt *AnalysisModuleType) Clone() *AnalysisModuleType {
	if amt == nil {
		return nil
	}
	out := &AnalysisModuleType{
		Name:               amt.Name,
		Version:            amt.Version,
		ObservableTypes:    amt.ObservableTypes.Clone(),
		RequiredDirectives: amt.RequiredDirectives.Clone(),
		RequiredTags:       amt.RequiredTags.Clone(),
		Timeout:            amt.Timeout,
		Manual:             amt.Manual,
		Dependencies:       amt.Dependencies.Clone(),
	}
	if amt.CacheTTL != nil {
		ttl := *amt.CacheTTL
		out.CacheTTL = &ttl
	}
	out.ExtendedCacheKeys = append([]string(nil), amt.ExtendedCacheKeys...)
	return out
}

// RequestState is the lifecycle state of an AnalysisRequest.
type RequestState string

const (
	RequestQueued    RequestState = "queued"
	RequestLeased    RequestState = "leased"
	RequestCompleted RequestState = "completed"
	RequestFailed    RequestState = "failed"
	RequestExpired   RequestState = "expired"
)

// AnalysisRequest is a queued unit of work: either a fresh root submission
// (ObservableKey == "" and AMTName == "") or an (observable, AMT) pair.
type AnalysisRequest struct {
	ID            string       `json:"id"`
	RootUUID      string       `json:"root_uuid"`
	ObservableKey string       `json:"observable_key,omitempty"`
	AMTName       string       `json:"amt_name,omitempty"`
	AMTVersion    string       `json:"amt_version,omitempty"`
	RootBefore    *RootAnalysis `json:"root_before,omitempty"`
	Root          *RootAnalysis `json:"root,omitempty"`
	LeaseOwner    string       `json:"lease_owner,omitempty"`
	LeaseExpiry   time.Time    `json:"lease_expiry,omitempty"`
	State         RequestState `json:"state"`
	CreatedAt     time.Time    `json:"created_at"`
}

// IsResult reports whether this request is a module's returned output
// (i.e. it is being submitted back, not a fresh root submission). Result
// requests always name the AMT that produced them; a fresh submission
// never does.
func (r *AnalysisRequest) IsResult() bool {
	return r.AMTName != ""
}

// Clone returns a deep, independent copy.
func (r *AnalysisRequest) Clone() *AnalysisRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.RootBefore = r.RootBefore.Clone()
	out.Root = r.Root.Clone()
	return &out
}

func (k ObservableKey) mustNonEmpty() error {
	if k.Type == "" || k.Value == "" {
		return fmt.Errorf("model: observable key requires type and value")
	}
	return nil
}
