package model

import "time"

// This file implements spec §4.1's two merge operations for every
// mergeable node (RootAnalysis, Observable, Analysis): ApplyMerge (direct
// merge, no baseline) and ApplyDiffMerge (differential merge, three-way
// using a before/after baseline). Both are defined to be idempotent:
// applying the same merge twice is the same as applying it once, and
// diffing a value against itself is a no-op (spec §8).
//
// Open question (a) resolution: a fresh root submission (ApplyMerge) is
// allowed to overwrite scalar fields from source when source provides a
// non-zero value, so re-submitting with a new analysis_mode actually
// changes it ("new baseline, mode overwritten"). A posted result
// (ApplyDiffMerge) only ever changes a scalar when before != after, so an
// unrelated module's untouched mode never clobbers a concurrent change.

// ApplyMerge direct-merges source into the Analysis, target. Used by
// Observable.ApplyMerge for an analysis present on both sides, and by
// ApplyDiffMerge when there is no baseline analysis. Returns true if any
// new detection point was added.
func (a *Analysis) ApplyMerge(source *Analysis) bool {
	if source == nil {
		return false
	}
	if source.DetailsRef != "" {
		a.DetailsRef = source.DetailsRef
	}
	if source.Status.State != "" {
		a.Status = source.Status
	}
	a.Tags.Union(source.Tags)
	a.Directives.Union(source.Directives)
	a.AddedObservableKeys.Union(source.AddedObservableKeys)
	return a.Detections.Union(source.Detections)
}

// ApplyDiffMerge applies onto `a` only the delta between before and after.
// Returns true if any new detection point was added.
func (a *Analysis) ApplyDiffMerge(before, after *Analysis) bool {
	if after == nil {
		return false
	}
	if before == nil {
		return a.ApplyMerge(after)
	}
	if before.DetailsRef != after.DetailsRef {
		a.DetailsRef = after.DetailsRef
	}
	if before.Status != after.Status {
		a.Status = after.Status
	}
	a.Tags.Union(after.Tags.Difference(before.Tags))
	a.Directives.Union(after.Directives.Difference(before.Directives))
	a.AddedObservableKeys.Union(after.AddedObservableKeys.Difference(before.AddedObservableKeys))
	return a.Detections.Union(after.Detections.Difference(before.Detections))
}

// ApplyMerge direct-merges source into the Observable, target. New
// analyses (by module name) are copied in; existing ones are themselves
// direct-merged, never replaced wholesale. Returns true if any new
// detection point was added anywhere in this subtree.
func (o *Observable) ApplyMerge(source *Observable) bool {
	if source == nil {
		return false
	}
	grew := o.Detections.Union(source.Detections)
	o.Tags.Union(source.Tags)
	o.Directives.Union(source.Directives)
	o.OutstandingRequests.Union(source.OutstandingRequests)
	if o.Analyses == nil {
		o.Analyses = make(map[string]*Analysis)
	}
	for name, srcA := range source.Analyses {
		if tgtA, ok := o.Analyses[name]; ok {
			if tgtA.ApplyMerge(srcA) {
				grew = true
			}
		} else {
			o.Analyses[name] = srcA.Clone()
			if len(srcA.Detections) > 0 {
				grew = true
			}
		}
	}
	return grew
}

// ApplyDiffMerge applies onto `o` only the delta between before and
// after. Returns true if any new detection point was added anywhere in
// this subtree.
func (o *Observable) ApplyDiffMerge(before, after *Observable) bool {
	if after == nil {
		return false
	}
	if before == nil {
		return o.ApplyMerge(after)
	}
	grew := o.Detections.Union(after.Detections.Difference(before.Detections))
	o.Tags.Union(after.Tags.Difference(before.Tags))
	o.Directives.Union(after.Directives.Difference(before.Directives))
	o.OutstandingRequests.Union(after.OutstandingRequests.Difference(before.OutstandingRequests))
	if o.Analyses == nil {
		o.Analyses = make(map[string]*Analysis)
	}
	for name, afterA := range after.Analyses {
		beforeA := before.Analyses[name]
		tgtA, ok := o.Analyses[name]
		if !ok {
			tgtA = NewAnalysis(afterA.ModuleName, afterA.ModuleVersion)
			o.Analyses[name] = tgtA
		}
		if tgtA.ApplyDiffMerge(beforeA, afterA) {
			grew = true
		}
	}
	// Analyses present in before but absent from after are left alone:
	// removal is never propagated through a diff.
	return grew
}

// ApplyMerge direct-merges source into the RootAnalysis, target. Scalar
// fields are overwritten when source provides a non-empty value (see the
// open-question note above this file); collections only ever grow.
// Returns true if any new detection point was added anywhere in the tree.
func (r *RootAnalysis) ApplyMerge(source *RootAnalysis) bool {
	if source == nil {
		return false
	}
	if source.Description != "" {
		r.Description = source.Description
	}
	if source.AnalysisMode != "" {
		r.AnalysisMode = source.AnalysisMode
	}
	if source.Tool != "" {
		r.Tool = source.Tool
	}
	if source.ToolInstance != "" {
		r.ToolInstance = source.ToolInstance
	}
	if source.EventTime != nil {
		t := *source.EventTime
		r.EventTime = &t
	}
	if source.DetailsRef != "" {
		r.DetailsRef = source.DetailsRef
	}
	grew := r.Detections.Union(source.Detections)
	r.Tags.Union(source.Tags)
	r.Directives.Union(source.Directives)
	r.OutstandingRequests.Union(source.OutstandingRequests)
	if r.Observables == nil {
		r.Observables = make(map[string]*Observable)
	}
	for key, srcObs := range source.Observables {
		if tgtObs, ok := r.Observables[key]; ok {
			if tgtObs.ApplyMerge(srcObs) {
				grew = true
			}
		} else {
			r.Observables[key] = srcObs.Clone()
			if observableHasDetections(srcObs) {
				grew = true
			}
		}
	}
	r.UpdatedAt = nowOrSourceTime(source)
	return grew
}

// ApplyDiffMerge applies onto `r` only the delta between before and
// after: scalar fields change only when before != after, monotonic sets
// only grow, observable children recurse per-identity, and observables
// removed between before and after are left untouched in target (removal
// is never propagated through a diff). Returns true if any new detection
// point was added anywhere in the tree.
func (r *RootAnalysis) ApplyDiffMerge(before, after *RootAnalysis) bool {
	if after == nil {
		return false
	}
	if before == nil {
		return r.ApplyMerge(after)
	}
	if before.Description != after.Description {
		r.Description = after.Description
	}
	if before.AnalysisMode != after.AnalysisMode {
		r.AnalysisMode = after.AnalysisMode
	}
	if before.Tool != after.Tool {
		r.Tool = after.Tool
	}
	if before.ToolInstance != after.ToolInstance {
		r.ToolInstance = after.ToolInstance
	}
	if !timeEqual(before.EventTime, after.EventTime) {
		r.EventTime = after.EventTime
	}
	if before.DetailsRef != after.DetailsRef {
		r.DetailsRef = after.DetailsRef
	}
	grew := r.Detections.Union(after.Detections.Difference(before.Detections))
	r.Tags.Union(after.Tags.Difference(before.Tags))
	r.Directives.Union(after.Directives.Difference(before.Directives))
	r.OutstandingRequests.Union(after.OutstandingRequests.Difference(before.OutstandingRequests))
	if r.Observables == nil {
		r.Observables = make(map[string]*Observable)
	}
	for key, afterObs := range after.Observables {
		beforeObs, existedBefore := before.Observables[key]
		if !existedBefore {
			// Newly added between before and after: direct-merge it in.
			if tgtObs, ok := r.Observables[key]; ok {
				if tgtObs.ApplyMerge(afterObs) {
					grew = true
				}
			} else {
				r.Observables[key] = afterObs.Clone()
				if observableHasDetections(afterObs) {
					grew = true
				}
			}
			continue
		}
		tgtObs, ok := r.Observables[key]
		if !ok {
			tgtObs = afterObs.Clone()
			r.Observables[key] = tgtObs
			continue
		}
		if tgtObs.ApplyDiffMerge(beforeObs, afterObs) {
			grew = true
		}
	}
	r.UpdatedAt = after.UpdatedAt
	return grew
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// AllDetections collects every detection point in the tree rooted at
// root: the root's own set plus every observable's and every analysis's
// (spec §3: Observable and Analysis each carry their own detection-point
// set, not just RootAnalysis). Callers that need to know whether a root
// has been detected on at all — e.g. the alert sink — must look here
// rather than at root.Detections alone.
func AllDetections(root *RootAnalysis) DetectionSet {
	all := make(DetectionSet, len(root.Detections))
	for id, d := range root.Detections {
		all[id] = d
	}
	for _, o := range root.Observables {
		for id, d := range o.Detections {
			all[id] = d
		}
		for _, a := range o.Analyses {
			for id, d := range a.Detections {
				all[id] = d
			}
		}
	}
	return all
}

func observableHasDetections(o *Observable) bool {
	if len(o.Detections) > 0 {
		return true
	}
	for _, a := range o.Analyses {
		if len(a.Detections) > 0 {
			return true
		}
	}
	return false
}

func nowOrSourceTime(source *RootAnalysis) time.Time {
	if source != nil && !source.UpdatedAt.IsZero() {
		return source.UpdatedAt
	}
	return time.Now().UTC()
}
