// Package tracker implements the core's thin persistent maps (spec §4.8):
// by-id put/get/delete/list stores for roots, requests, module types and
// alerts. Each tracker is independently thread-safe and must never require
// the root lock (spec §5 shared-resource policy).
package tracker

import (
	"context"
	"time"

	"github.com/ace-core/ace/internal/model"
)

// RootTracker persists RootAnalysis trees, including their full
// observable/analysis graph.
type RootTracker interface {
	Put(ctx context.Context, root *model.RootAnalysis) error
	Get(ctx context.Context, uuid string) (*model.RootAnalysis, bool, error)
	Delete(ctx context.Context, uuid string) error
	List(ctx context.Context) ([]string, error)
}

// RequestTracker persists AnalysisRequest records independent of the
// queue's in-flight view, so a request's history survives lease expiry
// and queue migration.
type RequestTracker interface {
	Put(ctx context.Context, req *model.AnalysisRequest) error
	Get(ctx context.Context, id string) (*model.AnalysisRequest, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// ModuleTypeTracker persists AnalysisModuleType registrations.
// registry.Registry keeps its own in-memory map and does not read from
// or write to a ModuleTypeTracker.
type ModuleTypeTracker interface {
	Put(ctx context.Context, amt *model.AnalysisModuleType) error
	Get(ctx context.Context, name string) (*model.AnalysisModuleType, bool, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*model.AnalysisModuleType, error)
}

// Alert is the record of a root forwarded to the alert sink (spec
// REDESIGN FLAGS / glossary "alert"): the detection set that triggered it
// and when.
type Alert struct {
	RootUUID   string
	AlertedAt  time.Time
	Detections []model.DetectionPoint
}

// AlertTracker persists Alert records by root UUID.
type AlertTracker interface {
	Put(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, rootUUID string) (*Alert, bool, error)
	Delete(ctx context.Context, rootUUID string) error
	List(ctx context.Context) ([]string, error)
}
