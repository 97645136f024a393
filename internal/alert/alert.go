// Package alert implements the core's alert sink (spec §4.2 step 6, §4.8):
// a root that accumulates one or more detection points is escalated here
// exactly once per distinct set of detections. Re-submitting a root whose
// detection set has not grown since the last alert must not re-alert.
package alert

import (
	"context"

	"github.com/ace-core/ace/internal/model"
)

// Sink is the pluggable contract the request processor calls when a
// merge adds detection points to a tracked root.
type Sink interface {
	// TrackAlert escalates root. Implementations must be idempotent: the
	// processor calls this once per merge that adds a detection point
	// anywhere in root's tree (root, observables or analyses), but
	// a sink may be called again with the same detection set (e.g. after
	// a crash-and-retry) and must not double-escalate.
	TrackAlert(ctx context.Context, root *model.RootAnalysis) error
}
