package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/ace-core/ace/internal/events"
	"github.com/ace-core/ace/internal/model"
	"github.com/ace-core/ace/internal/tracker"
)

// TrackerSink persists escalations via an AlertTracker and emits
// events.TopicAlert. It is the default in-process and SQL-backed sink,
// grounded on the same put/get-by-id shape as the other trackers.
//
// TrackAlert is idempotent across processes: it loads any existing Alert
// record for the root, unions in every detection point currently present
// anywhere in the root's tree (root, observables, and analyses alike),
// and only emits an event for the detection IDs that were not already
// recorded. A call that adds nothing new is a silent no-op.
type TrackerSink struct {
	alerts tracker.AlertTracker
	bus    events.Bus
}

// NewTrackerSink returns a sink backed by alerts and wired to bus.
func NewTrackerSink(alerts tracker.AlertTracker, bus events.Bus) *TrackerSink {
	return &TrackerSink{alerts: alerts, bus: bus}
}

func (s *TrackerSink) TrackAlert(ctx context.Context, root *model.RootAnalysis) error {
	detections := model.AllDetections(root)
	if len(detections) == 0 {
		return nil
	}

	existing, found, err := s.alerts.Get(ctx, root.UUID)
	if err != nil {
		return fmt.Errorf("alert: load existing record for %s: %w", root.UUID, err)
	}

	alreadyAlerted := model.NewStringSet()
	if found {
		for _, d := range existing.Detections {
			alreadyAlerted.Add(d.ID)
		}
	}

	var fresh []model.DetectionPoint
	for id, d := range detections {
		if !alreadyAlerted.Contains(id) {
			fresh = append(fresh, d)
		}
	}
	if len(fresh) == 0 {
		return nil // nothing new since the last alert emission
	}

	all := make([]model.DetectionPoint, 0, len(detections))
	for _, d := range detections {
		all = append(all, d)
	}

	record := &tracker.Alert{
		RootUUID:   root.UUID,
		AlertedAt:  time.Now().UTC(),
		Detections: all,
	}
	if err := s.alerts.Put(ctx, record); err != nil {
		return fmt.Errorf("alert: persist record for %s: %w", root.UUID, err)
	}

	if s.bus != nil {
		ids := make([]string, 0, len(fresh))
		for _, d := range fresh {
			ids = append(ids, d.ID)
		}
		s.bus.Emit(events.TopicAlert, events.AlertPayload{
			RootUUID:       root.UUID,
			DetectionCount: len(fresh),
			DetectionIDs:   ids,
		})
	}
	return nil
}

var _ Sink = (*TrackerSink)(nil)
