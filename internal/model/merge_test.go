package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newIPv4Root(uuid, ip string) *RootAnalysis {
	r := NewRootAnalysis(uuid)
	o := NewObservableValue("o1", "ipv4", ip, nil)
	r.PutObservable(o)
	return r
}

// Scenario 1: side-effect preservation across two independently-returned
// results for the same observable.
func TestDiffMerge_SideEffectPreservation(t *testing.T) {
	tracked := newIPv4Root("root-1", "3.127.0.4")
	key := tracked.Observables["ipv4\x00"+"3.127.0.4"].Key().String()

	before := tracked.Clone()

	// amt_b returns first, adding a tag.
	afterB := before.Clone()
	afterB.Observables[key].Tags.Add("malicious")
	grewB := tracked.ApplyDiffMerge(before, afterB)
	require.False(t, grewB)

	// amt_a returns second, adding an analysis result but no tag.
	beforeA := before.Clone() // amt_a's baseline predates amt_b's result
	afterA := beforeA.Clone()
	afterA.Observables[key].Analyses["amt_a"] = NewAnalysis("amt_a", "1")
	tracked.ApplyDiffMerge(beforeA, afterA)

	obs := tracked.Observables[key]
	require.True(t, obs.Tags.Contains("malicious"), "tag from amt_b must survive amt_a's merge")
	require.Contains(t, obs.Analyses, "amt_a")
}

// Scenario 2: mode preservation under concurrent updates.
func TestDiffMerge_ModePreservedWhenUnchanged(t *testing.T) {
	tracked := NewRootAnalysis("root-2")
	tracked.AnalysisMode = "analysis"
	before := tracked.Clone()

	// amt_a changes the mode.
	afterA := before.Clone()
	afterA.AnalysisMode = "correlation"
	tracked.ApplyDiffMerge(before, afterA)
	require.Equal(t, "correlation", tracked.AnalysisMode)

	// amt_b's baseline/after both have the *original* mode (its own
	// request was issued before amt_a's result landed), so its diff must
	// not revert the mode.
	tracked.ApplyDiffMerge(before, before.Clone())
	require.Equal(t, "correlation", tracked.AnalysisMode)
}

// Idempotence: diffing a value against itself, applied to any target, is
// a no-op.
func TestDiffMerge_EmptyDiffIsNoOp(t *testing.T) {
	tracked := newIPv4Root("root-3", "8.8.8.8")
	snapshot := tracked.Clone()

	tracked.ApplyDiffMerge(snapshot, snapshot.Clone())

	require.Equal(t, snapshot.AnalysisMode, tracked.AnalysisMode)
	require.True(t, snapshot.Tags.Equal(tracked.Tags))
	require.Len(t, tracked.Observables, len(snapshot.Observables))
}

// Idempotence: applying the same direct merge twice equals applying it
// once.
func TestApplyMerge_Idempotent(t *testing.T) {
	target := NewRootAnalysis("root-4")
	source := newIPv4Root("root-4", "1.1.1.1")
	source.Tags.Add("seen")

	target.ApplyMerge(source)
	once := target.Clone()
	target.ApplyMerge(source)

	require.True(t, once.Tags.Equal(target.Tags))
	require.Len(t, target.Observables, len(once.Observables))
}

// Commutativity of monotonic sets under diff-merge: regardless of which
// order two results are applied in, the union is the same.
func TestDiffMerge_MonotonicSetsCommute(t *testing.T) {
	base := newIPv4Root("root-5", "9.9.9.9")
	key := base.Observables["ipv4\x00"+"9.9.9.9"].Key().String()

	resultX := base.Clone()
	resultX.Observables[key].Tags.Add("tagX")
	resultY := base.Clone()
	resultY.Observables[key].Tags.Add("tagY")

	order1 := base.Clone()
	order1.ApplyDiffMerge(base, resultX)
	order1.ApplyDiffMerge(base, resultY)

	order2 := base.Clone()
	order2.ApplyDiffMerge(base, resultY)
	order2.ApplyDiffMerge(base, resultX)

	require.True(t, order1.Observables[key].Tags.Equal(order2.Observables[key].Tags))
	require.True(t, order1.Observables[key].Tags.Contains("tagX"))
	require.True(t, order1.Observables[key].Tags.Contains("tagY"))
}

func TestDiffMerge_DetectionAddedReportsGrowth(t *testing.T) {
	base := newIPv4Root("root-6", "5.5.5.5")
	key := base.Observables["ipv4\x00"+"5.5.5.5"].Key().String()

	tracked := base.Clone()
	after := base.Clone()
	after.Observables[key].Detections.Add(DetectionPoint{ID: "d1", Description: "malicious ip"})

	grew := tracked.ApplyDiffMerge(base, after)
	require.True(t, grew)

	// Re-applying the identical diff must not report growth again.
	grewAgain := tracked.ApplyDiffMerge(base, after)
	require.False(t, grewAgain)
}

func TestObservableKey_TimeDistinguishesIdentity(t *testing.T) {
	a := ObservableKey{Type: "ipv4", Value: "1.1.1.1"}
	b := ObservableKey{Type: "ipv4", Value: "1.1.1.1"}
	require.Equal(t, a.String(), b.String())

	epoch := time.Unix(0, 0)
	c := ObservableKey{Type: "ipv4", Value: "1.1.1.1", Time: &epoch}
	require.NotEqual(t, a.String(), c.String())
}
