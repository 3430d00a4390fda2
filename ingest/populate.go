package ingest

import (
	"github.com/viant/sapptrace/tracegraph"
)

// PopulateStore inserts every issue in entries into store as an Issue (deduped
// by handle) plus one IssueInstance, together with a first-hop TraceFrame
// for each reported precondition/postcondition. runID is stamped on every
// frame and instance created by this call.
//
// Conditions reported independently of any issue (entries.Preconditions /
// Postconditions, keyed by handle or by (caller, caller_port)) are out of
// scope here - joining those into an instance's deeper trace is the
// province of the propagation passes that walk forward/backward from the
// first-hop frames this function creates.
//
// sourceLookup, if non-nil, is consulted to backfill an issue's callable
// name via EnclosingCallable when the analyzer reported a location but no
// symbol; it maps a filename to the file's content and is skipped entirely
// for issues that already name their callable.
func PopulateStore(store *tracegraph.Store, entries DictEntries, runID tracegraph.LocalID, sourceLookup func(filename string) ([]byte, bool)) []*tracegraph.IssueInstance {
	issuesByHandle := make(map[string]*tracegraph.Issue)
	instances := make([]*tracegraph.IssueInstance, 0, len(entries.Issues))

	for _, parsed := range entries.Issues {
		if parsed.Callable == "" && sourceLookup != nil {
			if src, ok := sourceLookup(parsed.Filename); ok {
				if name, found := EnclosingCallable(src, parsed.Start); found {
					parsed.Callable = name
				}
			}
		}

		issue, ok := issuesByHandle[parsed.Handle]
		if !ok {
			callableID := store.GetOrAddSharedText(tracegraph.KindCallable, parsed.Callable).ID
			issue = store.AddIssue(tracegraph.Issue{
				Handle:     parsed.Handle,
				Code:       parsed.Code,
				Status:     "new",
				Severity:   "",
				CallableID: callableID,
			})
			issuesByHandle[parsed.Handle] = issue
		}

		filenameID := store.GetOrAddSharedText(tracegraph.KindFilename, parsed.Filename).ID
		callableID := store.GetOrAddSharedText(tracegraph.KindCallable, parsed.Callable).ID
		messageID := store.GetOrAddSharedText(tracegraph.KindMessage, parsed.Message).ID

		instance := store.AddIssueInstance(tracegraph.IssueInstance{
			IssueID:     issue.ID,
			FilenameID:  filenameID,
			CallableID:  callableID,
			MessageID:   messageID,
			Location:    tracegraph.NewSourceLocation(parsed.Line, parsed.Start, parsed.End),
			RunID:       runID,
			IsNewIssue:  true,
			PurgeStatus: "unresolved",
		})

		for _, feature := range parsed.Features {
			textID := store.GetOrAddSharedText(tracegraph.KindFeature, feature).ID
			store.AttachInstanceSharedText(instance.ID, tracegraph.KindFeature, textID)
		}
		for _, leaf := range parsed.InitialSources {
			textID := store.GetOrAddSharedText(tracegraph.KindSource, leaf.Kind).ID
			store.AttachInstanceSharedText(instance.ID, tracegraph.KindSource, textID)
		}
		for _, leaf := range parsed.FinalSinks {
			textID := store.GetOrAddSharedText(tracegraph.KindSink, leaf.Kind).ID
			store.AttachInstanceSharedText(instance.ID, tracegraph.KindSink, textID)
		}

		minSources := minDistance(parsed.Postconditions)
		minSinks := minDistance(parsed.Preconditions)
		instance.MinTraceLengthToSources = minSources
		instance.MinTraceLengthToSinks = minSinks

		if parsed.FixInfo != nil {
			store.PutIssueInstanceFixInfo(&tracegraph.IssueInstanceFixInfo{
				ID:         instance.ID,
				InstanceID: instance.ID,
				FixInfo:    *parsed.FixInfo,
			})
		}

		addFirstHopFrames(store, instance.ID, tracegraph.Postcondition, parsed.Postconditions, filenameID, runID)
		addFirstHopFrames(store, instance.ID, tracegraph.Precondition, parsed.Preconditions, filenameID, runID)

		instances = append(instances, instance)
	}

	return instances
}

func minDistance(conditions []ParseIssueConditionTuple) *int {
	min := -1
	for _, c := range conditions {
		for _, leaf := range c.Leaves {
			if min == -1 || leaf.Distance < min {
				min = leaf.Distance
			}
		}
	}
	if min == -1 {
		return nil
	}
	return &min
}

// addFirstHopFrames creates one TraceFrame per reported condition, with a
// self-mapping leaf_mapping (each reported leaf kind maps to itself across
// the frame) since a first-hop frame has no separate caller-side view to
// transform from - it is itself the caller-facing edge of the issue.
func addFirstHopFrames(store *tracegraph.Store, instanceID tracegraph.LocalID, kind tracegraph.TraceKind, conditions []ParseIssueConditionTuple, filenameID, runID tracegraph.LocalID) {
	for _, cond := range conditions {
		calleeID := store.GetOrAddSharedText(tracegraph.KindCallable, cond.Callee).ID
		callerPort := "root"
		if cond.RootPort != nil {
			callerPort = *cond.RootPort
		}

		var typeInterval tracegraph.TypeInterval
		if cond.TypeInterval != nil {
			typeInterval = *cond.TypeInterval
		}

		var leafMapping []tracegraph.LeafMapping
		leafIDs := make([]tracegraph.LocalID, 0, len(cond.Leaves))
		for _, leaf := range cond.Leaves {
			leafKind := tracegraph.KindSource
			if kind == tracegraph.Precondition {
				leafKind = tracegraph.KindSink
			}
			leafID := store.GetOrAddSharedText(leafKind, leaf.Kind).ID
			leafMapping = append(leafMapping, tracegraph.LeafMapping{CallerLeaf: leafID, CalleeLeaf: leafID, Transform: leafID})
			leafIDs = append(leafIDs, leafID)
		}

		frame := store.AddTraceFrame(tracegraph.TraceFrame{
			Kind:           kind,
			CallerID:       calleeID,
			CallerPort:     callerPort,
			CalleeID:       calleeID,
			CalleePort:     cond.Port,
			CalleeLocation: cond.Location,
			FilenameID:     filenameID,
			RunID:          runID,
			TypeInterval:   typeInterval,
			Titos:          cond.Titos,
			Reachability:   tracegraph.Reachable,
			LeafMapping:    leafMapping,
		})

		store.AttachInstanceFrame(instanceID, frame.ID)

		for i, leaf := range cond.Leaves {
			d := leaf.Distance
			store.AddTraceFrameLeafAssoc(frame, leafIDs[i], &d)
		}
		for _, feature := range cond.Features {
			featureID := store.GetOrAddSharedText(tracegraph.KindFeature, feature.Name).ID
			store.AddTraceFrameLeafAssoc(frame, featureID, nil)
		}
	}
}
