// Package feedback implements the feedback-driven confidence engine for
// CAM suggestions.
//
// The package records the decisions users make about generated suggestions
// (accepted as-is, overridden, or explicitly rated) and uses that history
// to adjust the confidence of future suggestions for similar contexts.
// Suggestion generators stay rule-based; this package only decides how
// much an accumulated track record should move their confidence.
//
// # Core Concepts
//
// Every observed decision becomes an immutable Event keyed by operation
// type, material, and geometry type. Learning pools are partitioned by
// operation type: stock setup history never influences toolpath strategy
// confidence. Materials are family-matched, so feedback recorded for
// "6061 aluminum" informs queries for "aluminum" and vice versa.
//
// # Confidence Adjustment
//
// AdjustConfidence blends a generator's base confidence with the
// recency-weighted acceptance rate of matched history:
//   - Events decay exponentially with age (weight 0.5 at the half-life).
//   - Explicit ratings count double compared to inferred accept/reject.
//   - Below MinSamples matched events the base confidence is returned
//     unchanged with source "default".
//   - The blend ramps linearly up to FullTrustSamples, after which the
//     observed acceptance rate fully replaces the base confidence.
//   - Results never drop below ConfidenceFloor, so a burst of early
//     rejections cannot permanently silence a suggestion category.
//
// Each adjusted value carries a Source tag ("default", "user_preference",
// or "user_preference_tentative") so callers can attribute why the
// confidence sits where it does.
//
// # Conflict Detection
//
// The Matcher groups matched history by the recorded user choice and
// compares each group's recency-weighted mass. When two or more groups
// carry comparable mass, the result is flagged as conflicting and all
// competing groups are surfaced so the caller can present alternatives
// instead of silently picking a majority.
//
// # Failure Model
//
// The Service facade never lets a learning failure break a suggestion:
// if the store is unavailable, AdjustedConfidence falls back to the base
// confidence with OutcomeStoreError. Recording and administrative
// operations report storage errors truthfully.
//
// # Usage
//
//	store := feedback.NewMemStore()
//	svc, err := feedback.NewService(store, feedback.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// At suggest time: blend history into the generated confidence.
//	res := svc.AdjustedConfidence(ctx, feedback.SuggestRequest{
//	    OperationType:  "stock_setup",
//	    Material:       "aluminum",
//	    GeometryType:   "pocket-heavy",
//	    BaseConfidence: 0.80,
//	})
//	fmt.Printf("%.2f (%s, %d samples)\n", res.Confidence, res.Source, res.SampleCount)
//
//	// After the user decides: record what happened.
//	_, err = svc.Record(ctx, feedback.RecordRequest{
//	    OperationType:     "stock_setup",
//	    Material:          "aluminum",
//	    GeometryType:      "pocket-heavy",
//	    SuggestionPayload: payload,
//	    UserChoice:        choice, // nil means accepted as-is
//	})
package feedback
