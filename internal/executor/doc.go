// Package executor implements depth-first GraphQL value completion over an
// already assembled response tree, with explicit runtime hooks for field
// projection, abstract-type resolution, and leaf serialization.
//
// # Overview
//
// The gateway never resolves fields itself: every value comes from a
// downstream service and is merged into a single tree before completion.
// The executor walks the client's operation against that tree and shapes the
// final response:
//   - Fields are emitted in the order the client selected them, with aliases,
//     fragments and @skip/@include applied.
//   - Values are completed according to the GraphQL rules (lists, leafs,
//     objects, abstract types), including Non-Null null propagation.
//   - Errors are accumulated as located errors while allowing partial success.
//
// # Preparation
//
// ExecuteRequest chooses the operation (by name, or the only operation when
// unnamed), coerces variables against the operation's variable definitions and
// then calls ExecuteOperation. Callers that already selected and coerced, such
// as the gateway engine, call ExecuteOperation directly.
//
// # Value Completion
//
//   - Non-Null: complete the inner type. A null result records a located error
//     unless one is already reported at that path, and propagates null to the
//     nearest nullable ancestor. A nulled root field nulls the data entry.
//   - List: complete each element with an index-aware path. A null element for
//     a Non-Null inner type nullifies the entire list.
//   - Leaf (Scalar/Enum): defer to Runtime.SerializeLeafValue.
//   - Abstract (Interface/Union): defer to Runtime.ResolveType, then check the
//     answer is an object type that belongs to the abstract type.
//   - Object: collect subfields and recurse.
//
// # Errors
//
// ExecuteOperation accepts initial errors that are reported ahead of anything
// raised during completion. A runtime returning ErrAlreadyReported from
// ResolveField nulls the field without adding another error; the gateway uses
// this for fields whose fetch failed and was already reported.
//
// # Runtime Contract
//
// See runtime.go for the Runtime interface.
package executor
