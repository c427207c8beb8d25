// Package object implements property watching for remote bus objects.
//
// A Watcher wraps a remote-object proxy and provides:
//   - A locally cached snapshot of the object's declared property set
//   - Conversion of raw property-change notification batches into generic
//     per-property change events and semantic transition events
//   - Replay of "already active" state to late subscribers
//   - Tolerance of unknown property names and malformed values
package object
