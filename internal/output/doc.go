// Package output provides formatters for lock results and mapping events.
//
// TextFormatter writes human-readable lines to a writer. OTELFormatter is a
// pure formatting layer that converts the same results and events into
// OpenTelemetry spans and span events; all locking, diffing and filtering
// is delegated to the locker and watch packages. Both implement
// locker.ResultHandler and watch.EventHandler, and Tee fans results out to
// several handlers at once.
package output
