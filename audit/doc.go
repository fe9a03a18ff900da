// Package audit is a Herald extension that bridges lifecycle events to
// an immutable audit trail backend.
//
// Every job and notification lifecycle hook emits a structured audit
// event through the [Recorder] interface. The extension assigns
// appropriate severity levels (info for normal operations, warning for
// retries, critical for terminal failures) and rich metadata (channel,
// retry counts, elapsed time, errors).
//
// # Usage
//
//	eng, _ := engine.Build(h, engine.WithExtension(
//	    audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	        return trail.Append(ctx, evt)
//	    })),
//	))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionJobFailed,
//	        audit.ActionJobDLQ,
//	        audit.ActionNotificationFailed,
//	    ),
//	)
package audit
