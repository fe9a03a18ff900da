// Package ext defines the extension system for Herald.
// Extensions are notified of lifecycle events (job enqueued, completed,
// failed, notification sent, etc.) and can react to them — logging,
// metrics, streaming, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Hook errors are logged and dropped;
// an extension can observe the pipeline but never stall it.
package ext
