// Package relay moves notifications from a local source to a remote overlay.
//
// A Supervisor owns one Queue and two independently restarting loops. The
// SourceLoop captures notifications, filters them and assigns a display
// timeout with Evaluate, then pushes the resulting directives. The SinkLoop
// keeps a connection to the overlay and sends queued directives in order.
// A failure in one loop never pauses or restarts the other, and the queue
// outlives every loop iteration so directives produced while the overlay is
// unreachable are delivered once it comes back.
package relay
