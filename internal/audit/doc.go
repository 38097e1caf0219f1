// Package audit records hub activity into the event_log table: device
// commands and manual updates, hardware status transitions and user
// actions from the API.
//
// The Recorder plugs into the mainworker as a Subscriber and into the
// hardware manager as a Listener. Hardware readings are not recorded;
// device_history covers those.
package audit
