// Package evohome connects Honeywell Evohome heating systems through the
// Total Connect Comfort v2 web API.
//
// Client logs in with the account credentials, keeps the OAuth token and
// renews it shortly before it expires. Requests that fail with 429 or a
// server error are retried with exponential backoff.
//
// Controller is the hardware adapter. Each zone becomes a Temp device and
// a Setpoint device sharing the zone id, with the zone's position in the
// installation as unit. The system mode is reported both as Text and as a
// selector Switch whose levels follow Modes in steps of ten.
package evohome
