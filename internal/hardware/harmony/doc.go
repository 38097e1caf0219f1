// Package harmony controls a Logitech Harmony Hub over its local websocket
// API.
//
// The hub id is learned from the provisioning endpoint, after which every
// request travels over one websocket and is matched to its answer by id.
// Each activity except PowerOff becomes a switch; the running activity is
// On. Switching an activity Off powers the hub off only when that activity
// is the one running.
package harmony
