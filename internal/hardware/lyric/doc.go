// Package lyric connects Honeywell Lyric and T-series thermostats through
// the Resideo cloud API.
//
// Access tokens come from the refresh token flow; Resideo rotates the
// refresh token on every use and the client keeps the latest one. Each
// thermostat is reported as TempHum, Setpoint and a Text with its mode.
package lyric
