// Package mqttbridge exposes devices over MQTT in the Domoticz format.
//
// Every device change is published as JSON to <base>/out and, retained,
// to <base>/out/<idx>. Commands arrive on <base>/in:
//
//	{"command":"switchlight","idx":7,"switchcmd":"Set Level","level":40}
//	{"command":"setsetpoint","idx":9,"setpoint":21.5}
//	{"command":"udevice","idx":12,"nvalue":0,"svalue":"19.5;60"}
//
// Switch and setpoint commands go through the mainworker to the owning
// hardware; udevice stores a value directly.
package mqttbridge
