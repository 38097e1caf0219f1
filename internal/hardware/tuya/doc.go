// Package tuya controls Tuya based smart plugs over their local protocol.
//
// Frames are 0x000055AA, sequence, command, length, payload, CRC-32 and
// 0x0000AA55. Payloads are JSON encrypted with the device's 16 byte local
// key using AES-128-ECB. Version 3.3 devices encrypt every payload, version
// 3.1 devices only control commands.
//
// Client keeps one TCP connection per device, sends a heartbeat every ten
// seconds and forwards unsolicited STATUS frames to a handler. Hub is the
// hardware adapter: it polls the configured devices, maps the switch and
// metering data points to Switch, Energy, Voltage and Current messages, and
// listens for discovery broadcasts when a device has no configured address.
package tuya
