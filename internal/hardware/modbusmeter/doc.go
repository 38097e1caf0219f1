// Package modbusmeter reads energy meters over Modbus TCP.
//
// Registers are mapped per hardware entry: power as int32 watts, imported
// and exported energy as uint32 watt-hours and voltage as uint16 tenths of
// a volt. The meter reports Energy and Voltage devices, plus a P1-style
// grid device when both import and export are mapped.
package modbusmeter
