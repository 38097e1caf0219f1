// Package rx defines RXMessage, the decoded reading a hardware adapter hands
// to the mainworker, and Command, the instruction travelling the other way.
//
// Each payload kind knows how to encode itself into the nvalue/svalue pair
// stored in the device table, so adapters never format svalue strings by
// hand:
//
//	msg := rx.Message{
//	    DeviceID:   "0001",
//	    Unit:       1,
//	    Battery:    80,
//	    HasBattery: true,
//	    Payload:    rx.TempHum{Celsius: 21.4, Humidity: 48},
//	}
//	if err := base.SendMessage(msg); err != nil {
//	    ...
//	}
package rx
