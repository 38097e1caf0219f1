// Package mainworker is the central RXMessage dispatch path of the hub.
//
// Hardware adapters submit decoded messages through the hardware.Sink
// interface. A single dispatch goroutine resolves (or creates) the target
// device, stores the new value, records history for meters and hands a
// DeviceChange to every Subscriber: MQTT, InfluxDB, metrics,
// notifications, the event engine and the websocket hub.
//
// Commands travel the other way: SendCommand finds the device's hardware
// through a HardwareResolver and calls its Write method.
//
//	worker := mainworker.New(registry, mainworker.Options{QueueSize: 1024})
//	worker.SetHistory(repo)
//	worker.SetResolver(hardwareManager)
//	worker.AddSubscriber(bridge)
//	worker.Start(ctx)
//	defer worker.Stop()
//
// Submit never blocks; a full queue drops the message and counts it.
package mainworker
