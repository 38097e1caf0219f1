// Package mqtt connects the hub to an MQTT broker.
//
// The client wraps paho.mqtt.golang with automatic reconnect, tracked
// subscriptions that survive a reconnect, and a retained status topic
// that doubles as the Last Will so consumers can tell when the hub is
// gone.
//
// Topic names follow the Domoticz layout under a configurable base topic
// (see Topics). The mqttbridge package publishes device changes and
// handles inbound commands on top of this client.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().In(), 1, handleCommand)
package mqtt
