// Package influxdb records device history in InfluxDB 2.x.
//
// Every device change is written as a "device" point tagged with the
// device idx, name and type. Smart meter and kWh devices are also written
// to an "energy" measurement with import, export and power fields, which
// is what dashboards chart.
//
// Writes are batched and non-blocking. Register the Subscriber with the
// mainworker:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	worker.AddSubscriber(influxdb.NewSubscriber(client))
package influxdb
