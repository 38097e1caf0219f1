// Package metrics exports hub state to Prometheus and DogStatsD.
//
// The Collector subscribes to device changes and hardware status. Device
// values are exported per svalue field as oikomaticz_device_value, and
// hardware health as oikomaticz_hardware_up. The mainworker's queue and
// dispatch counters are read on scrape.
package metrics
