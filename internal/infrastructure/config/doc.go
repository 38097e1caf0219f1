// Package config handles loading and validating the Oikomaticz hub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with OIKOMATICZ_* environment variables
//   - Validation of required fields and hardware entries
//   - Default value handling
//
// Hardware adapters are declared as a list. Each entry carries the common
// connection fields (address, serial port, credentials, poll interval) and a
// free-form options map read by the adapter's factory:
//
//	hardware:
//	  - id: 1
//	    name: "Smart meter"
//	    type: p1
//	    enabled: true
//	    serial_port: /dev/ttyUSB0
//	    baud_rate: 115200
//	    heartbeat_timeout: 60
//	    options:
//	      decryption_key: "00112233445566778899AABBCCDDEEFF"
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
