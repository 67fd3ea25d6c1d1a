// Package config handles loading and validating AirCat gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with AIRCAT_* environment variables
//   - Validation of required fields, collected into a single error
//   - Default value handling
//
// Security Considerations:
//   - MQTT credentials should be set via AIRCAT_MQTT_USERNAME / AIRCAT_MQTT_PASSWORD
//   - The config file should have restricted permissions (0600)
//   - The device protocol has no authentication; bind gateway.host to a trusted network
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.GatewayAddr())
package config
