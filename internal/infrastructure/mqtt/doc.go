// Package mqtt provides MQTT client connectivity for the AirCat gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained state publishing with QoS guarantees
//   - Topic subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// All topics live under a configurable prefix (default "aircat"):
//
//	aircat/state/{device_id}            full device status (retained)
//	aircat/sensor/{device_id}/{type}    single sensor reading (retained)
//	aircat/health/{gateway_id}          gateway health heartbeat (retained)
//	aircat/request/snapshot             republish every known device
//	aircat/system/status                online/offline, also the LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().DeviceState("0102030405AB")
//	err = client.Publish(topic, payload, 1, true)
package mqtt
