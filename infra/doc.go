// Package infra contains the adapters that connect protocol nodes to the
// outside world: WebSocket and MQTT transports, metrics exporters, event
// logs and error reporting. These packages depend only on the interfaces
// defined in the core packages.
package infra
