// Package tcpip implements the generic TCP/IP adapter for devices
// speaking newline-delimited JSON: the session polls with a read
// request on the scan interval and publishes the returned readings;
// commands are forwarded verbatim and answered by the device.
package tcpip
