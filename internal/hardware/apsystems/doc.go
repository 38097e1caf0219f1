// Package apsystems reads solar production from APSystems ECU-R and ECU-C
// gateways over their socket protocol on port 8899.
//
// Queries and responses are framed as "APS", a two digit version, a four
// digit length, a four digit command, a body and "END". The codec in
// protocol.go works on byte slices and does no I/O.
package apsystems
