// Package comm defines the narrow process-group capability consumed by
// the step machinery: rank discovery, group size, barriers, and group
// splitting.
//
// The protocol logic never talks to a concrete runtime; it sees only
// the Group interface. Deployments swap implementations without
// touching protocol code: the inproc subpackage runs process groups as
// goroutines for testing and single-host harnesses, while distributed
// deployments bring their own fabric.
package comm
