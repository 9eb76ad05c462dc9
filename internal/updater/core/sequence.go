package core

import (
	"context"
	"crypto/x509"

	"github.com/autopeer-io/ecuflash/internal/updater/step"
)

// Status is the internal outcome of one device access operation.
type Status int

const (
	StatusOK Status = iota
	StatusRouting
	StatusUnknownProtocol
	StatusInvalidParameter
	StatusTransportInit
	StatusConfiguration
	StatusBufferOverflow
	StatusCommunication
	// StatusPartial means the operation worked for some nodes only.
	StatusPartial
	StatusNoSystemDefinition
	StatusAborted
	StatusSizeMismatch
	StatusIO
	StatusNoAction
	StatusAuthentication
	StatusChecksum
	StatusMissingNVM
)

var statusNames = [...]string{
	StatusOK:                 "ok",
	StatusRouting:            "routing",
	StatusUnknownProtocol:    "unknown-protocol",
	StatusInvalidParameter:   "invalid-parameter",
	StatusTransportInit:      "transport-init",
	StatusConfiguration:      "configuration",
	StatusBufferOverflow:     "buffer-overflow",
	StatusCommunication:      "communication",
	StatusPartial:            "partial",
	StatusNoSystemDefinition: "no-system-definition",
	StatusAborted:            "aborted",
	StatusSizeMismatch:       "size-mismatch",
	StatusIO:                 "io",
	StatusNoAction:           "no-action",
	StatusAuthentication:     "authentication",
	StatusChecksum:           "checksum",
	StatusMissingNVM:         "missing-nvm",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "undefined"
}

// Observer receives everything a device access sequence reports while it runs.
type Observer interface {
	// Report forwards one progress event. The return value asks the sequence to abort.
	Report(s step.Step, subResult int, info string, server *ServerID) bool

	// Progress forwards the overall completion in percent.
	Progress(percent int)

	// ReportDeviceInfo forwards one scanned device.
	ReportDeviceInfo(family Family, info DeviceInfo)
}

// Session is everything a sequence needs to talk to the system.
type Session struct {
	System       *SystemDefinition
	ActiveBus    uint8
	ActiveNodes  []bool
	Transport    Transport
	Certificates []*x509.Certificate
	Observer     Observer
}

// Sequence drives the flashloader protocols of all nodes on the active bus.
// Operations are synchronous and are called from one goroutine.
type Sequence interface {
	Init(ctx context.Context, s *Session) Status
	ActivateFlashloader() Status
	ReadDeviceInformation() Status
	UpdateSystem(plan *UpdatePlan) Status
	ResetSystem() Status
}

// ParseStatus returns the status with the given name.
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return Status(s), true
		}
	}
	return StatusOK, false
}
