package result

import (
	"fmt"
)

// Code is the flat result of one update run. Its numeric value is the process exit code.
type Code int

// Success and the pre-flight/parameter group.
const (
	Success Code = 0

	// ParseError means the command line parser already printed the problem.
	ParseError            Code = 1
	MissingPackagePath    Code = 2
	PackageNotFound       Code = 3
	WrongPackageExtension Code = 4
	LogInitFailed         Code = 5
	ConfigFileInvalid     Code = 6
	UnknownSequence       Code = 7
)

// Package handling.
const (
	PackageFetchFailed    Code = 10
	PackageEraseFailed    Code = 11
	PackageCorrupt        Code = 12
	PackageUnzipFailed    Code = 13
	PackageMissingFiles   Code = 14
	PackageAuthFailed     Code = 15
	CertificateLoadFailed Code = 16
)

// Transport.
const (
	UnknownBusType      Code = 20
	CANDriverNotFound   Code = 21
	CANDriverLoadFailed Code = 22
	CANInitFailed       Code = 23
	EthernetNotFound    Code = 24
	EthernetInitFailed  Code = 25
)

// Sequence setup.
const (
	SetupRouting          Code = 30
	SetupUnknownProtocol  Code = 31
	SetupInvalidParameter Code = 32
	SetupTransportInit    Code = 33
	SetupConfiguration    Code = 34
	SetupBufferOverflow   Code = 35
)

// Flashloader activation and device information.
const (
	ActivationPartialFailure     Code = 40
	ActivationCommunication      Code = 41
	ActivationConfiguration      Code = 42
	ActivationNoSystemDefinition Code = 43
	DeviceInfoReadFailed         Code = 45
)

// System update.
const (
	UpdateAborted           Code = 50
	UpdateSizeMismatch      Code = 51
	UpdateIO                Code = 52
	UpdateNoAction          Code = 53
	UpdateCommunication     Code = 54
	UpdateConfiguration     Code = 55
	UpdateAuthentication    Code = 56
	UpdateChecksum          Code = 57
	UpdateMissingNVMFeature Code = 58
)

// Async task lifecycle.
const (
	TaskAlreadyRunning   Code = 60
	TaskWorkerInitFailed Code = 61
	// TaskInProgress is returned by CheckResult while the worker runs.
	TaskInProgress Code = 62
	// TaskNoActivity is returned by CheckResult when nothing was started or the result was already collected.
	TaskNoActivity Code = 63
)

// Package creation.
const (
	CreateProjectLoadFailed    Code = 70
	CreateViewNotFound         Code = 71
	CreateIO                   Code = 72
	CreateInvalidConfiguration Code = 73
)

// InternalError covers an internal status that no stage knows how to translate.
const InternalError Code = 99

type detail struct {
	name     string
	activity string
	message  string
}

var details = map[Code]detail{
	Success:    {name: "Success"},
	ParseError: {name: "ParseError"},

	MissingPackagePath:    {"MissingPackagePath", "Parameter check", "No update package was given."},
	PackageNotFound:       {"PackageNotFound", "Parameter check", "The update package does not exist."},
	WrongPackageExtension: {"WrongPackageExtension", "Parameter check", "The update package has the wrong file extension."},
	LogInitFailed:         {"LogInitFailed", "Parameter check", "The log file could not be created."},
	ConfigFileInvalid:     {"ConfigFileInvalid", "Parameter check", "The configuration file could not be read."},
	UnknownSequence:       {"UnknownSequence", "Parameter check", "The requested device access sequence is not available."},

	PackageFetchFailed:    {"PackageFetchFailed", "Package", "The update package could not be downloaded."},
	PackageEraseFailed:    {"PackageEraseFailed", "Package", "The unpack directory could not be cleared."},
	PackageCorrupt:        {"PackageCorrupt", "Package", "The update package is corrupt or incompatible."},
	PackageUnzipFailed:    {"PackageUnzipFailed", "Package", "The update package could not be extracted."},
	PackageMissingFiles:   {"PackageMissingFiles", "Package", "Files referenced by the update package are missing."},
	PackageAuthFailed:     {"PackageAuthFailed", "Package", "The update package could not be authenticated or decrypted."},
	CertificateLoadFailed: {"CertificateLoadFailed", "Package", "The certificate directory could not be parsed."},

	UnknownBusType:      {"UnknownBusType", "Transport", "The active bus has an unsupported type."},
	CANDriverNotFound:   {"CANDriverNotFound", "Transport", "The CAN driver could not be found."},
	CANDriverLoadFailed: {"CANDriverLoadFailed", "Transport", "The CAN driver could not be loaded."},
	CANInitFailed:       {"CANInitFailed", "Transport", "The CAN interface could not be initialized."},
	EthernetNotFound:    {"EthernetNotFound", "Transport", "The Ethernet interface could not be found."},
	EthernetInitFailed:  {"EthernetInitFailed", "Transport", "The Ethernet interface could not be initialized."},

	SetupRouting:          {"SetupRouting", "Setup", "Routing to the target nodes is not possible."},
	SetupUnknownProtocol:  {"SetupUnknownProtocol", "Setup", "A node uses an unknown flashloader protocol."},
	SetupInvalidParameter: {"SetupInvalidParameter", "Setup", "The system definition contains invalid parameters."},
	SetupTransportInit:    {"SetupTransportInit", "Setup", "The protocol layer could not be initialized on the transport."},
	SetupConfiguration:    {"SetupConfiguration", "Setup", "The system configuration is not consistent."},
	SetupBufferOverflow:   {"SetupBufferOverflow", "Setup", "The transport buffer overflowed during setup."},

	ActivationPartialFailure:     {"ActivationPartialFailure", "Activate flashloader", "Not all nodes could be switched to the flashloader."},
	ActivationCommunication:      {"ActivationCommunication", "Activate flashloader", "Communication with the nodes failed."},
	ActivationConfiguration:      {"ActivationConfiguration", "Activate flashloader", "The activation configuration is invalid."},
	ActivationNoSystemDefinition: {"ActivationNoSystemDefinition", "Activate flashloader", "No system definition is available."},
	DeviceInfoReadFailed:         {"DeviceInfoReadFailed", "Read device information", "The installed applications could not be read."},

	UpdateAborted:           {"UpdateAborted", "Update", "The update was aborted."},
	UpdateSizeMismatch:      {"UpdateSizeMismatch", "Update", "The number of files does not match the number of nodes."},
	UpdateIO:                {"UpdateIO", "Update", "A file could not be read or does not match the node."},
	UpdateNoAction:          {"UpdateNoAction", "Update", "A node did not respond to the update request."},
	UpdateCommunication:     {"UpdateCommunication", "Update", "Communication with a node failed during the update."},
	UpdateConfiguration:     {"UpdateConfiguration", "Update", "The update configuration is invalid."},
	UpdateAuthentication:    {"UpdateAuthentication", "Update", "A node rejected the security access."},
	UpdateChecksum:          {"UpdateChecksum", "Update", "A node reported a checksum or signature error."},
	UpdateMissingNVMFeature: {"UpdateMissingNVMFeature", "Update", "A node does not support writing parameter sets."},

	TaskAlreadyRunning:   {"TaskAlreadyRunning", "Task", "An update is already running."},
	TaskWorkerInitFailed: {"TaskWorkerInitFailed", "Task", "The update worker could not be started."},
	TaskInProgress:       {"TaskInProgress", "Task", "The update is still running."},
	TaskNoActivity:       {"TaskNoActivity", "Task", "No update was started or its result was already collected."},

	CreateProjectLoadFailed:    {"CreateProjectLoadFailed", "Create package", "The project could not be loaded."},
	CreateViewNotFound:         {"CreateViewNotFound", "Create package", "The requested view does not exist in the project."},
	CreateIO:                   {"CreateIO", "Create package", "The package could not be written."},
	CreateInvalidConfiguration: {"CreateInvalidConfiguration", "Create package", "The view configuration is invalid."},

	InternalError: {"InternalError", "Internal", "An unexpected internal status was reported."},
}

// Describe returns the activity tag and the human-readable message of a code.
// Both are empty for Success and ParseError.
func Describe(c Code) (activity, message string) {
	d, ok := details[c]
	if !ok {
		return "Internal", fmt.Sprintf("Undefined result code %d.", int(c))
	}
	return d.activity, d.message
}

// All returns every defined code in ascending order.
func All() []Code {
	codes := make([]Code, 0, len(details))
	for c := Code(0); c < 256; c++ {
		if _, ok := details[c]; ok {
			codes = append(codes, c)
		}
	}
	return codes
}

// IsValid reports whether c is a defined code.
func (c Code) IsValid() bool {
	_, ok := details[c]
	return ok
}

// ExitCode returns the process exit code for c.
func (c Code) ExitCode() int {
	return int(c)
}

// FromExitCode maps a process exit code back to its result code.
func FromExitCode(code int) (Code, bool) {
	c := Code(code)
	if !c.IsValid() {
		return InternalError, false
	}
	return c, true
}

func (c Code) String() string {
	if d, ok := details[c]; ok {
		return d.name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error lets a non-success code travel through error returns up to main.
func (c Code) Error() string {
	activity, message := Describe(c)
	if message == "" {
		return c.String()
	}
	return fmt.Sprintf("%s: %s (code %d)", activity, message, int(c))
}
