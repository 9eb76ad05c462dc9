package step

import (
	"fmt"
)

type entry struct {
	name    string
	isError bool
}

func info(name string) entry  { return entry{name: name} }
func failed(name string) entry { return entry{name: name, isError: true} }

var table = [numSteps]entry{
	ActivateStart: info("Activate flashloader: start"),

	ActivateServiceBroadcastRequestProgrammingStart:  info("Activate flashloader: broadcast request programming"),
	ActivateServiceBroadcastRequestProgrammingError:  failed("Activate flashloader: broadcast request programming failed"),
	ActivateServiceBroadcastEcuResetStart:            info("Activate flashloader: broadcast ECU reset"),
	ActivateServiceBroadcastEcuResetError:            failed("Activate flashloader: broadcast ECU reset failed"),
	ActivateServiceBroadcastEnterPreProgrammingStart: info("Activate flashloader: broadcast enter pre-programming session"),
	ActivateServiceBroadcastEnterPreProgrammingError: failed("Activate flashloader: broadcast enter pre-programming session failed"),
	ActivateServiceBroadcastReadSerialStart:          info("Activate flashloader: broadcast read serial numbers"),
	ActivateServiceBroadcastReadSerialError:          failed("Activate flashloader: broadcast read serial numbers failed"),
	ActivateServiceReconnectError:                    failed("Activate flashloader: reconnect failed"),
	ActivateServiceSetSessionError:                   failed("Activate flashloader: set session failed"),
	ActivateLegacyResetRequestSent:                   info("Activate flashloader: legacy reset request sent"),
	ActivateLegacyResetError:                         failed("Activate flashloader: legacy reset request failed"),
	ActivateLegacyWaitForFlashloaderStart:            info("Activate flashloader: waiting for legacy flashloader"),
	ActivateLegacyFlashloaderReached:                 info("Activate flashloader: legacy flashloader reached"),
	ActivateLegacyNodeNotFound:                       failed("Activate flashloader: legacy node not found"),
	ActivateRoutingStart:                             info("Activate flashloader: set up routing"),
	ActivateRoutingError:                             failed("Activate flashloader: routing failed"),
	ActivateFinished:                                 info("Activate flashloader: finished"),

	ReadInfoStart:                       info("Read device information: start"),
	ReadInfoServiceStart:                info("Read device information: service node"),
	ReadInfoServiceReconnectError:       failed("Read device information: reconnect failed"),
	ReadInfoServiceSetSessionError:      failed("Read device information: set session failed"),
	ReadInfoServiceDeviceNameError:      failed("Read device information: reading device name failed"),
	ReadInfoServiceApplicationError:     failed("Read device information: reading application information failed"),
	ReadInfoServiceFlashloaderInfoError: failed("Read device information: reading flashloader information failed"),
	ReadInfoServiceFinished:             info("Read device information: service node finished"),
	ReadInfoLegacyStart:                 info("Read device information: legacy node"),
	ReadInfoLegacyWakeupError:           failed("Read device information: legacy wakeup failed"),
	ReadInfoLegacyDeviceNameError:       failed("Read device information: reading legacy device name failed"),
	ReadInfoLegacyFlashBlockError:       failed("Read device information: reading legacy flash block information failed"),
	ReadInfoLegacyFlashloaderInfoError:  failed("Read device information: reading legacy flashloader information failed"),
	ReadInfoLegacyFinished:              info("Read device information: legacy node finished"),
	ReadInfoRoutingError:                failed("Read device information: routing failed"),
	ReadInfoFinished:                    info("Read device information: finished"),

	UpdateStart:        info("Update system: start"),
	UpdateNodeSkipped:  info("Update system: node skipped"),
	UpdateRoutingError: failed("Update system: routing failed"),

	UpdateServiceStart:                    info("Update node: start"),
	UpdateServiceReconnectError:           failed("Update node: reconnect failed"),
	UpdateServiceSetSessionError:          failed("Update node: set session failed"),
	UpdateServiceSecurityAccessError:      failed("Update node: security access failed"),
	UpdateServiceCheckDeviceNameStart:     info("Update node: check device name"),
	UpdateServiceDeviceNameMismatch:       failed("Update node: device name does not match"),
	UpdateServiceCheckMemoryStart:         info("Update node: check memory"),
	UpdateServiceCheckMemoryError:         failed("Update node: memory check failed"),
	UpdateServiceHexOpenStart:             info("Update node: open HEX file"),
	UpdateServiceHexOpenError:             failed("Update node: opening HEX file failed"),
	UpdateServiceHexSignatureError:        failed("Update node: HEX file signature invalid"),
	UpdateServiceAreaRequestDownloadStart: info("Update node: request download"),
	UpdateServiceAreaRequestDownloadError: failed("Update node: request download failed"),
	UpdateServiceAreaTransferDataStart:    info("Update node: transfer data"),
	UpdateServiceAreaTransferDataError:    failed("Update node: transfer data failed"),
	UpdateServiceAreaTransferExitStart:    info("Update node: request transfer exit"),
	UpdateServiceAreaTransferExitError:    failed("Update node: request transfer exit failed"),
	UpdateServiceAreaFinished:             info("Update node: HEX file written"),
	UpdateServiceFileOpenError:            failed("Update node: opening file failed"),
	UpdateServiceFileRequestTransferStart: info("Update node: request file transfer"),
	UpdateServiceFileRequestTransferError: failed("Update node: request file transfer failed"),
	UpdateServiceFileTransferDataStart:    info("Update node: transfer file data"),
	UpdateServiceFileTransferDataError:    failed("Update node: transfer file data failed"),
	UpdateServiceFileTransferExitStart:    info("Update node: request file transfer exit"),
	UpdateServiceFileTransferExitError:    failed("Update node: request file transfer exit failed"),
	UpdateServiceFileFinished:             info("Update node: file written"),
	UpdateServiceNvmWriteStart:            info("Update node: write parameter set"),
	UpdateServiceNvmOpenFileError:         failed("Update node: opening parameter set file failed"),
	UpdateServiceNvmNotSupported:          failed("Update node: parameter set writing not supported"),
	UpdateServiceNvmWriteError:            failed("Update node: writing parameter set failed"),
	UpdateServiceNvmWriteFinished:         info("Update node: parameter set written"),
	UpdateServiceSecurityKeyStart:         info("Update node: write security key"),
	UpdateServiceSecurityKeyError:         failed("Update node: writing security key failed"),
	UpdateServiceSecurityActivationError:  failed("Update node: security activation failed"),
	UpdateServiceFinished:                 info("Update node: finished"),

	UpdateLegacyStart:              info("Update legacy node: start"),
	UpdateLegacyWakeupError:        failed("Update legacy node: wakeup failed"),
	UpdateLegacyHexOpenError:       failed("Update legacy node: opening HEX file failed"),
	UpdateLegacySignatureError:     failed("Update legacy node: HEX file signature invalid"),
	UpdateLegacyDeviceNameMismatch: failed("Update legacy node: device name does not match"),
	UpdateLegacyFlashStart:         info("Update legacy node: flashing"),
	UpdateLegacyFlashProgress:      info("Update legacy node"),
	UpdateLegacyFlashError:         failed("Update legacy node: flashing failed"),
	UpdateLegacyFinished:           info("Update legacy node: finished"),

	UpdateFinished: info("Update system: finished"),

	ResetStart:                         info("Reset system: start"),
	ResetServiceBroadcastEcuResetError: failed("Reset system: broadcast ECU reset failed"),
	ResetServiceEcuResetError:          failed("Reset system: ECU reset failed"),
	ResetLegacyResetError:              failed("Reset system: legacy reset failed"),
	ResetFinished:                      info("Reset system: finished"),

	DiffStart:              info("Check installed applications: start"),
	DiffNodeNotCheckable:   info("Check installed applications: node cannot be checked"),
	DiffNodeFileBased:      info("Check installed applications: file based node is always updated"),
	DiffIdentityParseError: failed("Check installed applications: file identity could not be read"),
	DiffFileUnchanged:      info("Check installed applications: file already installed"),
	DiffFileChanged:        info("Check installed applications: file differs"),
	DiffNodeRemoved:        info("Check installed applications: node is up to date"),
	DiffOrderMismatch:      failed("Check installed applications: scan order does not match plan"),
	DiffFinished:           info("Check installed applications: finished"),
}

func init() {
	for i, e := range table {
		if e.name == "" {
			panic(fmt.Sprintf("step %d has no entry in the classification table", i))
		}
	}
}

// Known reports whether s is part of the classification table.
func Known(s Step) bool {
	return s >= 0 && s < numSteps
}

// Classify returns whether a step signals an error and its display name.
// Unknown steps are errors.
func Classify(s Step) (isError bool, name string) {
	if !Known(s) {
		return true, fmt.Sprintf("Unknown step (%d)", int(s))
	}
	e := table[s]
	return e.isError, e.name
}
