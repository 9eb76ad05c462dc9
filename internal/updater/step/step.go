package step

// Step identifies one progress event emitted by a device access sequence.
type Step int

// Flashloader activation.
const (
	ActivateStart Step = iota
	ActivateServiceBroadcastRequestProgrammingStart
	ActivateServiceBroadcastRequestProgrammingError
	ActivateServiceBroadcastEcuResetStart
	ActivateServiceBroadcastEcuResetError
	ActivateServiceBroadcastEnterPreProgrammingStart
	ActivateServiceBroadcastEnterPreProgrammingError
	ActivateServiceBroadcastReadSerialStart
	ActivateServiceBroadcastReadSerialError
	ActivateServiceReconnectError
	ActivateServiceSetSessionError
	ActivateLegacyResetRequestSent
	ActivateLegacyResetError
	ActivateLegacyWaitForFlashloaderStart
	ActivateLegacyFlashloaderReached
	ActivateLegacyNodeNotFound
	ActivateRoutingStart
	ActivateRoutingError
	ActivateFinished

	// Device information.
	ReadInfoStart
	ReadInfoServiceStart
	ReadInfoServiceReconnectError
	ReadInfoServiceSetSessionError
	ReadInfoServiceDeviceNameError
	ReadInfoServiceApplicationError
	ReadInfoServiceFlashloaderInfoError
	ReadInfoServiceFinished
	ReadInfoLegacyStart
	ReadInfoLegacyWakeupError
	ReadInfoLegacyDeviceNameError
	ReadInfoLegacyFlashBlockError
	ReadInfoLegacyFlashloaderInfoError
	ReadInfoLegacyFinished
	ReadInfoRoutingError
	ReadInfoFinished

	// System update, common part.
	UpdateStart
	UpdateNodeSkipped
	UpdateRoutingError

	// System update, service protocol.
	UpdateServiceStart
	UpdateServiceReconnectError
	UpdateServiceSetSessionError
	UpdateServiceSecurityAccessError
	UpdateServiceCheckDeviceNameStart
	UpdateServiceDeviceNameMismatch
	UpdateServiceCheckMemoryStart
	UpdateServiceCheckMemoryError
	UpdateServiceHexOpenStart
	UpdateServiceHexOpenError
	UpdateServiceHexSignatureError
	UpdateServiceAreaRequestDownloadStart
	UpdateServiceAreaRequestDownloadError
	UpdateServiceAreaTransferDataStart
	UpdateServiceAreaTransferDataError
	UpdateServiceAreaTransferExitStart
	UpdateServiceAreaTransferExitError
	UpdateServiceAreaFinished
	UpdateServiceFileOpenError
	UpdateServiceFileRequestTransferStart
	UpdateServiceFileRequestTransferError
	UpdateServiceFileTransferDataStart
	UpdateServiceFileTransferDataError
	UpdateServiceFileTransferExitStart
	UpdateServiceFileTransferExitError
	UpdateServiceFileFinished
	UpdateServiceNvmWriteStart
	UpdateServiceNvmOpenFileError
	UpdateServiceNvmNotSupported
	UpdateServiceNvmWriteError
	UpdateServiceNvmWriteFinished
	UpdateServiceSecurityKeyStart
	UpdateServiceSecurityKeyError
	UpdateServiceSecurityActivationError
	UpdateServiceFinished

	// System update, legacy protocol.
	UpdateLegacyStart
	UpdateLegacyWakeupError
	UpdateLegacyHexOpenError
	UpdateLegacySignatureError
	UpdateLegacyDeviceNameMismatch
	UpdateLegacyFlashStart
	UpdateLegacyFlashProgress
	UpdateLegacyFlashError
	UpdateLegacyFinished

	UpdateFinished

	// System reset.
	ResetStart
	ResetServiceBroadcastEcuResetError
	ResetServiceEcuResetError
	ResetLegacyResetError
	ResetFinished

	// Change detection.
	DiffStart
	DiffNodeNotCheckable
	DiffNodeFileBased
	DiffIdentityParseError
	DiffFileUnchanged
	DiffFileChanged
	DiffNodeRemoved
	DiffOrderMismatch
	DiffFinished

	numSteps
)

// Count is the number of defined steps.
const Count = int(numSteps)

// All returns every defined step.
func All() []Step {
	steps := make([]Step, Count)
	for i := range steps {
		steps[i] = Step(i)
	}
	return steps
}

func (s Step) String() string {
	_, name := Classify(s)
	return name
}

// High frequency info texts of the legacy protocol. The reporter drops them.
const (
	InfoLegacyBlockSent   = "Sending data block"
	InfoLegacyEraseWait   = "Waiting for erase to finish"
	InfoLegacyBlockCRC    = "Checking block checksum"
	InfoLegacyAddressSent = "Sending address information"
)
