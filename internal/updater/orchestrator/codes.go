package orchestrator

import (
	"errors"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
	"github.com/autopeer-io/ecuflash/internal/updater/pkgload"
	"github.com/autopeer-io/ecuflash/internal/updater/result"
	"github.com/autopeer-io/ecuflash/internal/updater/transport"
)

var setupCodes = map[core.Status]result.Code{
	core.StatusRouting:          result.SetupRouting,
	core.StatusUnknownProtocol:  result.SetupUnknownProtocol,
	core.StatusInvalidParameter: result.SetupInvalidParameter,
	core.StatusTransportInit:    result.SetupTransportInit,
	core.StatusConfiguration:    result.SetupConfiguration,
	core.StatusBufferOverflow:   result.SetupBufferOverflow,
}

var activationCodes = map[core.Status]result.Code{
	core.StatusPartial:            result.ActivationPartialFailure,
	core.StatusCommunication:      result.ActivationCommunication,
	core.StatusConfiguration:      result.ActivationConfiguration,
	core.StatusNoSystemDefinition: result.ActivationNoSystemDefinition,
}

var updateCodes = map[core.Status]result.Code{
	core.StatusAborted:        result.UpdateAborted,
	core.StatusSizeMismatch:   result.UpdateSizeMismatch,
	core.StatusIO:             result.UpdateIO,
	core.StatusNoAction:       result.UpdateNoAction,
	core.StatusCommunication:  result.UpdateCommunication,
	core.StatusConfiguration:  result.UpdateConfiguration,
	core.StatusAuthentication: result.UpdateAuthentication,
	core.StatusChecksum:       result.UpdateChecksum,
	core.StatusMissingNVM:     result.UpdateMissingNVMFeature,
}

var loadErrors = []struct {
	err  error
	code result.Code
}{
	{pkgload.ErrNoPath, result.MissingPackagePath},
	{pkgload.ErrWrongExtension, result.WrongPackageExtension},
	{pkgload.ErrNotFound, result.PackageNotFound},
	{pkgload.ErrFetch, result.PackageFetchFailed},
	{pkgload.ErrErase, result.PackageEraseFailed},
	{pkgload.ErrUnzip, result.PackageUnzipFailed},
	{pkgload.ErrMissingFiles, result.PackageMissingFiles},
	{pkgload.ErrAuth, result.PackageAuthFailed},
	{pkgload.ErrCorrupt, result.PackageCorrupt},
}

// loadCode maps a package loader error. Unknown errors count as a corrupt package.
func loadCode(err error) result.Code {
	for _, e := range loadErrors {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return result.PackageCorrupt
}

// transportCode maps a transport open error for the given bus type.
func transportCode(bus core.BusType, err error) result.Code {
	if errors.Is(err, transport.ErrUnknownBusType) {
		return result.UnknownBusType
	}

	if bus == core.BusEthernet {
		if errors.Is(err, core.ErrInterfaceNotFound) {
			return result.EthernetNotFound
		}
		return result.EthernetInitFailed
	}

	switch {
	case errors.Is(err, core.ErrDriverNotFound):
		return result.CANDriverNotFound
	case errors.Is(err, core.ErrDriverLoad):
		return result.CANDriverLoadFailed
	default:
		return result.CANInitFailed
	}
}
