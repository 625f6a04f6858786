package codec

import "sort"

var ocpp16Actions = []string{
	"Authorize", "BootNotification", "CancelReservation", "CertificateSigned", "ChangeAvailability",
	"ChangeConfiguration", "ClearCache", "ClearChargingProfile", "DataTransfer", "DeleteCertificate",
	"DiagnosticsStatusNotification", "ExtendedTriggerMessage", "FirmwareStatusNotification",
	"GetCompositeSchedule", "GetConfiguration", "GetDiagnostics", "GetInstalledCertificateIds",
	"GetLocalListVersion", "GetLog", "Heartbeat", "InstallCertificate", "LogStatusNotification",
	"MeterValues", "RemoteStartTransaction", "RemoteStopTransaction", "ReserveNow", "Reset",
	"SecurityEventNotification", "SendLocalList", "SetChargingProfile", "SignCertificate",
	"SignedFirmwareStatusNotification", "SignedUpdateFirmware", "StartTransaction", "StatusNotification",
	"StopTransaction", "TriggerMessage", "UnlockConnector", "UpdateFirmware",
}

var ocpp201Actions = []string{
	"ClearDisplayMessage", "ClearVariableMonitoring", "ClearedChargingLimit", "CostUpdated",
	"CustomerInformation", "Get15118EVCertificate", "GetBaseReport", "GetCertificateStatus",
	"GetChargingProfiles", "GetDisplayMessages", "GetMonitoringReport", "GetReport",
	"GetTransactionStatus", "GetVariables", "NotifyChargingLimit", "NotifyCustomerInformation",
	"NotifyDisplayMessages", "NotifyEVChargingNeeds", "NotifyEVChargingSchedule", "NotifyEvent",
	"NotifyMonitoringReport", "NotifyReport", "PublishFirmware", "PublishFirmwareStatusNotification",
	"ReportChargingProfiles", "RequestStartTransaction", "RequestStopTransaction",
	"ReservationStatusUpdate", "SetDisplayMessage", "SetMonitoringBase", "SetMonitoringLevel",
	"SetNetworkProfile", "SetVariableMonitoring", "SetVariables", "TransactionEvent", "UnpublishFirmware",
}

// DefaultActions returns the sorted union of the OCPP 1.6 (with security
// extensions) and OCPP 2.0.1 action names.
func DefaultActions() []string {
	seen := make(map[string]struct{}, len(ocpp16Actions)+len(ocpp201Actions))
	out := make([]string, 0, len(seen))
	for _, set := range [][]string{ocpp16Actions, ocpp201Actions} {
		for _, a := range set {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
