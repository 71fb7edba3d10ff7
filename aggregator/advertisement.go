package aggregator

// RuuviCompanyID is the Bluetooth SIG manufacturer identifier assigned to
// Ruuvi Innovations Ltd.
const RuuviCompanyID uint16 = 0x0499

// Advertisement represents a single observed BLE advertisement, forwarded by
// the scanning collaborator. The Address is the radio-layer device address and
// serves as the canonical per-device key throughout the pipeline; any MAC
// embedded in the payload itself is carried on the decoded reading for
// diagnostics only.
type Advertisement struct {
	Address   string
	RSSI      int
	CompanyID uint16
	Payload   []byte
}
