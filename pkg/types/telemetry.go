package types

// Telemetry is a single sample of the battery pack, as reported by the
// fuel gauge and the thermistors around it.
type Telemetry struct {
	// Voltages in mV.
	VoltageNow int `json:"voltageNow"`
	VoltageAvg int `json:"voltageAvg"`
	VoltageOCV int `json:"voltageOcv"`
	// Currents in mA. Positive while charging.
	CurrentNow int `json:"currentNow"`
	CurrentAvg int `json:"currentAvg"`
	// Temperatures in 0.1 degree Celsius.
	Temperature int `json:"temperature"`
	ChgTemp     int `json:"chgTemp"`
	WpcTemp     int `json:"wpcTemp"`
	UsbTemp     int `json:"usbTemp"`
	// Capacity is the state of charge in percent.
	Capacity int `json:"capacity"`
}
