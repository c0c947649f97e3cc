// Package common keeps enums shared between configuration and engine
// packages, so the engine does not have to import configuration just to name a
// device class.
package common

//go:generate go tool go-enum --marshal --names

// Class of device engine runs on. Determines viewport thresholds and readiness
// budgets.
// ENUM(desktop, mobile)
type DeviceClass int

// IsMobile reports whether touch/mobile thresholds apply.
func (d DeviceClass) IsMobile() bool {
	return d == DeviceClassMobile
}
