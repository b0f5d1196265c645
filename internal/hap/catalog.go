package hap

import "strings"

// Service types.
const (
	ServiceAccessoryInformation        ServiceType = "3E"
	ServiceLightbulb                   ServiceType = "43"
	ServiceSwitch                      ServiceType = "49"
	ServiceOutlet                      ServiceType = "47"
	ServiceThermostat                  ServiceType = "4A"
	ServiceTemperatureSensor           ServiceType = "8A"
	ServiceHumiditySensor              ServiceType = "82"
	ServiceMotionSensor                ServiceType = "85"
	ServiceContactSensor               ServiceType = "80"
	ServiceOccupancySensor             ServiceType = "86"
	ServiceLeakSensor                  ServiceType = "83"
	ServiceSmokeSensor                 ServiceType = "87"
	ServiceCarbonMonoxideSensor        ServiceType = "7F"
	ServiceLightSensor                 ServiceType = "84"
	ServiceBattery                     ServiceType = "96"
	ServiceSpeaker                     ServiceType = "113"
	ServiceStatelessProgrammableSwitch ServiceType = "89"
	ServiceLockMechanism               ServiceType = "45"
	ServiceWindowCovering              ServiceType = "8C"
	ServiceFan                         ServiceType = "B7"
	ServiceSecuritySystem              ServiceType = "7E"
	ServiceGarageDoorOpener            ServiceType = "41"
	ServiceValve                       ServiceType = "D0"
)

// Characteristic types.
const (
	CharOn                         CharacteristicType = "25"
	CharBrightness                 CharacteristicType = "8"
	CharHue                        CharacteristicType = "13"
	CharSaturation                 CharacteristicType = "2F"
	CharColorTemperature           CharacteristicType = "CE"
	CharCurrentTemperature         CharacteristicType = "11"
	CharTargetTemperature          CharacteristicType = "35"
	CharCurrentHeatingCoolingState CharacteristicType = "F"
	CharTargetHeatingCoolingState  CharacteristicType = "33"
	CharTemperatureDisplayUnits    CharacteristicType = "36"
	CharCurrentRelativeHumidity    CharacteristicType = "10"
	CharMotionDetected             CharacteristicType = "22"
	CharContactSensorState         CharacteristicType = "6A"
	CharOccupancyDetected          CharacteristicType = "71"
	CharLeakDetected               CharacteristicType = "70"
	CharSmokeDetected              CharacteristicType = "76"
	CharCarbonMonoxideDetected     CharacteristicType = "69"
	CharCurrentAmbientLightLevel   CharacteristicType = "6B"
	CharBatteryLevel               CharacteristicType = "68"
	CharStatusLowBattery           CharacteristicType = "79"
	CharChargingState              CharacteristicType = "8F"
	CharOutletInUse                CharacteristicType = "26"
	CharName                       CharacteristicType = "23"
	CharManufacturer               CharacteristicType = "20"
	CharModel                      CharacteristicType = "21"
	CharSerialNumber               CharacteristicType = "30"
	CharFirmwareRevision           CharacteristicType = "52"
	CharIdentify                   CharacteristicType = "14"
	CharProgrammableSwitchEvent    CharacteristicType = "73"
	CharMute                       CharacteristicType = "11A"
	CharVolume                     CharacteristicType = "119"
	CharLockCurrentState           CharacteristicType = "1D"
	CharLockTargetState            CharacteristicType = "1E"
	CharCurrentPosition            CharacteristicType = "6D"
	CharTargetPosition             CharacteristicType = "7C"
	CharPositionState              CharacteristicType = "72"
	CharRotationSpeed              CharacteristicType = "29"
	CharActive                     CharacteristicType = "B0"
	CharStatusActive               CharacteristicType = "75"
	CharStatusFault                CharacteristicType = "77"
	CharSecuritySystemCurrentState CharacteristicType = "66"
	CharSecuritySystemTargetState  CharacteristicType = "67"
	CharCurrentDoorState           CharacteristicType = "E"
	CharTargetDoorState            CharacteristicType = "32"
	CharObstructionDetected        CharacteristicType = "24"
	CharInUse                      CharacteristicType = "D2"
	CharValveType                  CharacteristicType = "D5"
)

// CharacteristicDef is the protocol metadata of a characteristic type.
type CharacteristicDef struct {
	Type        CharacteristicType
	Name        string
	Format      Format
	Perms       []Perm
	Unit        Unit
	MinValue    *float64
	MaxValue    *float64
	MinStep     *float64
	ValidValues []int
}

// ServiceDef is the protocol metadata of a service type.
type ServiceDef struct {
	Type     ServiceType
	Name     string
	Required []CharacteristicType
}

var (
	readNotify      = []Perm{PermRead, PermEvents}
	readWriteNotify = []Perm{PermRead, PermWrite, PermEvents}
	readOnly        = []Perm{PermRead}
	writeOnly       = []Perm{PermWrite}
)

func num(v float64) *float64 { return &v }

func ranged(t CharacteristicType, name string, format Format, perms []Perm, unit Unit, lo, hi, step float64) CharacteristicDef {
	return CharacteristicDef{Type: t, Name: name, Format: format, Perms: perms, Unit: unit, MinValue: num(lo), MaxValue: num(hi), MinStep: num(step)}
}

func enum(t CharacteristicType, name string, perms []Perm, values ...int) CharacteristicDef {
	lo, hi := values[0], values[len(values)-1]
	return CharacteristicDef{
		Type: t, Name: name, Format: FormatUInt8, Perms: perms,
		MinValue: num(float64(lo)), MaxValue: num(float64(hi)), MinStep: num(1),
		ValidValues: values,
	}
}

func plain(t CharacteristicType, name string, format Format, perms []Perm) CharacteristicDef {
	return CharacteristicDef{Type: t, Name: name, Format: format, Perms: perms}
}

var characteristicDefs = map[CharacteristicType]CharacteristicDef{}

var serviceDefs = map[ServiceType]ServiceDef{}

func init() {
	for _, def := range []CharacteristicDef{
		plain(CharOn, "On", FormatBool, readWriteNotify),
		ranged(CharBrightness, "Brightness", FormatInt, readWriteNotify, UnitPercentage, 0, 100, 1),
		ranged(CharHue, "Hue", FormatFloat, readWriteNotify, UnitArcDegrees, 0, 360, 1),
		ranged(CharSaturation, "Saturation", FormatFloat, readWriteNotify, UnitPercentage, 0, 100, 1),
		ranged(CharColorTemperature, "ColorTemperature", FormatUInt32, readWriteNotify, UnitNone, 140, 500, 1),
		ranged(CharCurrentTemperature, "CurrentTemperature", FormatFloat, readNotify, UnitCelsius, -270, 100, 0.1),
		ranged(CharTargetTemperature, "TargetTemperature", FormatFloat, readWriteNotify, UnitCelsius, 10, 38, 0.1),
		enum(CharCurrentHeatingCoolingState, "CurrentHeatingCoolingState", readNotify, 0, 1, 2),
		enum(CharTargetHeatingCoolingState, "TargetHeatingCoolingState", readWriteNotify, 0, 1, 2, 3),
		enum(CharTemperatureDisplayUnits, "TemperatureDisplayUnits", readWriteNotify, 0, 1),
		ranged(CharCurrentRelativeHumidity, "CurrentRelativeHumidity", FormatFloat, readNotify, UnitPercentage, 0, 100, 1),
		plain(CharMotionDetected, "MotionDetected", FormatBool, readNotify),
		enum(CharContactSensorState, "ContactSensorState", readNotify, 0, 1),
		enum(CharOccupancyDetected, "OccupancyDetected", readNotify, 0, 1),
		enum(CharLeakDetected, "LeakDetected", readNotify, 0, 1),
		enum(CharSmokeDetected, "SmokeDetected", readNotify, 0, 1),
		enum(CharCarbonMonoxideDetected, "CarbonMonoxideDetected", readNotify, 0, 1),
		ranged(CharCurrentAmbientLightLevel, "CurrentAmbientLightLevel", FormatFloat, readNotify, UnitLux, 0.0001, 100000, 0),
		ranged(CharBatteryLevel, "BatteryLevel", FormatUInt8, readNotify, UnitPercentage, 0, 100, 1),
		enum(CharStatusLowBattery, "StatusLowBattery", readNotify, 0, 1),
		enum(CharChargingState, "ChargingState", readNotify, 0, 1, 2),
		plain(CharOutletInUse, "OutletInUse", FormatBool, readNotify),
		plain(CharName, "Name", FormatString, readOnly),
		plain(CharManufacturer, "Manufacturer", FormatString, readOnly),
		plain(CharModel, "Model", FormatString, readOnly),
		plain(CharSerialNumber, "SerialNumber", FormatString, readOnly),
		plain(CharFirmwareRevision, "FirmwareRevision", FormatString, readOnly),
		plain(CharIdentify, "Identify", FormatBool, writeOnly),
		enum(CharProgrammableSwitchEvent, "ProgrammableSwitchEvent", readNotify, 0, 1, 2),
		plain(CharMute, "Mute", FormatBool, readWriteNotify),
		ranged(CharVolume, "Volume", FormatUInt8, readWriteNotify, UnitPercentage, 0, 100, 1),
		enum(CharLockCurrentState, "LockCurrentState", readNotify, 0, 1, 2, 3),
		enum(CharLockTargetState, "LockTargetState", readWriteNotify, 0, 1),
		ranged(CharCurrentPosition, "CurrentPosition", FormatUInt8, readNotify, UnitPercentage, 0, 100, 1),
		ranged(CharTargetPosition, "TargetPosition", FormatUInt8, readWriteNotify, UnitPercentage, 0, 100, 1),
		enum(CharPositionState, "PositionState", readNotify, 0, 1, 2),
		ranged(CharRotationSpeed, "RotationSpeed", FormatFloat, readWriteNotify, UnitPercentage, 0, 100, 1),
		enum(CharActive, "Active", readWriteNotify, 0, 1),
		plain(CharStatusActive, "StatusActive", FormatBool, readNotify),
		enum(CharStatusFault, "StatusFault", readNotify, 0, 1),
		enum(CharSecuritySystemCurrentState, "SecuritySystemCurrentState", readNotify, 0, 1, 2, 3, 4),
		enum(CharSecuritySystemTargetState, "SecuritySystemTargetState", readWriteNotify, 0, 1, 2, 3),
		enum(CharCurrentDoorState, "CurrentDoorState", readNotify, 0, 1, 2, 3, 4),
		enum(CharTargetDoorState, "TargetDoorState", readWriteNotify, 0, 1),
		plain(CharObstructionDetected, "ObstructionDetected", FormatBool, readNotify),
		enum(CharInUse, "InUse", readNotify, 0, 1),
		enum(CharValveType, "ValveType", readNotify, 0, 1, 2, 3),
	} {
		characteristicDefs[def.Type] = def
	}

	for _, def := range []ServiceDef{
		{ServiceAccessoryInformation, "AccessoryInformation", []CharacteristicType{CharIdentify, CharManufacturer, CharModel, CharName, CharSerialNumber, CharFirmwareRevision}},
		{ServiceLightbulb, "Lightbulb", []CharacteristicType{CharOn}},
		{ServiceSwitch, "Switch", []CharacteristicType{CharOn}},
		{ServiceOutlet, "Outlet", []CharacteristicType{CharOn, CharOutletInUse}},
		{ServiceThermostat, "Thermostat", []CharacteristicType{CharCurrentHeatingCoolingState, CharTargetHeatingCoolingState, CharCurrentTemperature, CharTargetTemperature, CharTemperatureDisplayUnits}},
		{ServiceTemperatureSensor, "TemperatureSensor", []CharacteristicType{CharCurrentTemperature}},
		{ServiceHumiditySensor, "HumiditySensor", []CharacteristicType{CharCurrentRelativeHumidity}},
		{ServiceMotionSensor, "MotionSensor", []CharacteristicType{CharMotionDetected}},
		{ServiceContactSensor, "ContactSensor", []CharacteristicType{CharContactSensorState}},
		{ServiceOccupancySensor, "OccupancySensor", []CharacteristicType{CharOccupancyDetected}},
		{ServiceLeakSensor, "LeakSensor", []CharacteristicType{CharLeakDetected}},
		{ServiceSmokeSensor, "SmokeSensor", []CharacteristicType{CharSmokeDetected}},
		{ServiceCarbonMonoxideSensor, "CarbonMonoxideSensor", []CharacteristicType{CharCarbonMonoxideDetected}},
		{ServiceLightSensor, "LightSensor", []CharacteristicType{CharCurrentAmbientLightLevel}},
		{ServiceBattery, "Battery", []CharacteristicType{CharBatteryLevel, CharChargingState, CharStatusLowBattery}},
		{ServiceSpeaker, "Speaker", []CharacteristicType{CharMute}},
		{ServiceStatelessProgrammableSwitch, "StatelessProgrammableSwitch", []CharacteristicType{CharProgrammableSwitchEvent}},
		{ServiceLockMechanism, "LockMechanism", []CharacteristicType{CharLockCurrentState, CharLockTargetState}},
		{ServiceWindowCovering, "WindowCovering", []CharacteristicType{CharCurrentPosition, CharTargetPosition, CharPositionState}},
		{ServiceFan, "Fan", []CharacteristicType{CharActive}},
		{ServiceSecuritySystem, "SecuritySystem", []CharacteristicType{CharSecuritySystemCurrentState, CharSecuritySystemTargetState}},
		{ServiceGarageDoorOpener, "GarageDoorOpener", []CharacteristicType{CharCurrentDoorState, CharTargetDoorState, CharObstructionDetected}},
		{ServiceValve, "Valve", []CharacteristicType{CharActive, CharInUse, CharValveType}},
	} {
		serviceDefs[def.Type] = def
	}
}

// LookupCharacteristic returns the catalogued metadata for t.
func LookupCharacteristic(t CharacteristicType) (CharacteristicDef, bool) {
	def, ok := characteristicDefs[t]
	return def, ok
}

// LookupService returns the catalogued metadata for t.
func LookupService(t ServiceType) (ServiceDef, bool) {
	def, ok := serviceDefs[t]
	return def, ok
}

// ParseServiceType resolves a service by catalogue name (case-insensitive)
// or hex identifier.
func ParseServiceType(name string) (ServiceType, error) {
	for t, def := range serviceDefs {
		if strings.EqualFold(def.Name, name) || strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", ErrUnknownType
}

// ParseCharacteristicType resolves a characteristic by catalogue name
// (case-insensitive) or hex identifier.
func ParseCharacteristicType(name string) (CharacteristicType, error) {
	for t, def := range characteristicDefs {
		if strings.EqualFold(def.Name, name) || strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", ErrUnknownType
}

// String returns the catalogue name of the service type.
func (t ServiceType) String() string {
	if def, ok := serviceDefs[t]; ok {
		return def.Name
	}
	return string(t)
}

// String returns the catalogue name of the characteristic type.
func (t CharacteristicType) String() string {
	if def, ok := characteristicDefs[t]; ok {
		return def.Name
	}
	return string(t)
}
