package hap

// ServiceType is the short hex identifier of a service type.
type ServiceType string

// CharacteristicType is the short hex identifier of a characteristic type.
type CharacteristicType string

// Format is the value format of a characteristic.
type Format string

// Value formats.
const (
	FormatBool   Format = "bool"
	FormatUInt8  Format = "uint8"
	FormatUInt16 Format = "uint16"
	FormatUInt32 Format = "uint32"
	FormatUInt64 Format = "uint64"
	FormatInt    Format = "int"
	FormatFloat  Format = "float"
	FormatString Format = "string"
	FormatTLV8   Format = "tlv8"
	FormatData   Format = "data"
)

// integer reports whether values of this format are integral.
func (f Format) integer() bool {
	switch f {
	case FormatUInt8, FormatUInt16, FormatUInt32, FormatUInt64, FormatInt:
		return true
	}
	return false
}

// Perm is a characteristic permission.
type Perm string

// Permissions.
const (
	PermRead   Perm = "pr"
	PermWrite  Perm = "pw"
	PermEvents Perm = "ev"
)

// Unit is a characteristic unit.
type Unit string

// Units.
const (
	UnitNone       Unit = ""
	UnitCelsius    Unit = "celsius"
	UnitPercentage Unit = "percentage"
	UnitArcDegrees Unit = "arcdegrees"
	UnitLux        Unit = "lux"
	UnitSeconds    Unit = "seconds"
)

// Category is the accessory category shown by controllers.
type Category int

// Accessory categories.
const (
	CategoryOther              Category = 1
	CategoryBridge             Category = 2
	CategoryFan                Category = 3
	CategoryGarageDoorOpener   Category = 4
	CategoryLightbulb          Category = 5
	CategoryDoorLock           Category = 6
	CategoryOutlet             Category = 7
	CategorySwitch             Category = 8
	CategoryThermostat         Category = 9
	CategorySensor             Category = 10
	CategorySecuritySystem     Category = 11
	CategoryDoor               Category = 12
	CategoryWindow             Category = 13
	CategoryWindowCovering     Category = 14
	CategoryProgrammableSwitch Category = 15
	CategoryAirPurifier        Category = 19
	CategoryHeater             Category = 20
	CategoryAirConditioner     Category = 21
	CategoryHumidifier         Category = 22
	CategoryDehumidifier       Category = 23
	CategorySpeaker            Category = 26
	CategorySprinkler          Category = 28
	CategoryFaucet             Category = 29
	CategoryTelevision         Category = 31
)

var categoryNames = map[Category]string{
	CategoryOther:              "other",
	CategoryBridge:             "bridge",
	CategoryFan:                "fan",
	CategoryGarageDoorOpener:   "garage_door_opener",
	CategoryLightbulb:          "lightbulb",
	CategoryDoorLock:           "door_lock",
	CategoryOutlet:             "outlet",
	CategorySwitch:             "switch",
	CategoryThermostat:         "thermostat",
	CategorySensor:             "sensor",
	CategorySecuritySystem:     "security_system",
	CategoryDoor:               "door",
	CategoryWindow:             "window",
	CategoryWindowCovering:     "window_covering",
	CategoryProgrammableSwitch: "programmable_switch",
	CategoryAirPurifier:        "air_purifier",
	CategoryHeater:             "heater",
	CategoryAirConditioner:     "air_conditioner",
	CategoryHumidifier:         "humidifier",
	CategoryDehumidifier:       "dehumidifier",
	CategorySpeaker:            "speaker",
	CategorySprinkler:          "sprinkler",
	CategoryFaucet:             "faucet",
	CategoryTelevision:         "television",
}

// String returns the snake_case category name.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "other"
}

// ParseCategory resolves a snake_case category name.
func ParseCategory(name string) (Category, bool) {
	for c, n := range categoryNames {
		if n == name {
			return c, true
		}
	}
	return CategoryOther, false
}
