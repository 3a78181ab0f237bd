// Package compound is the static registry of physical-quantity codes used to
// tag impact records. It is a leaf package with no dependencies.
package compound

// CompoundID maps compound codes to numeric IDs for compact keys
type CompoundID uint16

// Unit is the canonical measurement unit for a compound
type Unit string

const (
	UnitGram  Unit = "g"
	UnitLiter Unit = "L"
)

// Direction is the default flow direction for a compound
type Direction int8

const (
	DirectionReleased Direction = 1  // positive quantities: released/produced
	DirectionConsumed Direction = -1 // negative quantities: consumed/sequestered
)

// Info describes a registered compound
type Info struct {
	ID          CompoundID
	Code        string
	DisplayName string
	Unit        Unit
	Default     Direction
}

var (
	codeToInfo = map[string]Info{
		"CO2":  {ID: 1, Code: "CO2", DisplayName: "Carbon dioxide", Unit: UnitGram, Default: DirectionReleased},
		"CH4":  {ID: 2, Code: "CH4", DisplayName: "Methane", Unit: UnitGram, Default: DirectionReleased},
		"N2O":  {ID: 3, Code: "N2O", DisplayName: "Nitrous oxide", Unit: UnitGram, Default: DirectionReleased},
		"PM25": {ID: 4, Code: "PM25", DisplayName: "Fine particulate matter", Unit: UnitGram, Default: DirectionReleased},
		"NO3":  {ID: 5, Code: "NO3", DisplayName: "Nitrate", Unit: UnitGram, Default: DirectionReleased},
		"P":    {ID: 6, Code: "P", DisplayName: "Phosphorus", Unit: UnitGram, Default: DirectionReleased},
		"H2O":  {ID: 7, Code: "H2O", DisplayName: "Fresh water", Unit: UnitLiter, Default: DirectionConsumed},
	}
	idToCode = map[CompoundID]string{}
)

func init() {
	for code, info := range codeToInfo {
		idToCode[info.ID] = code
	}
}

// Lookup returns the registry entry for a compound code.
func Lookup(code string) (Info, bool) {
	info, ok := codeToInfo[code]
	return info, ok
}

// GetCompoundID returns the numeric ID for a compound code.
func GetCompoundID(code string) (CompoundID, bool) {
	info, ok := codeToInfo[code]
	return info.ID, ok
}

// GetCompoundCode returns the code for a numeric compound ID.
func GetCompoundCode(id CompoundID) (string, bool) {
	code, ok := idToCode[id]
	return code, ok
}

// unitScale maps measurement units to their factor relative to the canonical unit.
var unitScale = map[string]int64{
	"g":  1,
	"kg": 1_000,
	"t":  1_000_000,
	"L":  1,
	"kL": 1_000,
}

// NormalizeQuantity converts a quantity expressed in unit into the compound's
// canonical unit. Returns false for unknown units or units of the wrong
// dimension (mass unit on a volume compound and vice versa).
func NormalizeQuantity(code string, quantity int64, unit string) (int64, bool) {
	info, ok := codeToInfo[code]
	if !ok {
		return 0, false
	}

	scale, ok := unitScale[unit]
	if !ok {
		return 0, false
	}

	volumeUnit := unit == "L" || unit == "kL"
	if (info.Unit == UnitLiter) != volumeUnit {
		return 0, false
	}

	return quantity * scale, true
}
