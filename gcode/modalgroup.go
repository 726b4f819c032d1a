package gcode

// ModalGroup identifies a set of mutually exclusive codes. At most one word
// from each group may appear in a block.
type ModalGroup byte

const (
	ModalGroupNone ModalGroup = iota
	ModalGroupNonModal
	ModalGroupMotion
	ModalGroupPolar
	ModalGroupPlaneSelection
	ModalGroupDistanceMode
	ModalGroupArcDistanceMode
	ModalGroupFeedRateMode
	ModalGroupUnits
	ModalGroupCutterCompensationMode
	ModalGroupToolLength
	ModalGroupCannedCyclesMode
	ModalGroupCoordinateSystem
	ModalGroupControlMode
	ModalGroupSpindleMode
	ModalGroupLatheDiameterMode
	ModalGroupStopping
	ModalGroupToolChange
	ModalGroupSpindle
	ModalGroupCoolant
	ModalGroupOverride
	ModalGroupFeedRate
)

var gGroups = map[float64]ModalGroup{}
var mGroups = map[float64]ModalGroup{}

func group(table map[float64]ModalGroup, g ModalGroup, codes ...float64) {
	for _, c := range codes {
		table[c] = g
	}
}

func init() {
	group(gGroups, ModalGroupNonModal, 4, 10, 28, 30, 53, 92, 92.1, 92.2, 92.3)
	group(gGroups, ModalGroupMotion, 0, 1, 2, 3, 33, 38.2, 38.3, 38.4, 38.5, 73, 76, 80, 81, 82, 83, 84, 85, 86, 87, 88, 89)
	group(gGroups, ModalGroupPolar, 15, 16)
	group(gGroups, ModalGroupPlaneSelection, 17, 18, 19, 17.1, 18.1, 19.1)
	group(gGroups, ModalGroupDistanceMode, 90, 91)
	group(gGroups, ModalGroupArcDistanceMode, 90.1, 91.1)
	group(gGroups, ModalGroupFeedRateMode, 93, 94, 95)
	group(gGroups, ModalGroupUnits, 20, 21)
	group(gGroups, ModalGroupCutterCompensationMode, 40, 41, 41.1, 42, 42.1)
	group(gGroups, ModalGroupToolLength, 43, 43.1, 49)
	group(gGroups, ModalGroupCannedCyclesMode, 98, 99)
	group(gGroups, ModalGroupCoordinateSystem, 54, 55, 56, 57, 58, 59, 59.1, 59.2, 59.3)
	group(gGroups, ModalGroupControlMode, 61, 61.1, 64)
	group(gGroups, ModalGroupSpindleMode, 96, 97)
	group(gGroups, ModalGroupLatheDiameterMode, 7, 8)

	group(mGroups, ModalGroupStopping, 0, 1, 2, 30, 60)
	group(mGroups, ModalGroupToolChange, 6, 61)
	group(mGroups, ModalGroupSpindle, 3, 4, 5)
	group(mGroups, ModalGroupCoolant, 7, 8, 9)
	group(mGroups, ModalGroupOverride, 48, 49, 50, 51, 52, 53)
}

// ModalGroup returns the group w belongs to, or ModalGroupNone for
// arguments such as axis words.
func (w Word) ModalGroup() ModalGroup {
	switch w.W {
	case 'G':
		return gGroups[w.Arg]
	case 'M':
		return mGroups[w.Arg]
	case 'F':
		return ModalGroupFeedRate
	}
	return ModalGroupNone
}
