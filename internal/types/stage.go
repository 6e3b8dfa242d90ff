package types

// Stage is a phase of a live-migration or checkpoint operation. StageNone
// is both the initial and the idle state between migrations; a sequence may
// restart from StageNone at any point.
type Stage int

const (
	// StageNone is the normal running state, outside any migration.
	StageNone Stage = 0
	// StagePreCopy is the pre-copy phase, vCPUs still running.
	StagePreCopy Stage = 1
	// StageStopAndCopy is the stop-and-copy phase, vCPUs paused.
	StageStopAndCopy Stage = 2
	// StageResume is the resume phase on the destination, vCPUs paused.
	StageResume Stage = 3
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StagePreCopy:
		return "pre-copy"
	case StageStopAndCopy:
		return "stop-and-copy"
	case StageResume:
		return "resume"
	default:
		return "undefined"
	}
}

// Valid reports whether the stage is one of the four defined phases.
func (s Stage) Valid() bool {
	return s >= StageNone && s <= StageResume
}

// ParseStage maps a stage name back to its value.
func ParseStage(s string) (Stage, bool) {
	switch s {
	case "none":
		return StageNone, true
	case "pre-copy":
		return StagePreCopy, true
	case "stop-and-copy":
		return StageStopAndCopy, true
	case "resume":
		return StageResume, true
	default:
		return StageNone, false
	}
}

// CanFollow reports whether the stage is a legal successor of prev.
// The cycle is none -> pre-copy -> stop-and-copy -> resume -> none, and any
// stage may fall back to none when a migration attempt is abandoned.
func (s Stage) CanFollow(prev Stage) bool {
	if s == StageNone {
		return true
	}
	switch s {
	case StagePreCopy:
		return prev == StageNone
	case StageStopAndCopy:
		return prev == StagePreCopy
	case StageResume:
		return prev == StageStopAndCopy
	default:
		return false
	}
}
