package types

// Class is a plugin's role tag in the pipeline. Classes are small dense
// integers so a set of them fits in one mask word.
type Class uint32

const (
	// ClassNull is a plugin with no external function.
	ClassNull Class = 0
	// ClassDisplay is graphics device emulation.
	ClassDisplay Class = 1
	// ClassPresentation is display presentation.
	ClassPresentation Class = 9

	// ClassMax is the highest defined class.
	ClassMax Class = 9
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassNull:
		return "null"
	case ClassDisplay:
		return "display"
	case ClassPresentation:
		return "presentation"
	default:
		return "undefined"
	}
}

// Valid reports whether the class is within the defined range.
func (c Class) Valid() bool {
	return c <= ClassMax
}

// Mask returns the class's bit in a ClassSet.
func (c Class) Mask() ClassSet {
	return ClassSet(1) << c
}

// ClassSet is a bitmask of plugin classes, one bit per class. At most 32
// classes are representable.
type ClassSet uint32

// ClassSetOf builds a set from the given classes.
func ClassSetOf(classes ...Class) ClassSet {
	var s ClassSet
	for _, c := range classes {
		s |= c.Mask()
	}
	return s
}

// Contains reports whether c is a member of the set.
func (s ClassSet) Contains(c Class) bool {
	return s&c.Mask() != 0
}

// With returns the set extended with c.
func (s ClassSet) With(c Class) ClassSet {
	return s | c.Mask()
}

// AllClasses is the set accepting input from every defined class, the way
// a link or transform stage does.
const AllClasses = ClassSet(1<<(ClassMax+1) - 1)

// Direction orients message delivery along the pipeline.
type Direction int

const (
	// Down is toward the emulated device end.
	Down Direction = 0
	// Up is toward the guest/presentation end.
	Up Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}
