package kernel

// Error describes an error raised by a kernel subsystem. Kernel errors are
// declared as package-level variables that are pointers to the Error
// structure so that error values can be compared by identity and returned
// from hot paths without allocating.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
