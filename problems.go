package dexstruct

import "fmt"

// ProblemLevel grades a problem record.
type ProblemLevel uint8

const (
	ProblemWarning ProblemLevel = iota
	ProblemError
)

func (l ProblemLevel) String() string {
	if l == ProblemError {
		return "error"
	}
	return "warning"
}

// Problem is a non-fatal issue recorded against a method or class.
type Problem struct {
	Level   ProblemLevel
	Message string
	Cause   error
	Offset  int
}

func (p Problem) String() string {
	s := fmt.Sprintf("%s: %s", p.Level, p.Message)
	if p.Offset >= 0 {
		s = fmt.Sprintf("%s: 0x%04x: %s", p.Level, p.Offset, p.Message)
	}
	if p.Cause != nil {
		s += ": " + p.Cause.Error()
	}
	return s
}

// AddWarning records a warning not tied to an offset.
func (m *Method) AddWarning(format string, args ...any) {
	m.Problems = append(m.Problems, Problem{Level: ProblemWarning, Message: fmt.Sprintf(format, args...), Offset: -1})
}

// AddWarningAt records a warning at an instruction offset.
func (m *Method) AddWarningAt(offset int, cause error, format string, args ...any) {
	m.Problems = append(m.Problems, Problem{Level: ProblemWarning, Message: fmt.Sprintf(format, args...), Cause: cause, Offset: offset})
}

// AddError records an error and switches the method to degraded output.
func (m *Method) AddError(cause error, format string, args ...any) {
	m.AddErrorAt(-1, cause, format, args...)
}

// AddErrorAt records an error at an instruction offset and switches the
// method to degraded output.
func (m *Method) AddErrorAt(offset int, cause error, format string, args ...any) {
	m.Problems = append(m.Problems, Problem{Level: ProblemError, Message: fmt.Sprintf(format, args...), Cause: cause, Offset: offset})
	m.Degraded = true
}

// Errors returns the error-level problems.
func (m *Method) Errors() []Problem {
	return filterProblems(m.Problems, ProblemError)
}

// Warnings returns the warning-level problems.
func (m *Method) Warnings() []Problem {
	return filterProblems(m.Problems, ProblemWarning)
}

// AddError records a class-level error.
func (c *Class) AddError(cause error, format string, args ...any) {
	c.Problems = append(c.Problems, Problem{Level: ProblemError, Message: fmt.Sprintf(format, args...), Cause: cause, Offset: -1})
}

func filterProblems(ps []Problem, l ProblemLevel) []Problem {
	var out []Problem
	for _, p := range ps {
		if p.Level == l {
			out = append(out, p)
		}
	}
	return out
}
