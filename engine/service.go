package engine

import (
	"context"

	"github.com/spf13/cast"
)

// ServiceHandler is the code behind a serviceTask's handler name. It runs
// inside the command transaction; returning an error fails the activity.
type ServiceHandler interface {
	Execute(sc *ServiceContext) error
}

// ServiceFunc adapts a function to ServiceHandler
type ServiceFunc func(sc *ServiceContext) error

func (f ServiceFunc) Execute(sc *ServiceContext) error {
	return f(sc)
}

// ServiceContext is the view of a running service task
type ServiceContext struct {
	ac *ActivityContext
}

func (sc *ServiceContext) Context() context.Context {
	return sc.ac.Context()
}

func (sc *ServiceContext) ActivityID() string {
	return sc.ac.activity.ID
}

func (sc *ServiceContext) ProcessInstanceID() string {
	return sc.ac.ProcessInstanceID()
}

func (sc *ServiceContext) BusinessKey() string {
	e, err := sc.ac.Execution()
	if err != nil {
		return ""
	}
	return e.BusinessKey
}

func (sc *ServiceContext) Variable(name string) (any, bool) {
	return sc.ac.Variable(name)
}

// String, Int, Float and Bool coerce a variable; missing variables yield the zero value
func (sc *ServiceContext) String(name string) string {
	v, _ := sc.ac.Variable(name)
	return cast.ToString(v)
}

func (sc *ServiceContext) Int(name string) int {
	v, _ := sc.ac.Variable(name)
	return cast.ToInt(v)
}

func (sc *ServiceContext) Float(name string) float64 {
	v, _ := sc.ac.Variable(name)
	return cast.ToFloat64(v)
}

func (sc *ServiceContext) Bool(name string) bool {
	v, _ := sc.ac.Variable(name)
	return cast.ToBool(v)
}

func (sc *ServiceContext) SetVariable(name string, value any) error {
	return sc.ac.SetVariable(name, value)
}
