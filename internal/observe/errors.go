package observe

import "fmt"

// ObserverFault records a failure inside one observer's handler.
type ObserverFault struct {
	Collection string
	Observer   Handle
	Name       string
	Kind       Kind
	Err        error
}

func (f *ObserverFault) Error() string {
	who := string(f.Observer)
	if f.Name != "" {
		who = f.Name + " (" + who + ")"
	}
	return fmt.Sprintf("observer %s failed on %s event for %s: %v", who, f.Kind, f.Collection, f.Err)
}

func (f *ObserverFault) Unwrap() error {
	return f.Err
}
