// Package process describes executable process graphs.
//
// The engine consumes graphs through the Graph interface only. Definition is
// the in-tree implementation, loaded from YAML and versioned with semver.
package process

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/pulseflow/errors"
)

// Activity types understood by the built-in behaviors
const (
	StartEvent       = "startEvent"
	EndEvent         = "endEvent"
	ServiceTask      = "serviceTask"
	UserTask         = "userTask"
	ReceiveTask      = "receiveTask"
	ExternalTask     = "externalTask"
	ParallelGateway  = "parallelGateway"
	ExclusiveGateway = "exclusiveGateway"
	SubProcess       = "subProcess"
)

// Activity is one node of the graph
type Activity struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	Name string `yaml:"name,omitempty"`

	// Parent is the id of the enclosing subprocess, empty at process level
	Parent string `yaml:"parent,omitempty"`

	AsyncBefore bool `yaml:"async_before,omitempty"`
	AsyncAfter  bool `yaml:"async_after,omitempty"`

	// FailedJobRetryTimeCycle is a cycle literal ("R5/PT5M") or an expression ("${cycle}")
	FailedJobRetryTimeCycle string `yaml:"failed_job_retry_time_cycle,omitempty"`

	Handler string `yaml:"handler,omitempty"` // serviceTask handler name
	Message string `yaml:"message,omitempty"` // receiveTask message name
	Topic   string `yaml:"topic,omitempty"`   // externalTask topic

	// Default is the outgoing transition taken by an exclusive gateway when no condition matches
	Default string `yaml:"default,omitempty"`
}

// Transition is a directed edge between two activities of the same scope
type Transition struct {
	ID        string `yaml:"id,omitempty"`
	Source    string `yaml:"from"`
	Target    string `yaml:"to"`
	Condition string `yaml:"condition,omitempty"`
}

// Definition is a versioned process graph
type Definition struct {
	Key         string       `yaml:"key"`
	Version     string       `yaml:"version"`
	Name        string       `yaml:"name,omitempty"`
	Activities  []Activity   `yaml:"activities"`
	Transitions []Transition `yaml:"transitions"`

	version    *semver.Version
	activities map[string]*Activity
	outgoing   map[string][]Transition
	incoming   map[string][]Transition
	initial    map[string]string // scope activity id ("" = process) -> start event id
}

// DefinitionID formats the id stored on executions
func DefinitionID(key string, v *semver.Version) string {
	return fmt.Sprintf("%s:%s", key, v.String())
}

// ID returns "key:version"
func (d *Definition) ID() string {
	return DefinitionID(d.Key, d.version)
}

// SemVer returns the parsed version
func (d *Definition) SemVer() *semver.Version {
	return d.version
}

// Build validates the definition and indexes it. It must be called before
// the definition is used as a Graph.
func (d *Definition) Build() error {
	if d.Key == "" {
		return errors.NewInvalidRequestError("process definition has no key")
	}
	v, err := semver.NewVersion(d.Version)
	if err != nil {
		err = errors.Wrapf(err, "process %s has invalid version %q", d.Key, d.Version)
		return errors.Mark(err, errors.ErrInvalidRequest)
	}
	d.version = v

	d.activities = make(map[string]*Activity, len(d.Activities))
	d.outgoing = make(map[string][]Transition)
	d.incoming = make(map[string][]Transition)
	d.initial = make(map[string]string)

	for i := range d.Activities {
		a := &d.Activities[i]
		if a.ID == "" {
			return errors.NewInvalidRequestError("process %s: activity #%d has no id", d.Key, i)
		}
		if _, dup := d.activities[a.ID]; dup {
			return errors.NewInvalidRequestError("process %s: duplicate activity %s", d.Key, a.ID)
		}
		d.activities[a.ID] = a
	}

	for _, a := range d.activities {
		if a.Parent != "" {
			parent, ok := d.activities[a.Parent]
			if !ok || parent.Type != SubProcess {
				return errors.NewInvalidRequestError("process %s: activity %s has unknown subprocess parent %s", d.Key, a.ID, a.Parent)
			}
		}
		switch a.Type {
		case StartEvent:
			if prev, dup := d.initial[a.Parent]; dup {
				return errors.NewInvalidRequestError("process %s: scope %q has two start events (%s, %s)", d.Key, a.Parent, prev, a.ID)
			}
			d.initial[a.Parent] = a.ID
		case ServiceTask:
			if a.Handler == "" {
				return errors.NewInvalidRequestError("process %s: service task %s has no handler", d.Key, a.ID)
			}
		case ReceiveTask:
			if a.Message == "" {
				return errors.NewInvalidRequestError("process %s: receive task %s has no message", d.Key, a.ID)
			}
		case ExternalTask:
			if a.Topic == "" {
				return errors.NewInvalidRequestError("process %s: external task %s has no topic", d.Key, a.ID)
			}
		}
	}

	if _, ok := d.initial[""]; !ok {
		return errors.NewInvalidRequestError("process %s has no start event", d.Key)
	}
	for _, a := range d.activities {
		if a.Type == SubProcess {
			if _, ok := d.initial[a.ID]; !ok {
				return errors.NewInvalidRequestError("process %s: subprocess %s has no start event", d.Key, a.ID)
			}
		}
	}

	for i := range d.Transitions {
		tr := &d.Transitions[i]
		src, ok := d.activities[tr.Source]
		if !ok {
			return errors.NewInvalidRequestError("process %s: transition from unknown activity %s", d.Key, tr.Source)
		}
		dst, ok := d.activities[tr.Target]
		if !ok {
			return errors.NewInvalidRequestError("process %s: transition to unknown activity %s", d.Key, tr.Target)
		}
		if src.Parent != dst.Parent {
			return errors.NewInvalidRequestError("process %s: transition %s -> %s crosses a scope boundary", d.Key, tr.Source, tr.Target)
		}
		if tr.ID == "" {
			tr.ID = fmt.Sprintf("%s->%s", tr.Source, tr.Target)
		}
		d.outgoing[tr.Source] = append(d.outgoing[tr.Source], *tr)
		d.incoming[tr.Target] = append(d.incoming[tr.Target], *tr)
	}

	return nil
}
