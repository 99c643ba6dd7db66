// Package tooling wires validated arguments to GraphQL operations and
// converts the result of every tool call to the wire envelope: either
// the upstream data subtree on success, or an xrayerrors.Envelope on
// failure. Facade.Invoke is the only place a panic or error is caught.
package tooling

import (
	"context"
	"fmt"

	"github.com/xray-tool-bridge/core/internal/jsonutil"
	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

// Tool is a single named operation the facade can dispatch to. Run may
// return any error; Facade.Invoke is responsible for classifying it.
type Tool struct {
	Name string
	Run  func(ctx context.Context, args map[string]any) (any, error)
}

// Facade is the single entry point every tool call passes through.
type Facade struct {
	tools map[string]Tool
}

// NewFacade constructs a Facade with no tools registered.
func NewFacade() *Facade {
	return &Facade{tools: make(map[string]Tool)}
}

// Register adds t to the facade, replacing any existing tool with the
// same name.
func (f *Facade) Register(t Tool) {
	f.tools[t.Name] = t
}

// Invoke decodes rawArgs, dispatches to the named tool, and converts
// the outcome to either a raw success value or an error Envelope. No
// error or panic from a tool body escapes this method.
func (f *Facade) Invoke(ctx context.Context, name string, rawArgs jsonutil.RawMessage) (result any, failure *xrayerrors.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			env := xrayerrors.ToEnvelope(&xrayerrors.GraphQLError{
				Operation:  name,
				BodyPrefix: fmt.Sprintf("panic: %v", r),
			})
			failure = &env
			result = nil
		}
	}()

	tool, ok := f.tools[name]
	if !ok {
		env := xrayerrors.ToEnvelope(&xrayerrors.ValidationError{Field: "tool", Reason: fmt.Sprintf("unknown tool %q", name)})
		return nil, &env
	}

	var args map[string]any
	if len(rawArgs) > 0 {
		if err := jsonutil.Unmarshal(rawArgs, &args); err != nil {
			env := xrayerrors.ToEnvelope(&xrayerrors.ValidationError{Field: "arguments", Reason: err.Error()})
			return nil, &env
		}
	}

	data, err := tool.Run(ctx, args)
	if err != nil {
		env := xrayerrors.ToEnvelope(err)
		return nil, &env
	}
	return data, nil
}
