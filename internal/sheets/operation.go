package sheets

import (
	"context"
	"time"

	"google.golang.org/api/sheets/v4"

	"github.com/teemow/sheetsproxy/internal/apierror"
	"github.com/teemow/sheetsproxy/internal/instrumentation"
)

// ParamType is the JSON type of a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param describes one argument of an Operation.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string

	// Items is the JSON schema of array elements.
	Items map[string]any
	// Properties is the JSON schema of object fields.
	Properties map[string]any

	// Must completes "must be ..." in validation errors for arrays.
	Must string
}

// Operation is one Sheets API call.
type Operation struct {
	Name        string
	Description string
	ReadOnly    bool
	Params      []Param

	// check runs after the required-parameter checks.
	check func(Args) error
	run   func(ctx context.Context, svc *sheets.Service, args Args) (any, error)
}

// Validate checks required parameters and operation-specific rules.
func (o *Operation) Validate(args Args) error {
	for _, p := range o.Params {
		if !p.Required {
			continue
		}
		v, present := args[p.Name]
		switch p.Type {
		case TypeArray:
			if !present || !isArray(v) {
				return invalid(p.Name, p.Must)
			}
			if p.Must == mustMatrix && !isMatrix(v) {
				return invalid(p.Name, p.Must)
			}
		case TypeObject:
			// nested required fields are checked by the operation
			continue
		default:
			if !present || (args.String(p.Name) == "" && len(args.Strings(p.Name)) == 0) {
				return missing(p.Name)
			}
		}
	}
	if o.check != nil {
		return o.check(args)
	}
	return nil
}

// Execute validates args and performs the call. Google errors come back as
// apierror.Upstream with the provider's status.
func (o *Operation) Execute(ctx context.Context, svc *sheets.Service, args Args, metrics *instrumentation.Metrics) (any, error) {
	if err := o.Validate(args); err != nil {
		return nil, err
	}

	attrs := instrumentation.NewSpanAttributeBuilder().
		WithSpreadsheet(args.String(ParamSpreadsheetID), args.String(ParamRange)).
		WithReadOnly(o.ReadOnly).
		Build()
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceSheets, o.Name, attrs...)
	defer span.End()

	start := time.Now()
	result, err := o.run(ctx, svc, args)
	if err != nil {
		err = apierror.FromGoogle(err)
		instrumentation.SetSpanError(span, err)
		metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceSheets, o.Name, instrumentation.StatusError, time.Since(start))
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceSheets, o.Name, instrumentation.StatusSuccess, time.Since(start))
	return result, nil
}

// Schema returns the JSON schema of the operation's arguments.
func (o *Operation) Schema() map[string]any {
	props := make(map[string]any, len(o.Params))
	required := []string{}
	for _, p := range o.Params {
		props[p.Name] = p.Schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Schema returns the JSON schema of a single parameter.
func (p Param) Schema() map[string]any {
	s := map[string]any{
		"type":        string(p.Type),
		"description": p.Description,
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Items != nil {
		s["items"] = p.Items
	}
	if p.Properties != nil {
		s["properties"] = p.Properties
	}
	return s
}

// Lookup returns the registered operation called name.
func Lookup(name string) (*Operation, bool) {
	for _, op := range registry {
		if op.Name == name {
			return op, true
		}
	}
	return nil, false
}

// Operations returns every registered operation in a stable order.
func Operations() []*Operation {
	out := make([]*Operation, len(registry))
	copy(out, registry)
	return out
}
