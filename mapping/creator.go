package mapping

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/datumkit/datum/convert"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// CreatorParam binds one creator argument to the value source.
type CreatorParam struct {
	name string
	expr string
	prog cel.Program
	prop *Property
}

// Param binds an argument to a property by Go field name or storage name.
func Param(name string) CreatorParam { return CreatorParam{name: name} }

// Expr binds an argument to the result of an expression over the source,
// exposed as the map variable root.
func Expr(text string) CreatorParam { return CreatorParam{expr: text} }

// Name returns the bound property name, empty for expression parameters.
func (p CreatorParam) Name() string { return p.name }

// Expression returns the expression text, empty for property parameters.
func (p CreatorParam) Expression() string { return p.expr }

// IsExpression reports whether the parameter evaluates an expression.
func (p CreatorParam) IsExpression() bool { return p.expr != "" }

// Creator instantiates an entity through a registered constructor function
// instead of plain reflection. Functions return the entity by value or
// pointer, with an optional trailing error.
type Creator struct {
	entity  *Entity
	fn      reflect.Value
	params  []CreatorParam
	pointer bool
	hasErr  bool
}

// Params returns the parameter bindings in positional order.
func (cr *Creator) Params() []CreatorParam {
	out := make([]CreatorParam, len(cr.params))
	copy(out, cr.params)
	return out
}

func newCreator(e *Entity, fn any, params []CreatorParam) (*Creator, error) {
	fv := reflect.ValueOf(fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %T is not a function", ErrCreator, fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic functions are not supported", ErrCreator)
	}
	if ft.NumIn() != len(params) {
		return nil, fmt.Errorf("%w: %d parameters bound for %d arguments", ErrCreator, len(params), ft.NumIn())
	}

	cr := &Creator{entity: e, fn: fv}
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second return must be error, got %s", ErrCreator, ft.Out(1))
		}
		cr.hasErr = true
	default:
		return nil, fmt.Errorf("%w: must return the entity and an optional error", ErrCreator)
	}

	switch ft.Out(0) {
	case e.typ:
	case reflect.PointerTo(e.typ):
		cr.pointer = true
	default:
		return nil, fmt.Errorf("%w: must return %s or *%s, got %s", ErrCreator, e.typ, e.typ, ft.Out(0))
	}

	cr.params = make([]CreatorParam, len(params))
	for i, p := range params {
		switch {
		case p.name != "":
			prop, ok := e.Property(p.name)
			if !ok {
				prop, ok = e.PropertyByStorageName(p.name)
			}
			if !ok {
				return nil, fmt.Errorf("%w: parameter %d binds unknown property %q", ErrCreator, i, p.name)
			}
			p.prop = prop
		case p.expr != "":
			prog, err := compileExpr(p.expr)
			if err != nil {
				return nil, err
			}
			p.prog = prog
		default:
			return nil, fmt.Errorf("%w: parameter %d is neither a property nor an expression", ErrCreator, i)
		}
		cr.params[i] = p
	}
	return cr, nil
}

// create runs the constructor and returns a pointer to the new instance
// plus the set of property names consumed by parameter bindings.
func (cr *Creator) create(src ValueSource, conv convert.Service) (reflect.Value, map[string]bool, error) {
	ft := cr.fn.Type()
	args := make([]reflect.Value, len(cr.params))
	consumed := make(map[string]bool, len(cr.params))

	var root map[string]any
	for i, p := range cr.params {
		argType := ft.In(i)
		var raw any

		switch {
		case p.prop != nil:
			v, ok := src.Lookup(p.prop.storageName)
			if !ok {
				v, ok = src.Lookup(p.prop.name)
			}
			if ok {
				raw = v
			}
			consumed[p.prop.name] = true
		default:
			if root == nil {
				r, ok := sourceRoot(src)
				if !ok {
					return reflect.Value{}, nil, fmt.Errorf("%w: expression %q needs an enumerable source", ErrCreator, p.expr)
				}
				root = r
			}
			v, err := evalExpr(p.prog, root)
			if err != nil {
				return reflect.Value{}, nil, err
			}
			raw = v
		}

		av := reflect.New(argType).Elem()
		if raw != nil {
			adapted, err := cr.entity.materialize(argType, raw, conv)
			if err != nil {
				return reflect.Value{}, nil, fmt.Errorf("%w: parameter %d: %v", ErrCreator, i, err)
			}
			if err := setValue(av, adapted, conv); err != nil {
				return reflect.Value{}, nil, fmt.Errorf("%w: parameter %d: %v", ErrCreator, i, err)
			}
		}
		args[i] = av
	}

	out := cr.fn.Call(args)
	if cr.hasErr && !out[1].IsNil() {
		return reflect.Value{}, nil, fmt.Errorf("creator for %s: %w", cr.entity.typ, out[1].Interface().(error))
	}

	var pv reflect.Value
	if cr.pointer {
		pv = out[0]
		if pv.IsNil() {
			return reflect.Value{}, nil, fmt.Errorf("%w: constructor returned nil", ErrCreator)
		}
	} else {
		pv = reflect.New(cr.entity.typ)
		pv.Elem().Set(out[0])
	}
	return pv, consumed, nil
}
