package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/codec"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/schema"
)

// invoker calls table operations with arguments written as text and keeps
// every result so later arguments can refer to it as $1, $2, ...
type invoker struct {
	table   *dispatch.Table
	results []any
}

type callResult struct {
	Value  any
	Status dispatch.Status
	Ref    int
}

func (r callResult) String() string {
	switch r.Status {
	case dispatch.StatusOK:
		if r.Value == nil {
			return fmt.Sprintf("$%d = ok", r.Ref)
		}
		return fmt.Sprintf("$%d = %s", r.Ref, render(r.Value))
	case dispatch.StatusError:
		return "error: " + render(r.Value)
	}
	return "unexpected: " + render(r.Value)
}

func render(v any) string {
	switch x := v.(type) {
	case handle.Handle:
		return fmt.Sprintf("handle(%d)", uint64(x))
	case codec.Variant:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func newInvoker(t *dispatch.Table) *invoker {
	return &invoker{table: t}
}

// params lists the textual inputs an operation takes: the receiver first,
// then its arguments.
func params(d *dispatch.Descriptor) []schema.Field {
	var out []schema.Field
	if d.HasReceiver() {
		out = append(out, schema.Field{Name: "self", Type: schema.ObjectRef(d.Receiver)})
	}
	return append(out, d.Args...)
}

// Call encodes raw as the operation's inputs, calls it and decodes the
// outcome. Only StatusOK results are recorded as $N.
func (iv *invoker) Call(ctx context.Context, name string, raw []string) (callResult, error) {
	d, ok := iv.table.Descriptor(name)
	if !ok {
		return callResult{}, fmt.Errorf("unknown operation %q", name)
	}
	ps := params(d)
	if len(raw) != len(ps) {
		return callResult{}, fmt.Errorf("%s takes %d input(s), got %d", name, len(ps), len(raw))
	}

	w := buffer.NewWriter()
	for i, p := range ps {
		if err := iv.lowerInput(w, p, raw[i]); err != nil {
			w.Discard()
			return callResult{}, fmt.Errorf("%s: %w", p.Name, err)
		}
	}

	out, status, err := iv.table.Call(ctx, name, w.Finish())
	if status == dispatch.StatusInternal {
		return callResult{}, err
	}
	defer func() {
		if out.Live() {
			_ = out.Free()
		}
	}()

	res := callResult{Status: status}
	switch status {
	case dispatch.StatusOK:
		res.Value, err = iv.liftReturn(d, out)
		if err != nil {
			return callResult{}, err
		}
		iv.results = append(iv.results, res.Value)
		res.Ref = len(iv.results)
	case dispatch.StatusError:
		p, err := iv.table.Compiler().CompileError(d.Error)
		if err != nil {
			return callResult{}, err
		}
		r, err := out.Reader()
		if err != nil {
			return callResult{}, err
		}
		if res.Value, err = p.Lift(r); err != nil {
			return callResult{}, err
		}
	default:
		if res.Value, err = iv.table.Compiler().Lift(schema.String, out); err != nil {
			return callResult{}, err
		}
	}
	return res, nil
}

func (iv *invoker) lowerInput(w *buffer.Writer, p schema.Field, text string) error {
	v, err := iv.parse(text)
	if err != nil {
		return err
	}
	switch p.Type.Kind {
	case schema.KindObject:
		h, err := toHandle(v)
		if err != nil {
			return err
		}
		w.WriteU64(h)
		return nil
	case schema.KindCallback:
		return fmt.Errorf("%s arguments need a foreign host", p.Type.Name)
	}
	plan, err := iv.table.Compiler().Compile(p.Type)
	if err != nil {
		return err
	}
	return plan.Lower(w, v)
}

// parse reads one input: $N for an earlier result, a JSON value, or else
// the bare text as a string.
func (iv *invoker) parse(text string) (any, error) {
	text = strings.TrimSpace(text)
	if ref, ok := strings.CutPrefix(text, "$"); ok {
		n, err := strconv.Atoi(ref)
		if err != nil || n < 1 || n > len(iv.results) {
			return nil, fmt.Errorf("no result %s", text)
		}
		return iv.results[n-1], nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return text, nil
	}
	return v, nil
}

func toHandle(v any) (uint64, error) {
	switch x := v.(type) {
	case handle.Handle:
		return uint64(x), nil
	case json.Number:
		return strconv.ParseUint(x.String(), 10, 64)
	}
	return 0, fmt.Errorf("expected a handle, got %s", render(v))
}

func (iv *invoker) liftReturn(d *dispatch.Descriptor, out *buffer.Buffer) (any, error) {
	switch {
	case d.Return == nil:
		return nil, nil
	case d.Return.Kind == schema.KindObject:
		r, err := out.Reader()
		if err != nil {
			return nil, err
		}
		h, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		return handle.Handle(h), nil
	}
	return iv.table.Compiler().Lift(d.Return, out)
}
