package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// gradEnabled is the package-wide autograd switch. Forward-only passes
// (evaluation) disable it so no tape is recorded.
var gradEnabled = true

// SetGradEnabled toggles tape recording and returns the previous value so
// callers can restore it with defer.
func SetGradEnabled(enabled bool) bool {
	prev := gradEnabled
	gradEnabled = enabled
	return prev
}

// GradEnabled reports whether operations currently record the backward tape.
func GradEnabled() bool {
	return gradEnabled
}

// Tensor is a dense CPU tensor. Float32 tensors participate in autograd when
// requiresGrad is set; Int32 tensors carry token ids and never require grad.
type Tensor struct {
	Shape    []int
	DType    DType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         []float32
	// backwardFn propagates gradOut into the gradients of inputs.
	backwardFn func(gradOut []float32)
	inputs     []*Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as a trainable leaf. Only Float32 tensors
// can require gradients.
func (t *Tensor) SetRequiresGrad(requires bool) error {
	if requires && t.DType != Float32 {
		return fmt.Errorf("only Float32 tensors can require grad, got %s", t.DType)
	}
	t.requiresGrad = requires
	return nil
}

// Grad returns the accumulated gradient slice, or nil if none has been
// computed. The slice aliases internal state; callers must not resize it.
func (t *Tensor) Grad() []float32 {
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	if t.grad != nil {
		for i := range t.grad {
			t.grad[i] = 0
		}
	}
}

// Float32Data returns the underlying float32 storage.
func (t *Tensor) Float32Data() []float32 {
	data, _ := t.Data.([]float32)
	return data
}

// Int32Data returns the underlying int32 storage.
func (t *Tensor) Int32Data() []int32 {
	data, _ := t.Data.([]int32)
	return data
}

// Item returns the single element of a scalar tensor.
func (t *Tensor) Item() (float32, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("Item requires a Float32 tensor, got %s", t.DType)
	}
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a scalar tensor, got shape %v", t.Shape)
	}
	return t.Data.([]float32)[0], nil
}

// accumulateGrad adds g into the tensor's gradient, allocating on first use.
func (t *Tensor) accumulateGrad(g []float32) {
	if t.grad == nil {
		t.grad = make([]float32, t.NumElems)
	}
	for i, v := range g {
		t.grad[i] += v
	}
}

// tracked reports whether the result of an op over the given inputs should
// record a backward function.
func tracked(inputs ...*Tensor) bool {
	if !gradEnabled {
		return false
	}
	for _, in := range inputs {
		if in != nil && in.requiresGrad {
			return true
		}
	}
	return false
}

// record attaches tape bookkeeping to an op result.
func (t *Tensor) record(backwardFn func(gradOut []float32), inputs ...*Tensor) {
	t.requiresGrad = true
	t.backwardFn = backwardFn
	t.inputs = inputs
}

// Backward runs reverse-mode differentiation from t, which must be a scalar.
// Gradients accumulate into every reachable tensor with requiresGrad set.
func (t *Tensor) Backward() error {
	if t.DType != Float32 {
		return fmt.Errorf("Backward requires a Float32 tensor, got %s", t.DType)
	}
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a scalar loss, got shape %v", t.Shape)
	}

	// Topological order over the tape, leaves first.
	visited := make(map[*Tensor]bool)
	order := make([]*Tensor, 0, 64)
	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if node == nil || visited[node] {
			return
		}
		visited[node] = true
		for _, in := range node.inputs {
			visit(in)
		}
		order = append(order, node)
	}
	visit(t)

	t.accumulateGrad([]float32{1})

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.backwardFn != nil && node.grad != nil {
			node.backwardFn(node.grad)
		}
	}
	return nil
}

// Detach returns a view of the tensor's data outside the tape.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dims2 returns the rows and columns of a 2D tensor.
func dims2(t *Tensor) (int, int, error) {
	if len(t.Shape) != 2 {
		return 0, 0, fmt.Errorf("expected 2D tensor, got shape %v", t.Shape)
	}
	return t.Shape[0], t.Shape[1], nil
}
