package tensor

import (
	"fmt"
	"math"
)

func checkSameShape(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("tensor shapes must match: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

// Add computes the element-wise sum of two Float32 tensors of equal shape.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 {
		return nil, fmt.Errorf("Add requires Float32 tensors, got %s", t1.DType)
	}
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}

	out, err := Zeros(t1.Shape, Float32)
	if err != nil {
		return nil, err
	}
	d1 := t1.Float32Data()
	d2 := t2.Float32Data()
	dst := out.Float32Data()
	for i := range dst {
		dst[i] = d1[i] + d2[i]
	}

	if tracked(t1, t2) {
		out.record(func(gradOut []float32) {
			if t1.requiresGrad {
				t1.accumulateGrad(gradOut)
			}
			if t2.requiresGrad {
				t2.accumulateGrad(gradOut)
			}
		}, t1, t2)
	}
	return out, nil
}

// Mul computes the element-wise product of two Float32 tensors of equal shape.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 {
		return nil, fmt.Errorf("Mul requires Float32 tensors, got %s", t1.DType)
	}
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}

	out, err := Zeros(t1.Shape, Float32)
	if err != nil {
		return nil, err
	}
	d1 := t1.Float32Data()
	d2 := t2.Float32Data()
	dst := out.Float32Data()
	for i := range dst {
		dst[i] = d1[i] * d2[i]
	}

	if tracked(t1, t2) {
		out.record(func(gradOut []float32) {
			if t1.requiresGrad {
				g := make([]float32, len(gradOut))
				for i := range g {
					g[i] = gradOut[i] * d2[i]
				}
				t1.accumulateGrad(g)
			}
			if t2.requiresGrad {
				g := make([]float32, len(gradOut))
				for i := range g {
					g[i] = gradOut[i] * d1[i]
				}
				t2.accumulateGrad(g)
			}
		}, t1, t2)
	}
	return out, nil
}

// Scale multiplies a Float32 tensor by a constant.
func Scale(t *Tensor, factor float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Scale requires a Float32 tensor, got %s", t.DType)
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	for i := range dst {
		dst[i] = src[i] * factor
	}

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, len(gradOut))
			for i := range g {
				g[i] = gradOut[i] * factor
			}
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}

// MulScalar multiplies every element of t by the learned scalar s (shape [1]).
// Gradients flow into both operands, which is what a learned temperature
// requires.
func MulScalar(t, s *Tensor) (*Tensor, error) {
	if t.DType != Float32 || s.DType != Float32 {
		return nil, fmt.Errorf("MulScalar requires Float32 tensors")
	}
	if s.NumElems != 1 {
		return nil, fmt.Errorf("MulScalar scale must be a scalar, got shape %v", s.Shape)
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	sv := s.Float32Data()[0]
	for i := range dst {
		dst[i] = src[i] * sv
	}

	if tracked(t, s) {
		out.record(func(gradOut []float32) {
			if t.requiresGrad {
				g := make([]float32, len(gradOut))
				for i := range g {
					g[i] = gradOut[i] * sv
				}
				t.accumulateGrad(g)
			}
			if s.requiresGrad {
				var sum float32
				for i := range gradOut {
					sum += gradOut[i] * src[i]
				}
				s.accumulateGrad([]float32{sum})
			}
		}, t, s)
	}
	return out, nil
}

// Exp computes the element-wise exponential.
func Exp(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Exp requires a Float32 tensor, got %s", t.DType)
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	for i := range dst {
		dst[i] = float32(math.Exp(float64(src[i])))
	}

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, len(gradOut))
			for i := range g {
				g[i] = gradOut[i] * dst[i]
			}
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}

// AddBias adds a bias row vector (shape [C]) to every row of a 2D tensor.
func AddBias(t, bias *Tensor) (*Tensor, error) {
	rows, cols, err := dims2(t)
	if err != nil {
		return nil, err
	}
	if len(bias.Shape) != 1 || bias.Shape[0] != cols {
		return nil, fmt.Errorf("bias shape %v does not match %d columns", bias.Shape, cols)
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	bv := bias.Float32Data()
	dst := out.Float32Data()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[i*cols+j] = src[i*cols+j] + bv[j]
		}
	}

	if tracked(t, bias) {
		out.record(func(gradOut []float32) {
			if t.requiresGrad {
				t.accumulateGrad(gradOut)
			}
			if bias.requiresGrad {
				g := make([]float32, cols)
				for i := 0; i < rows; i++ {
					for j := 0; j < cols; j++ {
						g[j] += gradOut[i*cols+j]
					}
				}
				bias.accumulateGrad(g)
			}
		}, t, bias)
	}
	return out, nil
}

// ConcatRows concatenates 2D tensors with equal column counts along the row
// (sequence) axis.
func ConcatRows(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("ConcatRows requires at least one tensor")
	}
	totalRows := 0
	cols := -1
	for _, t := range ts {
		r, c, err := dims2(t)
		if err != nil {
			return nil, err
		}
		if cols == -1 {
			cols = c
		} else if c != cols {
			return nil, fmt.Errorf("ConcatRows column mismatch: %d vs %d", cols, c)
		}
		totalRows += r
	}

	out, err := Zeros([]int{totalRows, cols}, Float32)
	if err != nil {
		return nil, err
	}
	dst := out.Float32Data()
	offset := 0
	for _, t := range ts {
		copy(dst[offset:], t.Float32Data())
		offset += t.NumElems
	}

	if tracked(ts...) {
		inputs := append([]*Tensor(nil), ts...)
		out.record(func(gradOut []float32) {
			offset := 0
			for _, in := range inputs {
				if in.requiresGrad {
					in.accumulateGrad(gradOut[offset : offset+in.NumElems])
				}
				offset += in.NumElems
			}
		}, inputs...)
	}
	return out, nil
}

// SliceRows returns rows [from, to) of a 2D tensor.
func SliceRows(t *Tensor, from, to int) (*Tensor, error) {
	rows, cols, err := dims2(t)
	if err != nil {
		return nil, err
	}
	if from < 0 || to > rows || from >= to {
		return nil, fmt.Errorf("invalid row slice [%d, %d) for %d rows", from, to, rows)
	}

	out, err := Zeros([]int{to - from, cols}, Float32)
	if err != nil {
		return nil, err
	}
	copy(out.Float32Data(), t.Float32Data()[from*cols:to*cols])

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, t.NumElems)
			copy(g[from*cols:], gradOut)
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}

// SliceCols returns columns [from, to) of a 2D tensor, the per-head view of
// attention projections.
func SliceCols(t *Tensor, from, to int) (*Tensor, error) {
	rows, cols, err := dims2(t)
	if err != nil {
		return nil, err
	}
	if from < 0 || to > cols || from >= to {
		return nil, fmt.Errorf("invalid column slice [%d, %d) for %d columns", from, to, cols)
	}

	width := to - from
	out, err := Zeros([]int{rows, width}, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	for i := 0; i < rows; i++ {
		copy(dst[i*width:(i+1)*width], src[i*cols+from:i*cols+to])
	}

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, t.NumElems)
			for i := 0; i < rows; i++ {
				copy(g[i*cols+from:i*cols+to], gradOut[i*width:(i+1)*width])
			}
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}

// ConcatCols concatenates 2D tensors with equal row counts along the feature
// axis, merging attention heads back together.
func ConcatCols(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("ConcatCols requires at least one tensor")
	}
	rows := -1
	totalCols := 0
	for _, t := range ts {
		r, c, err := dims2(t)
		if err != nil {
			return nil, err
		}
		if rows == -1 {
			rows = r
		} else if r != rows {
			return nil, fmt.Errorf("ConcatCols row mismatch: %d vs %d", rows, r)
		}
		totalCols += c
	}

	out, err := Zeros([]int{rows, totalCols}, Float32)
	if err != nil {
		return nil, err
	}
	dst := out.Float32Data()
	colOffset := 0
	for _, t := range ts {
		c := t.Shape[1]
		src := t.Float32Data()
		for i := 0; i < rows; i++ {
			copy(dst[i*totalCols+colOffset:i*totalCols+colOffset+c], src[i*c:(i+1)*c])
		}
		colOffset += c
	}

	if tracked(ts...) {
		inputs := append([]*Tensor(nil), ts...)
		out.record(func(gradOut []float32) {
			colOffset := 0
			for _, in := range inputs {
				c := in.Shape[1]
				if in.requiresGrad {
					g := make([]float32, in.NumElems)
					for i := 0; i < rows; i++ {
						copy(g[i*c:(i+1)*c], gradOut[i*totalCols+colOffset:i*totalCols+colOffset+c])
					}
					in.accumulateGrad(g)
				}
				colOffset += c
			}
		}, inputs...)
	}
	return out, nil
}

// Softmax applies a row-wise softmax to a 2D tensor.
func Softmax(t *Tensor) (*Tensor, error) {
	rows, cols, err := dims2(t)
	if err != nil {
		return nil, err
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	for i := 0; i < rows; i++ {
		offset := i * cols
		maxVal := src[offset]
		for j := 1; j < cols; j++ {
			if src[offset+j] > maxVal {
				maxVal = src[offset+j]
			}
		}
		var sum float32
		for j := 0; j < cols; j++ {
			e := float32(math.Exp(float64(src[offset+j] - maxVal)))
			dst[offset+j] = e
			sum += e
		}
		for j := 0; j < cols; j++ {
			dst[offset+j] /= sum
		}
	}

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, len(gradOut))
			for i := 0; i < rows; i++ {
				offset := i * cols
				var dot float32
				for j := 0; j < cols; j++ {
					dot += gradOut[offset+j] * dst[offset+j]
				}
				for j := 0; j < cols; j++ {
					g[offset+j] = dst[offset+j] * (gradOut[offset+j] - dot)
				}
			}
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}

const geluCoeff = 0.7978845608028654 // sqrt(2/pi)

// GELU applies the tanh-approximated Gaussian error linear unit.
func GELU(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("GELU requires a Float32 tensor, got %s", t.DType)
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	for i := range dst {
		x := float64(src[i])
		inner := geluCoeff * (x + 0.044715*x*x*x)
		dst[i] = float32(0.5 * x * (1 + math.Tanh(inner)))
	}

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, len(gradOut))
			for i := range g {
				x := float64(src[i])
				inner := geluCoeff * (x + 0.044715*x*x*x)
				th := math.Tanh(inner)
				deriv := 0.5*(1+th) + 0.5*x*(1-th*th)*geluCoeff*(1+3*0.044715*x*x)
				g[i] = gradOut[i] * float32(deriv)
			}
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}

// NormalizeRows scales every row of a 2D tensor to unit L2 norm.
func NormalizeRows(t *Tensor) (*Tensor, error) {
	rows, cols, err := dims2(t)
	if err != nil {
		return nil, err
	}

	out, err := Zeros(t.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	norms := make([]float32, rows)
	for i := 0; i < rows; i++ {
		offset := i * cols
		var sq float64
		for j := 0; j < cols; j++ {
			sq += float64(src[offset+j]) * float64(src[offset+j])
		}
		norm := float32(math.Sqrt(sq)) + 1e-12
		norms[i] = norm
		for j := 0; j < cols; j++ {
			dst[offset+j] = src[offset+j] / norm
		}
	}

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, len(gradOut))
			for i := 0; i < rows; i++ {
				offset := i * cols
				var dot float32
				for j := 0; j < cols; j++ {
					dot += gradOut[offset+j] * dst[offset+j]
				}
				for j := 0; j < cols; j++ {
					g[offset+j] = (gradOut[offset+j] - dot*dst[offset+j]) / norms[i]
				}
			}
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}

// Embedding gathers rows of a [vocab, dim] table for the given token ids,
// producing a [len(ids), dim] tensor. Negative ids map to zero rows so
// sentinel-padded positions stay inert.
func Embedding(table *Tensor, ids []int32) (*Tensor, error) {
	vocab, dim, err := dims2(table)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("Embedding requires at least one id")
	}

	out, err := Zeros([]int{len(ids), dim}, Float32)
	if err != nil {
		return nil, err
	}
	src := table.Float32Data()
	dst := out.Float32Data()
	for i, id := range ids {
		if id < 0 {
			continue
		}
		if int(id) >= vocab {
			return nil, fmt.Errorf("token id %d out of range [0, %d)", id, vocab)
		}
		copy(dst[i*dim:(i+1)*dim], src[int(id)*dim:(int(id)+1)*dim])
	}

	if tracked(table) {
		idsCopy := append([]int32(nil), ids...)
		out.record(func(gradOut []float32) {
			g := make([]float32, table.NumElems)
			for i, id := range idsCopy {
				if id < 0 {
					continue
				}
				row := int(id) * dim
				for j := 0; j < dim; j++ {
					g[row+j] += gradOut[i*dim+j]
				}
			}
			table.accumulateGrad(g)
		}, table)
	}
	return out, nil
}

// Stack stacks K tensors of shape [1, D] into a [K, D] tensor, the batched
// embedding matrix the contrastive loss consumes.
func Stack(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("Stack requires at least one tensor")
	}
	for _, t := range ts {
		r, _, err := dims2(t)
		if err != nil {
			return nil, err
		}
		if r != 1 {
			return nil, fmt.Errorf("Stack expects [1, D] tensors, got shape %v", t.Shape)
		}
	}
	return ConcatRows(ts...)
}

// SumAll reduces a Float32 tensor to a scalar by summation.
func SumAll(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("SumAll requires a Float32 tensor, got %s", t.DType)
	}

	src := t.Float32Data()
	var sum float32
	for _, v := range src {
		sum += v
	}
	out := FromScalar(sum)

	if tracked(t) {
		out.record(func(gradOut []float32) {
			g := make([]float32, t.NumElems)
			for i := range g {
				g[i] = gradOut[0]
			}
			t.accumulateGrad(g)
		}, t)
	}
	return out, nil
}
