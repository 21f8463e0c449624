package checkpoints

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/RobinDong/try-multimodal/optimizer"
)

// Binary checkpoints use protobuf wire encoding. The message layout:
//
//	Checkpoint:
//	  1: repeated WeightTensor weights
//	  2: TrainingState training_state
//	  3: OptimizerState optimizer_state
//	  4: Metadata metadata
//	WeightTensor / StateTensor:
//	  1: string name
//	  2: packed int64 shape
//	  3: packed fixed32 data (float bits)
//	TrainingState:
//	  1: int64 iteration
//	  2: fixed32 learning_rate
//	  3: fixed64 eval_accuracy
//	  4: fixed64 best_accuracy
//	  5: fixed32 loss_scale
//	OptimizerState:
//	  1: string type
//	  2: repeated Param {1: string key, 2: fixed64 value}
//	  3: repeated StateTensor state_data
//	Metadata:
//	  1: string version
//	  2: string framework
//	  3: string run_id
//	  4: int64 created_at (unix seconds)
//	  5: string description

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendPackedShape(b []byte, num protowire.Number, shape []int) []byte {
	if len(shape) == 0 {
		return b
	}
	var packed []byte
	for _, d := range shape {
		packed = protowire.AppendVarint(packed, uint64(int64(d)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, data []float32) []byte {
	if len(data) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(data))
	for _, v := range data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encodeTensor(name string, shape []int, data []float32) []byte {
	var b []byte
	b = appendString(b, 1, name)
	b = appendPackedShape(b, 2, shape)
	return appendPackedFloats(b, 3, data)
}

func encodeTrainingState(ts TrainingState) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(ts.Iteration)))
	b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(ts.LearningRate))
	b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.EvalAccuracy))
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.BestAccuracy))
	b = protowire.AppendTag(b, 5, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(ts.LossScale))
	return b
}

func encodeOptimizerState(state *optimizer.State) []byte {
	var b []byte
	b = appendString(b, 1, state.Type)
	for key, value := range state.Parameters {
		var param []byte
		param = appendString(param, 1, key)
		param = protowire.AppendTag(param, 2, protowire.Fixed64Type)
		param = protowire.AppendFixed64(param, math.Float64bits(value))
		b = appendMessage(b, 2, param)
	}
	for _, st := range state.StateData {
		b = appendMessage(b, 3, encodeTensor(st.Name, st.Shape, st.Data))
	}
	return b
}

func encodeMetadata(md CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, md.Version)
	b = appendString(b, 2, md.Framework)
	b = appendString(b, 3, md.RunID)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(md.CreatedAt.Unix()))
	return appendString(b, 5, md.Description)
}

func marshalBinary(checkpoint *Checkpoint) ([]byte, error) {
	if checkpoint == nil {
		return nil, fmt.Errorf("nil checkpoint")
	}
	var b []byte
	for _, w := range checkpoint.Weights {
		b = appendMessage(b, 1, encodeTensor(w.Name, w.Shape, w.Data))
	}
	b = appendMessage(b, 2, encodeTrainingState(checkpoint.TrainingState))
	if checkpoint.OptimizerState != nil {
		b = appendMessage(b, 3, encodeOptimizerState(checkpoint.OptimizerState))
	}
	b = appendMessage(b, 4, encodeMetadata(checkpoint.Metadata))
	return b, nil
}

// fieldScanner walks the fields of one wire-encoded message.
type fieldScanner struct {
	data []byte
}

// next returns the next field, or ok=false at end of message.
func (s *fieldScanner) next() (num protowire.Number, typ protowire.Type, value []byte, ok bool, err error) {
	if len(s.data) == 0 {
		return 0, 0, nil, false, nil
	}
	num, typ, n := protowire.ConsumeTag(s.data)
	if n < 0 {
		return 0, 0, nil, false, protowire.ParseError(n)
	}
	s.data = s.data[n:]

	switch typ {
	case protowire.VarintType:
		_, n = protowire.ConsumeVarint(s.data)
	case protowire.Fixed32Type:
		_, n = protowire.ConsumeFixed32(s.data)
	case protowire.Fixed64Type:
		_, n = protowire.ConsumeFixed64(s.data)
	case protowire.BytesType:
		value, n = protowire.ConsumeBytes(s.data)
	default:
		return 0, 0, nil, false, fmt.Errorf("unsupported wire type %d", typ)
	}
	if n < 0 {
		return 0, 0, nil, false, protowire.ParseError(n)
	}
	if typ != protowire.BytesType {
		value = s.data[:n]
	}
	s.data = s.data[n:]
	return num, typ, value, true, nil
}

func decodeVarint(value []byte) (int64, error) {
	v, n := protowire.ConsumeVarint(value)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return int64(v), nil
}

func decodeFloat32(value []byte) (float32, error) {
	v, n := protowire.ConsumeFixed32(value)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float32frombits(v), nil
}

func decodeFloat64(value []byte) (float64, error) {
	v, n := protowire.ConsumeFixed64(value)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), nil
}

func decodeTensor(data []byte) (name string, shape []int, values []float32, err error) {
	s := fieldScanner{data: data}
	for {
		num, _, value, ok, err := s.next()
		if err != nil {
			return "", nil, nil, err
		}
		if !ok {
			return name, shape, values, nil
		}
		switch num {
		case 1:
			name = string(value)
		case 2:
			for len(value) > 0 {
				d, n := protowire.ConsumeVarint(value)
				if n < 0 {
					return "", nil, nil, protowire.ParseError(n)
				}
				shape = append(shape, int(int64(d)))
				value = value[n:]
			}
		case 3:
			if len(value)%4 != 0 {
				return "", nil, nil, fmt.Errorf("tensor data length %d not a multiple of 4", len(value))
			}
			values = make([]float32, 0, len(value)/4)
			for len(value) > 0 {
				bits, n := protowire.ConsumeFixed32(value)
				if n < 0 {
					return "", nil, nil, protowire.ParseError(n)
				}
				values = append(values, math.Float32frombits(bits))
				value = value[n:]
			}
		}
	}
}

func decodeTrainingState(data []byte) (TrainingState, error) {
	var ts TrainingState
	s := fieldScanner{data: data}
	for {
		num, _, value, ok, err := s.next()
		if err != nil {
			return ts, err
		}
		if !ok {
			return ts, nil
		}
		switch num {
		case 1:
			v, err := decodeVarint(value)
			if err != nil {
				return ts, err
			}
			ts.Iteration = int(v)
		case 2:
			if ts.LearningRate, err = decodeFloat32(value); err != nil {
				return ts, err
			}
		case 3:
			if ts.EvalAccuracy, err = decodeFloat64(value); err != nil {
				return ts, err
			}
		case 4:
			if ts.BestAccuracy, err = decodeFloat64(value); err != nil {
				return ts, err
			}
		case 5:
			if ts.LossScale, err = decodeFloat32(value); err != nil {
				return ts, err
			}
		}
	}
}

func decodeOptimizerState(data []byte) (*optimizer.State, error) {
	state := &optimizer.State{Parameters: map[string]float64{}}
	s := fieldScanner{data: data}
	for {
		num, _, value, ok, err := s.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return state, nil
		}
		switch num {
		case 1:
			state.Type = string(value)
		case 2:
			inner := fieldScanner{data: value}
			var key string
			var val float64
			for {
				pnum, _, pvalue, pok, err := inner.next()
				if err != nil {
					return nil, err
				}
				if !pok {
					break
				}
				switch pnum {
				case 1:
					key = string(pvalue)
				case 2:
					if val, err = decodeFloat64(pvalue); err != nil {
						return nil, err
					}
				}
			}
			state.Parameters[key] = val
		case 3:
			name, shape, values, err := decodeTensor(value)
			if err != nil {
				return nil, err
			}
			state.StateData = append(state.StateData, optimizer.StateTensor{
				Name:  name,
				Shape: shape,
				Data:  values,
			})
		}
	}
}

func decodeMetadata(data []byte) (CheckpointMetadata, error) {
	var md CheckpointMetadata
	s := fieldScanner{data: data}
	for {
		num, _, value, ok, err := s.next()
		if err != nil {
			return md, err
		}
		if !ok {
			return md, nil
		}
		switch num {
		case 1:
			md.Version = string(value)
		case 2:
			md.Framework = string(value)
		case 3:
			md.RunID = string(value)
		case 4:
			v, err := decodeVarint(value)
			if err != nil {
				return md, err
			}
			md.CreatedAt = time.Unix(v, 0).UTC()
		case 5:
			md.Description = string(value)
		}
	}
}

func unmarshalBinary(data []byte) (*Checkpoint, error) {
	checkpoint := &Checkpoint{}
	s := fieldScanner{data: data}
	for {
		num, _, value, ok, err := s.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return checkpoint, nil
		}
		switch num {
		case 1:
			name, shape, values, err := decodeTensor(value)
			if err != nil {
				return nil, err
			}
			checkpoint.Weights = append(checkpoint.Weights, WeightTensor{
				Name:  name,
				Shape: shape,
				Data:  values,
			})
		case 2:
			if checkpoint.TrainingState, err = decodeTrainingState(value); err != nil {
				return nil, err
			}
		case 3:
			if checkpoint.OptimizerState, err = decodeOptimizerState(value); err != nil {
				return nil, err
			}
		case 4:
			if checkpoint.Metadata, err = decodeMetadata(value); err != nil {
				return nil, err
			}
		}
	}
}
