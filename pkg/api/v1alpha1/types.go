package v1alpha1

// CalculateRequest asks the server to compute OutputTensors from Tensors.
type CalculateRequest struct {
	// Engine names the tensor engine to evaluate with; empty selects the
	// server default.
	Engine        string    `json:"engine,omitempty"`
	Tensors       []*Tensor `json:"tensors,omitempty"`
	OutputTensors []int32   `json:"outputTensors,omitempty"`
}

type CalculateResponse struct {
	Results []*Tensor `json:"results,omitempty"`
}

// Tensor is one value in a request. Exactly one of InlineData, Blob, Feature
// and Computation is set.
type Tensor struct {
	Id          int32        `json:"id"`
	InlineData  *InlineData  `json:"inlineData,omitempty"`
	Blob        *BlobRef     `json:"blob,omitempty"`
	Feature     *FeatureRef  `json:"feature,omitempty"`
	Computation *Computation `json:"computation,omitempty"`
}

// InlineData is a tensor spec: a type such as "tensor(x{},y[2])" and its
// cells. Labels of indexed dimensions are decimal strings.
type InlineData struct {
	Type  string `json:"type"`
	Cells []Cell `json:"cells,omitempty"`
}

type Cell struct {
	Address map[string]string `json:"address,omitempty"`
	Value   float64           `json:"value"`
}

// BlobRef references an encoded tensor in the tensor store.
type BlobRef struct {
	Hash string `json:"hash"`
}

// FeatureRef references a stored feature value.
type FeatureRef struct {
	Entity string `json:"entity"`
	Name   string `json:"name"`
}

// Computation evaluates Expression with Params[i] bound to tensor Inputs[i].
type Computation struct {
	Expression string   `json:"expression"`
	Params     []string `json:"params,omitempty"`
	Inputs     []int32  `json:"inputs,omitempty"`
}

func (x *CalculateRequest) GetEngine() string {
	if x == nil {
		return ""
	}
	return x.Engine
}

func (x *CalculateRequest) GetTensors() []*Tensor {
	if x == nil {
		return nil
	}
	return x.Tensors
}

func (x *CalculateRequest) GetOutputTensors() []int32 {
	if x == nil {
		return nil
	}
	return x.OutputTensors
}

func (x *CalculateResponse) GetResults() []*Tensor {
	if x == nil {
		return nil
	}
	return x.Results
}

func (x *Tensor) GetId() int32 {
	if x == nil {
		return 0
	}
	return x.Id
}

func (x *Tensor) GetInlineData() *InlineData {
	if x == nil {
		return nil
	}
	return x.InlineData
}

func (x *Tensor) GetBlob() *BlobRef {
	if x == nil {
		return nil
	}
	return x.Blob
}

func (x *Tensor) GetFeature() *FeatureRef {
	if x == nil {
		return nil
	}
	return x.Feature
}

func (x *Tensor) GetComputation() *Computation {
	if x == nil {
		return nil
	}
	return x.Computation
}

func (x *Computation) GetExpression() string {
	if x == nil {
		return ""
	}
	return x.Expression
}

func (x *Computation) GetParams() []string {
	if x == nil {
		return nil
	}
	return x.Params
}

func (x *Computation) GetInputs() []int32 {
	if x == nil {
		return nil
	}
	return x.Inputs
}
