package dom

// Function is a JavaScript function observed in a taint trace.
type Function struct {
	Name      string        `json:"name"`
	Source    string        `json:"source,omitempty"`
	Arguments []interface{} `json:"arguments,omitempty"`
}

// Frame is a single entry of a JavaScript call trace.
type Frame struct {
	Function Function `json:"function"`
	URL      string   `json:"url,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// DataFlowSink records tainted data reaching a sensitive function or property.
type DataFlowSink struct {
	Object               string   `json:"object,omitempty"`
	Function             Function `json:"function"`
	TaintedArgumentIndex int      `json:"tainted_argument_index"`
	TaintedValue         string   `json:"tainted_value"`
	Taint                string   `json:"taint"`
	Trace                []Frame  `json:"trace"`
}

// ExecutionFlowSink records a payload that executed, with whatever data the payload reported.
type ExecutionFlowSink struct {
	Data  []interface{} `json:"data,omitempty"`
	Trace []Frame       `json:"trace"`
}

func cloneFunction(f Function) Function {
	f.Arguments = append([]interface{}(nil), f.Arguments...)
	return f
}

func cloneTrace(trace []Frame) []Frame {
	if trace == nil {
		return nil
	}
	out := make([]Frame, len(trace))
	for i, fr := range trace {
		fr.Function = cloneFunction(fr.Function)
		out[i] = fr
	}
	return out
}

// Clone returns a deep copy of the sink.
func (s DataFlowSink) Clone() DataFlowSink {
	s.Function = cloneFunction(s.Function)
	s.Trace = cloneTrace(s.Trace)
	return s
}

// Clone returns a deep copy of the sink.
func (s ExecutionFlowSink) Clone() ExecutionFlowSink {
	s.Data = append([]interface{}(nil), s.Data...)
	s.Trace = cloneTrace(s.Trace)
	return s
}
