package index

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var marshalOpts = proto.MarshalOptions{Deterministic: true}

// marshalDocument encodes a document as a protobuf Struct of string lists.
func marshalDocument(doc Document) ([]byte, error) {
	st := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(doc))}
	for field, vals := range doc {
		list := make([]*structpb.Value, len(vals))
		for i, v := range vals {
			list[i] = structpb.NewStringValue(v)
		}
		st.Fields[field] = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	return marshalOpts.Marshal(st)
}

func unmarshalDocument(data []byte) (Document, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc := make(Document, len(st.Fields))
	for field, v := range st.Fields {
		list := v.GetListValue()
		if list == nil {
			return nil, fmt.Errorf("decode document: field %s is not a list", field)
		}
		vals := make([]string, len(list.Values))
		for i, item := range list.Values {
			s, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, fmt.Errorf("decode document: field %s holds a non-string", field)
			}
			vals[i] = s.StringValue
		}
		doc[field] = vals
	}
	return doc, nil
}
