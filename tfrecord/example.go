package tfrecord

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the `tf.train.Example` protos.
const (
	exampleFeaturesField protowire.Number = 1
	featuresFeatureField protowire.Number = 1
	mapKeyField          protowire.Number = 1
	mapValueField        protowire.Number = 2
	featureBytesField    protowire.Number = 1
	featureFloatField    protowire.Number = 2
	featureInt64Field    protowire.Number = 3
	listValueField       protowire.Number = 1
)

type FeatureKind uint8

const (
	Int64Kind FeatureKind = iota
	FloatKind
	BytesKind
)

func (kind FeatureKind) String() string {
	switch kind {
	case Int64Kind:
		return "int64_list"
	case FloatKind:
		return "float_list"
	case BytesKind:
		return "bytes_list"
	}
	return fmt.Sprintf("FeatureKind(%d)", uint8(kind))
}

// Feature is one `tf.train.Feature`; only the list matching Kind is used.
type Feature struct {
	Kind  FeatureKind
	Int64 []int64
	Float []float32
	Bytes [][]byte
}

func Int64Feature(values []int64) Feature {
	return Feature{Kind: Int64Kind, Int64: values}
}

func FloatFeature(values []float32) Feature {
	return Feature{Kind: FloatKind, Float: values}
}

func BytesFeature(values [][]byte) Feature {
	return Feature{Kind: BytesKind, Bytes: values}
}

// Example is a `tf.train.Example`: named feature lists.
type Example struct {
	Features map[string]Feature
}

func NewExample() *Example {
	return &Example{Features: make(map[string]Feature, 4)}
}

func (example *Example) SetInt64s(name string, values []int64) {
	example.Features[name] = Int64Feature(values)
}

// Int64s returns the int64 list stored under name.
func (example *Example) Int64s(name string) ([]int64, error) {
	feature, ok := example.Features[name]
	if !ok {
		return nil, fmt.Errorf("example has no feature `%s`", name)
	}
	if feature.Kind != Int64Kind {
		return nil, fmt.Errorf("feature `%s` is a %s, not an int64_list",
			name, feature.Kind)
	}
	return feature.Int64, nil
}

// Names returns the feature names in sorted order.
func (example *Example) Names() []string {
	names := make([]string, 0, len(example.Features))
	for name := range example.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (feature *Feature) marshal() []byte {
	var list []byte
	var field protowire.Number
	switch feature.Kind {
	case BytesKind:
		field = featureBytesField
		for _, value := range feature.Bytes {
			list = protowire.AppendTag(list, listValueField,
				protowire.BytesType)
			list = protowire.AppendBytes(list, value)
		}
	case FloatKind:
		field = featureFloatField
		if len(feature.Float) > 0 {
			packed := make([]byte, 0, 4*len(feature.Float))
			for _, value := range feature.Float {
				packed = protowire.AppendFixed32(packed,
					math.Float32bits(value))
			}
			list = protowire.AppendTag(list, listValueField,
				protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	default:
		field = featureInt64Field
		if len(feature.Int64) > 0 {
			packed := make([]byte, 0, len(feature.Int64))
			for _, value := range feature.Int64 {
				packed = protowire.AppendVarint(packed, uint64(value))
			}
			list = protowire.AppendTag(list, listValueField,
				protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	}
	out := protowire.AppendTag(nil, field, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

// Marshal serializes the example in protobuf wire format. Features are
// written in name order so equal examples serialize to equal bytes.
func (example *Example) Marshal() []byte {
	var features []byte
	for _, name := range example.Names() {
		feature := example.Features[name]
		var entry []byte
		entry = protowire.AppendTag(entry, mapKeyField, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, mapValueField, protowire.BytesType)
		entry = protowire.AppendBytes(entry, feature.marshal())

		features = protowire.AppendTag(features, featuresFeatureField,
			protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}
	out := protowire.AppendTag(nil, exampleFeaturesField, protowire.BytesType)
	return protowire.AppendBytes(out, features)
}

// walkFields calls visit with the number, wire type and raw value of every
// field in a message. Values of BytesType still carry their length prefix.
func walkFields(data []byte,
	visit func(num protowire.Number, typ protowire.Type,
		value []byte) error) error {
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return protowire.ParseError(tagLen)
		}
		data = data[tagLen:]
		valueLen := protowire.ConsumeFieldValue(num, typ, data)
		if valueLen < 0 {
			return protowire.ParseError(valueLen)
		}
		if err := visit(num, typ, data[:valueLen]); err != nil {
			return err
		}
		data = data[valueLen:]
	}
	return nil
}

func consumeMessage(value []byte) ([]byte, error) {
	message, n := protowire.ConsumeBytes(value)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return message, nil
}

func unmarshalInt64List(data []byte) ([]int64, error) {
	values := make([]int64, 0, 64)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		if num != listValueField {
			return nil
		}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			values = append(values, int64(v))
		case protowire.BytesType:
			packed, err := consumeMessage(value)
			if err != nil {
				return err
			}
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return protowire.ParseError(n)
				}
				values = append(values, int64(v))
				packed = packed[n:]
			}
		}
		return nil
	})
	return values, err
}

func unmarshalFloatList(data []byte) ([]float32, error) {
	values := make([]float32, 0, 16)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		if num != listValueField {
			return nil
		}
		switch typ {
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			values = append(values, math.Float32frombits(v))
		case protowire.BytesType:
			packed, err := consumeMessage(value)
			if err != nil {
				return err
			}
			for len(packed) > 0 {
				v, n := protowire.ConsumeFixed32(packed)
				if n < 0 {
					return protowire.ParseError(n)
				}
				values = append(values, math.Float32frombits(v))
				packed = packed[n:]
			}
		}
		return nil
	})
	return values, err
}

func unmarshalBytesList(data []byte) ([][]byte, error) {
	values := make([][]byte, 0, 1)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		if num != listValueField || typ != protowire.BytesType {
			return nil
		}
		v, err := consumeMessage(value)
		if err != nil {
			return err
		}
		values = append(values, append([]byte{}, v...))
		return nil
	})
	return values, err
}

func unmarshalFeature(data []byte) (Feature, error) {
	var feature Feature
	err := walkFields(data, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		list, err := consumeMessage(value)
		if err != nil {
			return err
		}
		switch num {
		case featureInt64Field:
			values, listErr := unmarshalInt64List(list)
			feature = Feature{Kind: Int64Kind, Int64: values}
			return listErr
		case featureFloatField:
			values, listErr := unmarshalFloatList(list)
			feature = Feature{Kind: FloatKind, Float: values}
			return listErr
		case featureBytesField:
			values, listErr := unmarshalBytesList(list)
			feature = Feature{Kind: BytesKind, Bytes: values}
			return listErr
		}
		return nil
	})
	return feature, err
}

func unmarshalFeatureEntry(data []byte) (string, Feature, error) {
	var name string
	var feature Feature
	err := walkFields(data, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		content, err := consumeMessage(value)
		if err != nil {
			return err
		}
		switch num {
		case mapKeyField:
			name = string(content)
		case mapValueField:
			feature, err = unmarshalFeature(content)
		}
		return err
	})
	return name, feature, err
}

// UnmarshalExample parses a serialized `tf.train.Example`. Unknown fields
// are skipped.
func UnmarshalExample(data []byte) (*Example, error) {
	example := NewExample()
	err := walkFields(data, func(num protowire.Number, typ protowire.Type,
		value []byte) error {
		if num != exampleFeaturesField || typ != protowire.BytesType {
			return nil
		}
		features, err := consumeMessage(value)
		if err != nil {
			return err
		}
		return walkFields(features, func(num protowire.Number,
			typ protowire.Type, value []byte) error {
			if num != featuresFeatureField || typ != protowire.BytesType {
				return nil
			}
			entry, entryErr := consumeMessage(value)
			if entryErr != nil {
				return entryErr
			}
			name, feature, entryErr := unmarshalFeatureEntry(entry)
			if entryErr != nil {
				return entryErr
			}
			example.Features[name] = feature
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("malformed tf.train.Example: %w", err)
	}
	return example, nil
}
