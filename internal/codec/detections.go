package codec

import (
	"fmt"
	"math"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/msg"
)

// Protobuf file and message names for detection batches.
const (
	DetectionsProtoFile    = "moenet.proto"
	DetectionsProtoPackage = "moenet"
	DetectionsMessage      = DetectionsProtoPackage + ".ObjectDetections"
)

// Field numbers.
const (
	fieldBatchLabels     protowire.Number = 1
	fieldBatchDetections protowire.Number = 2

	fieldDetLabelID       protowire.Number = 1
	fieldDetConfidence    protowire.Number = 2
	fieldDetTimestamp     protowire.Number = 3
	fieldDetPositionField protowire.Number = 4
	fieldDetPositionRobot protowire.Number = 5

	fieldTsSeconds protowire.Number = 1
	fieldTsNanos   protowire.Number = 2

	fieldVecX protowire.Number = 1
	fieldVecY protowire.Number = 2
	fieldVecZ protowire.Number = 3
)

// DetectionsProto encodes object detection batches as protobuf. Labels are
// interned: each distinct label is stored once in the batch and detections
// refer to it by index.
type DetectionsProto[D clock.Domain] struct {
	Domain D
}

func (DetectionsProto[D]) TypeString() string { return "proto:" + DetectionsMessage }

func (DetectionsProto[D]) AddSchemas(r *Registry) {
	fd, err := DetectionsSchema()
	if err != nil {
		panic(err) // static descriptor
	}
	r.AddProto(DetectionsProtoFile, fd)
}

// Encode packs the batch. Labels are assigned indices in first-seen order.
func (DetectionsProto[D]) Encode(ds msg.ObjectDetections[D]) ([]byte, error) {
	var b []byte
	ids := make(map[string]uint64)
	for _, d := range ds {
		if _, ok := ids[d.Label]; !ok {
			ids[d.Label] = uint64(len(ids))
			b = protowire.AppendTag(b, fieldBatchLabels, protowire.BytesType)
			b = protowire.AppendString(b, d.Label)
		}
	}
	for _, d := range ds {
		b = protowire.AppendTag(b, fieldBatchDetections, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDetection(nil, ids[d.Label], d))
	}
	return b, nil
}

func appendDetection[D clock.Domain](b []byte, labelID uint64, d msg.ObjectDetection[D]) []byte {
	if labelID != 0 {
		b = protowire.AppendTag(b, fieldDetLabelID, protowire.VarintType)
		b = protowire.AppendVarint(b, labelID)
	}
	b = appendDouble(b, fieldDetConfidence, d.Confidence)

	var ts []byte
	if s := d.Timestamp.Seconds(); s != 0 {
		ts = protowire.AppendTag(ts, fieldTsSeconds, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(s))
	}
	if n := d.Timestamp.Nanos(); n != 0 {
		ts = protowire.AppendTag(ts, fieldTsNanos, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(int64(int32(n))))
	}
	b = protowire.AppendTag(b, fieldDetTimestamp, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)

	if d.PositionField != nil {
		b = protowire.AppendTag(b, fieldDetPositionField, protowire.BytesType)
		b = protowire.AppendBytes(b, appendVec(nil, *d.PositionField))
	}
	if d.PositionRobot != nil {
		b = protowire.AppendTag(b, fieldDetPositionRobot, protowire.BytesType)
		b = protowire.AppendBytes(b, appendVec(nil, *d.PositionRobot))
	}
	return b
}

func appendVec(b []byte, v geom.Translation3D) []byte {
	b = appendDouble(b, fieldVecX, v.X)
	b = appendDouble(b, fieldVecY, v.Y)
	return appendDouble(b, fieldVecZ, v.Z)
}

// appendDouble omits +0, as proto3 does for implicit-presence fields.
func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

type rawDetection[D clock.Domain] struct {
	labelID uint64
	det     msg.ObjectDetection[D]
}

// Decode unpacks a batch. A detection whose label index is not in the batch's
// label list fails the whole batch with ErrLabelIndexOutOfRange.
func (p DetectionsProto[D]) Decode(b []byte) (msg.ObjectDetections[D], error) {
	var labels []string
	var raw []rawDetection[D]
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldBatchLabels:
			if typ != protowire.BytesType {
				return wireTypeError("ObjectDetections.labels", typ)
			}
			labels = append(labels, string(v))
		case fieldBatchDetections:
			if typ != protowire.BytesType {
				return wireTypeError("ObjectDetections.detections", typ)
			}
			r, err := p.decodeDetection(v)
			if err != nil {
				return fmt.Errorf("detection %d: %w", len(raw), err)
			}
			raw = append(raw, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(msg.ObjectDetections[D], 0, len(raw))
	for i, r := range raw {
		if r.labelID >= uint64(len(labels)) {
			return nil, fmt.Errorf("%w: detection %d references label %d, batch has %d labels",
				ErrLabelIndexOutOfRange, i, r.labelID, len(labels))
		}
		r.det.Label = labels[r.labelID]
		out = append(out, r.det)
	}
	return out, nil
}

func (p DetectionsProto[D]) decodeDetection(b []byte) (rawDetection[D], error) {
	var r rawDetection[D]
	var seconds, nanos int64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldDetLabelID:
			if typ != protowire.VarintType {
				return wireTypeError("ObjectDetection.label_id", typ)
			}
			r.labelID = uint64(uint32(n))
		case fieldDetConfidence:
			if typ != protowire.Fixed64Type {
				return wireTypeError("ObjectDetection.confidence", typ)
			}
			r.det.Confidence = math.Float64frombits(n)
		case fieldDetTimestamp:
			if typ != protowire.BytesType {
				return wireTypeError("ObjectDetection.timestamp", typ)
			}
			return walkFields(v, func(num protowire.Number, typ protowire.Type, _ []byte, n uint64) error {
				if num != fieldTsSeconds && num != fieldTsNanos {
					return nil
				}
				if typ != protowire.VarintType {
					return wireTypeError("Timestamp", typ)
				}
				if num == fieldTsSeconds {
					seconds = int64(n)
				} else {
					nanos = int64(int32(n))
				}
				return nil
			})
		case fieldDetPositionField, fieldDetPositionRobot:
			if typ != protowire.BytesType {
				return wireTypeError("ObjectDetection.position", typ)
			}
			t, err := decodeVec(v)
			if err != nil {
				return err
			}
			if num == fieldDetPositionField {
				r.det.PositionField = &t
			} else {
				r.det.PositionRobot = &t
			}
		}
		return nil
	})
	r.det.Timestamp = clock.FromParts(p.Domain, seconds, nanos)
	return r, err
}

func decodeVec(b []byte) (geom.Translation3D, error) {
	var t geom.Translation3D
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, _ []byte, n uint64) error {
		var dst *float64
		switch num {
		case fieldVecX:
			dst = &t.X
		case fieldVecY:
			dst = &t.Y
		case fieldVecZ:
			dst = &t.Z
		default:
			return nil
		}
		if typ != protowire.Fixed64Type {
			return wireTypeError("Translation3d", typ)
		}
		*dst = math.Float64frombits(n)
		return nil
	})
	return t, err
}

// walkFields calls fn for each field in b. Length-delimited fields are passed
// in v; varint and fixed fields are passed in n. Groups and unknown fields of
// other types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(tagLen))
		}
		b = b[tagLen:]

		var (
			v []byte
			n uint64
			m int
		)
		switch typ {
		case protowire.VarintType:
			n, m = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			n, m = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var n32 uint32
			n32, m = protowire.ConsumeFixed32(b)
			n = uint64(n32)
		case protowire.BytesType:
			v, m = protowire.ConsumeBytes(b)
		default:
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]

		if typ == protowire.StartGroupType {
			continue
		}
		if err := fn(num, typ, v, n); err != nil {
			return err
		}
	}
	return nil
}

func wireTypeError(field string, typ protowire.Type) error {
	return fmt.Errorf("%w: %s has wire type %d", ErrMalformed, field, typ)
}

// DetectionsSchema returns the serialized FileDescriptorProto describing the
// detection batch messages.
func DetectionsSchema() ([]byte, error) { return detectionsSchema() }

// DetectionsDescriptor returns the validated file descriptor for the
// detection batch messages.
func DetectionsDescriptor() (protoreflect.FileDescriptor, error) { return detectionsDescriptor() }

var detectionsDescriptor = sync.OnceValues(func() (protoreflect.FileDescriptor, error) {
	fd, err := protodesc.NewFile(detectionsFileProto(), nil)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid detections descriptor: %w", err)
	}
	return fd, nil
})

var detectionsSchema = sync.OnceValues(func() ([]byte, error) {
	if _, err := detectionsDescriptor(); err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(detectionsFileProto())
})

func detectionsFileProto() *descriptorpb.FileDescriptorProto {
	scalar := func(name string, num int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(protoJSONName(name)),
			Number:   proto.Int32(num),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     typ.Enum(),
		}
	}
	message := func(name string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
		f := scalar(name, num, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
		f.TypeName = proto.String("." + DetectionsProtoPackage + "." + typeName)
		return f
	}
	repeated := func(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
		f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
		return f
	}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(DetectionsProtoFile),
		Package: proto.String(DetectionsProtoPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Timestamp"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("seconds", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64),
					scalar("nanos", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				},
			},
			{
				Name: proto.String("Translation3d"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("x", 1, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalar("y", 2, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalar("z", 3, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
				},
			},
			{
				Name: proto.String("ObjectDetection"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalar("label_id", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					scalar("confidence", 2, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					message("timestamp", 3, "Timestamp"),
					message("position_field", 4, "Translation3d"),
					message("position_robot", 5, "Translation3d"),
				},
			},
			{
				Name: proto.String("ObjectDetections"),
				Field: []*descriptorpb.FieldDescriptorProto{
					repeated(scalar("labels", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)),
					repeated(message("detections", 2, "ObjectDetection")),
				},
			},
		},
	}
}

// protoJSONName converts snake_case to lowerCamelCase the way protoc does.
func protoJSONName(name string) string {
	out := make([]byte, 0, len(name))
	upper := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}
