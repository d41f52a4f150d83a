package codec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/msg"
)

func sampleDetections(d wireTime) msg.ObjectDetections[wireTime] {
	return msg.ObjectDetections[wireTime]{
		{Label: "note", Confidence: 0.9, Timestamp: clock.FromParts(d, 10, 500), PositionField: &geom.Translation3D{X: 1, Y: 2, Z: 0}},
		{Label: "robot", Confidence: 0.4, Timestamp: clock.FromParts(d, 10, 600), PositionRobot: &geom.Translation3D{X: -1}},
		{Label: "note", Confidence: 0, Timestamp: clock.FromParts(d, 11, 0)},
		{Label: "cone", Confidence: 1, Timestamp: clock.FromParts(d, -3, 999_999_999),
			PositionField: &geom.Translation3D{}, PositionRobot: &geom.Translation3D{Z: 4}},
	}
}

var detectionCmp = cmp.Comparer(func(a, b clock.Timestamp[wireTime]) bool { return a.Equal(b) })

func TestDetections_RoundTrip(t *testing.T) {
	d := newWireTime()
	p := DetectionsProto[wireTime]{Domain: d}
	want := sampleDetections(d)

	b, err := p.Encode(want)
	require.NoError(t, err)
	got, err := p.Decode(b)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, detectionCmp); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDetections_InternsLabels(t *testing.T) {
	d := newWireTime()
	b, err := DetectionsProto[wireTime]{Domain: d}.Encode(sampleDetections(d))
	require.NoError(t, err)

	var labels []string
	require.NoError(t, walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		if num == fieldBatchLabels {
			labels = append(labels, string(v))
		}
		return nil
	}))
	assert.Equal(t, []string{"note", "robot", "cone"}, labels)
}

func TestDetections_Empty(t *testing.T) {
	p := DetectionsProto[wireTime]{Domain: newWireTime()}
	b, err := p.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, b)

	got, err := p.Decode(b)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetections_LabelIndexOutOfRange(t *testing.T) {
	var det []byte
	det = protowire.AppendTag(det, fieldDetLabelID, protowire.VarintType)
	det = protowire.AppendVarint(det, 3)

	var b []byte
	b = protowire.AppendTag(b, fieldBatchLabels, protowire.BytesType)
	b = protowire.AppendString(b, "note")
	b = protowire.AppendTag(b, fieldBatchDetections, protowire.BytesType)
	b = protowire.AppendBytes(b, nil) // valid: label 0
	b = protowire.AppendTag(b, fieldBatchDetections, protowire.BytesType)
	b = protowire.AppendBytes(b, det)

	got, err := DetectionsProto[wireTime]{Domain: newWireTime()}.Decode(b)
	assert.ErrorIs(t, err, ErrLabelIndexOutOfRange)
	assert.Nil(t, got, "a bad index fails the whole batch")
}

func TestDetections_Malformed(t *testing.T) {
	p := DetectionsProto[wireTime]{Domain: newWireTime()}

	_, err := p.Decode([]byte{0x0a, 0x05, 'a'}) // truncated string
	assert.ErrorIs(t, err, ErrMalformed)

	var b []byte
	b = protowire.AppendTag(b, fieldBatchLabels, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	_, err = p.Decode(b)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDetections_SkipsUnknownFields(t *testing.T) {
	d := newWireTime()
	p := DetectionsProto[wireTime]{Domain: d}
	b, err := p.Encode(sampleDetections(d)[:1])
	require.NoError(t, err)

	b = protowire.AppendTag(b, 99, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)
	got, err := p.Decode(b)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func detectionsMessage(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()
	fd, err := DetectionsDescriptor()
	require.NoError(t, err)
	md := fd.Messages().ByName("ObjectDetections")
	require.NotNil(t, md)
	assert.Equal(t, protoreflect.FullName(DetectionsMessage), md.FullName())
	return md
}

func TestDetections_ReadableByReflection(t *testing.T) {
	d := newWireTime()
	b, err := DetectionsProto[wireTime]{Domain: d}.Encode(sampleDetections(d))
	require.NoError(t, err)

	md := detectionsMessage(t)
	m := dynamicpb.NewMessage(md)
	require.NoError(t, proto.Unmarshal(b, m))

	labels := m.Get(md.Fields().ByName("labels")).List()
	require.Equal(t, 3, labels.Len())
	assert.Equal(t, "robot", labels.Get(1).String())

	dets := m.Get(md.Fields().ByName("detections")).List()
	require.Equal(t, 4, dets.Len())

	third := dets.Get(2).Message()
	fields := third.Descriptor().Fields()
	assert.Equal(t, uint64(0), third.Get(fields.ByName("label_id")).Uint())
	assert.False(t, third.Has(fields.ByName("position_field")))

	fourth := dets.Get(3).Message()
	assert.Equal(t, uint64(2), fourth.Get(fields.ByName("label_id")).Uint())
	assert.True(t, fourth.Has(fields.ByName("position_field")))
	ts := fourth.Get(fields.ByName("timestamp")).Message()
	assert.Equal(t, int64(-3), ts.Get(ts.Descriptor().Fields().ByName("seconds")).Int())
	assert.Equal(t, int64(999_999_999), ts.Get(ts.Descriptor().Fields().ByName("nanos")).Int())
}

func TestDetections_DecodesReflectionOutput(t *testing.T) {
	md := detectionsMessage(t)
	detMD := md.Fields().ByName("detections").Message()
	vecMD := detMD.Fields().ByName("position_robot").Message()
	tsMD := detMD.Fields().ByName("timestamp").Message()

	m := dynamicpb.NewMessage(md)
	labels := m.Mutable(md.Fields().ByName("labels")).List()
	labels.Append(protoreflect.ValueOfString("cube"))
	labels.Append(protoreflect.ValueOfString("cone"))

	det := dynamicpb.NewMessage(detMD)
	det.Set(detMD.Fields().ByName("label_id"), protoreflect.ValueOfUint32(1))
	det.Set(detMD.Fields().ByName("confidence"), protoreflect.ValueOfFloat64(0.75))
	ts := dynamicpb.NewMessage(tsMD)
	ts.Set(tsMD.Fields().ByName("seconds"), protoreflect.ValueOfInt64(42))
	ts.Set(tsMD.Fields().ByName("nanos"), protoreflect.ValueOfInt32(1000))
	det.Set(detMD.Fields().ByName("timestamp"), protoreflect.ValueOfMessage(ts))
	vec := dynamicpb.NewMessage(vecMD)
	vec.Set(vecMD.Fields().ByName("y"), protoreflect.ValueOfFloat64(-2.5))
	det.Set(detMD.Fields().ByName("position_robot"), protoreflect.ValueOfMessage(vec))
	m.Mutable(md.Fields().ByName("detections")).List().Append(protoreflect.ValueOfMessage(det))

	b, err := proto.Marshal(m)
	require.NoError(t, err)

	d := newWireTime()
	got, err := DetectionsProto[wireTime]{Domain: d}.Decode(b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cone", got[0].Label)
	assert.Equal(t, 0.75, got[0].Confidence)
	assert.True(t, got[0].Timestamp.Equal(clock.FromParts(d, 42, 1000)))
	assert.Nil(t, got[0].PositionField)
	require.NotNil(t, got[0].PositionRobot)
	assert.Equal(t, geom.Translation3D{Y: -2.5}, *got[0].PositionRobot)
}

func TestDetectionsSchema_Stable(t *testing.T) {
	a, err := DetectionsSchema()
	require.NoError(t, err)
	b, err := DetectionsSchema()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "proto:moenet.ObjectDetections", DetectionsProto[wireTime]{}.TypeString())
}
