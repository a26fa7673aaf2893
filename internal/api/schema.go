package api

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The wire schema is derived from the Go message types in this package:
// one proto3 message per struct, field numbers in declaration order and
// field names taken from the json tags in snake_case.
const (
	ProtoFile    = "thryve/v1/api.proto"
	ProtoPackage = "thryve.v1"
)

var structType = reflect.TypeFor[*structpb.Struct]()

type rpcSchema struct {
	service string
	method  string
	in, out reflect.Type
	stream  bool
}

func rpc[Req, Resp any](service, method string) rpcSchema {
	return rpcSchema{service: service, method: method, in: reflect.TypeFor[Req](), out: reflect.TypeFor[Resp]()}
}

func streamRPC[Req, Resp any](service, method string) rpcSchema {
	r := rpc[Req, Resp](service, method)
	r.stream = true
	return r
}

var rpcs = []rpcSchema{
	rpc[SendMessageRequest, SendMessageResponse](MessageServiceName, "SendMessage"),
	rpc[ListPendingRequest, ListPendingResponse](MessageServiceName, "ListPending"),
	rpc[RetryMessageRequest, RetryMessageResponse](MessageServiceName, "RetryMessage"),
	rpc[DiscardMessageRequest, DiscardMessageResponse](MessageServiceName, "DiscardMessage"),
	rpc[SyncNowRequest, SyncNowResponse](MessageServiceName, "SyncNow"),
	streamRPC[WatchEventsRequest, EventEnvelope](MessageServiceName, "WatchEvents"),

	rpc[SetTypingRequest, BestEffortResponse](SignalServiceName, "SetTyping"),
	rpc[ClearTypingRequest, BestEffortResponse](SignalServiceName, "ClearTyping"),
	rpc[MarkAsReadRequest, BestEffortResponse](SignalServiceName, "MarkAsRead"),
	rpc[MarkAllAsReadRequest, BestEffortResponse](SignalServiceName, "MarkAllAsRead"),
	rpc[GetUnreadCountRequest, GetUnreadCountResponse](SignalServiceName, "GetUnreadCount"),
	streamRPC[WatchTypingRequest, TypingUpdate](SignalServiceName, "WatchTyping"),
	streamRPC[WatchUnreadCountsRequest, UnreadCounts](SignalServiceName, "WatchUnreadCounts"),

	rpc[GetStatusRequest, GetStatusResponse](StatusServiceName, "GetStatus"),
	rpc[SetNetworkRequest, SetNetworkResponse](StatusServiceName, "SetNetwork"),
}

// messageSchema maps one Go struct onto its message descriptor.
type messageSchema struct {
	desc   protoreflect.MessageDescriptor
	fields []protoreflect.FieldDescriptor // by Go field index
}

type wireSchema struct {
	file     protoreflect.FileDescriptor
	messages map[reflect.Type]*messageSchema
}

var loadSchema = sync.OnceValues(func() (*wireSchema, error) {
	fdp, types, err := buildFileProto()
	if err != nil {
		return nil, err
	}
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", ProtoFile, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return nil, fmt.Errorf("register %s: %w", ProtoFile, err)
	}

	w := &wireSchema{file: fd, messages: make(map[reflect.Type]*messageSchema, len(types))}
	for _, t := range types {
		md := fd.Messages().ByName(protoreflect.Name(t.Name()))
		if md == nil {
			return nil, fmt.Errorf("message %s missing from %s", t.Name(), ProtoFile)
		}
		ms := &messageSchema{desc: md, fields: make([]protoreflect.FieldDescriptor, t.NumField())}
		for i := range t.NumField() {
			ms.fields[i] = md.Fields().ByNumber(protoreflect.FieldNumber(i + 1))
		}
		w.messages[t] = ms
	}
	return w, nil
})

// FileDescriptor returns the daemon API schema. It is also registered in
// protoregistry.GlobalFiles.
func FileDescriptor() (protoreflect.FileDescriptor, error) {
	w, err := loadSchema()
	if err != nil {
		return nil, err
	}
	return w.file, nil
}

func schemaOf(t reflect.Type) (*messageSchema, error) {
	w, err := loadSchema()
	if err != nil {
		return nil, err
	}
	ms, ok := w.messages[t]
	if !ok {
		return nil, fmt.Errorf("%s is not an api message", t)
	}
	return ms, nil
}

func buildFileProto() (*descriptorpb.FileDescriptorProto, []reflect.Type, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String(ProtoPackage),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/struct.proto"},
	}

	var types []reflect.Type
	seen := map[reflect.Type]bool{}
	var collect func(t reflect.Type)
	collect = func(t reflect.Type) {
		if seen[t] {
			return
		}
		seen[t] = true
		types = append(types, t)
		for i := range t.NumField() {
			if nested, ok := messageElem(t.Field(i).Type); ok {
				collect(nested)
			}
		}
	}

	services := map[string]*descriptorpb.ServiceDescriptorProto{}
	for _, r := range rpcs {
		collect(r.in)
		collect(r.out)
		sd, ok := services[r.service]
		if !ok {
			sd = &descriptorpb.ServiceDescriptorProto{Name: proto.String(strings.TrimPrefix(r.service, ProtoPackage+"."))}
			services[r.service] = sd
			fdp.Service = append(fdp.Service, sd)
		}
		sd.Method = append(sd.Method, &descriptorpb.MethodDescriptorProto{
			Name:            proto.String(r.method),
			InputType:       proto.String(typeName(r.in)),
			OutputType:      proto.String(typeName(r.out)),
			ServerStreaming: proto.Bool(r.stream),
		})
	}

	for _, t := range types {
		mp, err := messageProto(t)
		if err != nil {
			return nil, nil, err
		}
		fdp.MessageType = append(fdp.MessageType, mp)
	}
	return fdp, types, nil
}

func messageProto(t reflect.Type) (*descriptorpb.DescriptorProto, error) {
	mp := &descriptorpb.DescriptorProto{Name: proto.String(t.Name())}
	for i := range t.NumField() {
		sf := t.Field(i)
		name := fieldName(sf)
		fp := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(int32(i + 1)),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		}

		ft := sf.Type
		if ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8 {
			fp.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
			ft = ft.Elem()
		}

		switch {
		case ft.Kind() == reflect.Map:
			key, err := scalarType(ft.Key())
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
			}
			val, err := scalarType(ft.Elem())
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
			}
			entry := mapEntryName(name)
			mp.NestedType = append(mp.NestedType, &descriptorpb.DescriptorProto{
				Name: proto.String(entry),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("key"), Number: proto.Int32(1), Label: descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(), Type: key.Enum()},
					{Name: proto.String("value"), Number: proto.Int32(2), Label: descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(), Type: val.Enum()},
				},
				Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
			})
			fp.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
			fp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			fp.TypeName = proto.String(typeName(t) + "." + entry)
		case ft == structType:
			fp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			fp.TypeName = proto.String(".google.protobuf.Struct")
		case ft.Kind() == reflect.Pointer && ft.Elem().Kind() == reflect.Struct, ft.Kind() == reflect.Struct:
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			fp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			fp.TypeName = proto.String(typeName(ft))
		default:
			typ, err := scalarType(ft)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
			}
			fp.Type = typ.Enum()
		}
		mp.Field = append(mp.Field, fp)
	}
	return mp, nil
}

// messageElem returns the api struct carried by a field of type t, if any.
func messageElem(t reflect.Type) (reflect.Type, bool) {
	if t == structType {
		return nil, false
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice:
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		return t, true
	}
	return nil, false
}

func scalarType(t reflect.Type) (descriptorpb.FieldDescriptorProto_Type, error) {
	switch t.Kind() {
	case reflect.String:
		return descriptorpb.FieldDescriptorProto_TYPE_STRING, nil
	case reflect.Bool:
		return descriptorpb.FieldDescriptorProto_TYPE_BOOL, nil
	case reflect.Int, reflect.Int64:
		return descriptorpb.FieldDescriptorProto_TYPE_INT64, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil
		}
	}
	return 0, fmt.Errorf("unsupported field type %s", t)
}

func typeName(t reflect.Type) string {
	return "." + ProtoPackage + "." + t.Name()
}

// fieldName is the json tag name in snake_case: "roomId" becomes "room_id".
func fieldName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" {
		name = sf.Name
	}
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// mapEntryName follows protoc: "counts" becomes "CountsEntry".
func mapEntryName(field string) string {
	var b strings.Builder
	upper := true
	for _, r := range field {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	b.WriteString("Entry")
	return b.String()
}

func newMessage[T any]() (*dynamicpb.Message, error) {
	ms, err := schemaOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return dynamicpb.NewMessage(ms.desc), nil
}

// toMessage converts a pointer to an api struct into its wire message.
func toMessage(v any) (*dynamicpb.Message, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("toMessage: want pointer, got %T", v)
	}
	t := rv.Type().Elem()
	ms, err := schemaOf(t)
	if err != nil {
		return nil, err
	}
	m := dynamicpb.NewMessage(ms.desc)
	if rv.IsNil() {
		return m, nil
	}
	if err := ms.encode(rv.Elem(), m); err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.Name(), err)
	}
	return m, nil
}

// fromMessage fills the api struct out points to from m.
func fromMessage(m proto.Message, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("fromMessage: want non-nil pointer, got %T", out)
	}
	ms, err := schemaOf(rv.Type().Elem())
	if err != nil {
		return err
	}
	if err := ms.decode(m.ProtoReflect(), rv.Elem()); err != nil {
		return fmt.Errorf("decode %s: %w", rv.Type().Elem().Name(), err)
	}
	return nil
}

func (ms *messageSchema) encode(rv reflect.Value, m protoreflect.Message) error {
	for i, fd := range ms.fields {
		fv := rv.Field(i)
		if fv.IsZero() {
			continue
		}
		switch {
		case fd.IsMap():
			mp := m.Mutable(fd).Map()
			iter := fv.MapRange()
			for iter.Next() {
				mp.Set(scalarValue(iter.Key()).MapKey(), scalarValue(iter.Value()))
			}
		case fd.IsList():
			l := m.Mutable(fd).List()
			for j := range fv.Len() {
				ev := fv.Index(j)
				if fd.Kind() != protoreflect.MessageKind {
					l.Append(scalarValue(ev))
					continue
				}
				es, err := schemaOf(ev.Type())
				if err != nil {
					return err
				}
				el := l.NewElement()
				if err := es.encode(ev, el.Message()); err != nil {
					return err
				}
				l.Append(el)
			}
		case fd.Kind() == protoreflect.MessageKind:
			if fv.Type() == structType {
				if err := copyMessage(fv.Interface().(*structpb.Struct), m.Mutable(fd).Message().Interface()); err != nil {
					return err
				}
				continue
			}
			es, err := schemaOf(fv.Type().Elem())
			if err != nil {
				return err
			}
			if err := es.encode(fv.Elem(), m.Mutable(fd).Message()); err != nil {
				return err
			}
		default:
			m.Set(fd, scalarValue(fv))
		}
	}
	return nil
}

func (ms *messageSchema) decode(m protoreflect.Message, rv reflect.Value) error {
	for i, fd := range ms.fields {
		if !m.Has(fd) {
			continue
		}
		fv := rv.Field(i)
		v := m.Get(fd)
		switch {
		case fd.IsMap():
			out := reflect.MakeMapWithSize(fv.Type(), v.Map().Len())
			v.Map().Range(func(k protoreflect.MapKey, val protoreflect.Value) bool {
				key := reflect.New(fv.Type().Key()).Elem()
				setScalar(key, k.Value())
				elem := reflect.New(fv.Type().Elem()).Elem()
				setScalar(elem, val)
				out.SetMapIndex(key, elem)
				return true
			})
			fv.Set(out)
		case fd.IsList():
			l := v.List()
			out := reflect.MakeSlice(fv.Type(), l.Len(), l.Len())
			for j := range l.Len() {
				if fd.Kind() != protoreflect.MessageKind {
					setScalar(out.Index(j), l.Get(j))
					continue
				}
				es, err := schemaOf(fv.Type().Elem())
				if err != nil {
					return err
				}
				if err := es.decode(l.Get(j).Message(), out.Index(j)); err != nil {
					return err
				}
			}
			fv.Set(out)
		case fd.Kind() == protoreflect.MessageKind:
			if fv.Type() == structType {
				st := &structpb.Struct{}
				if err := copyMessage(v.Message().Interface(), st); err != nil {
					return err
				}
				fv.Set(reflect.ValueOf(st))
				continue
			}
			ptr := reflect.New(fv.Type().Elem())
			es, err := schemaOf(fv.Type().Elem())
			if err != nil {
				return err
			}
			if err := es.decode(v.Message(), ptr.Elem()); err != nil {
				return err
			}
			fv.Set(ptr)
		default:
			setScalar(fv, v)
		}
	}
	return nil
}

// copyMessage moves a message between its generated and dynamic forms.
func copyMessage(src, dst proto.Message) error {
	b, err := proto.Marshal(src)
	if err != nil {
		return err
	}
	return proto.Unmarshal(b, dst)
}

func scalarValue(v reflect.Value) protoreflect.Value {
	switch v.Kind() {
	case reflect.String:
		return protoreflect.ValueOfString(v.String())
	case reflect.Bool:
		return protoreflect.ValueOfBool(v.Bool())
	case reflect.Int, reflect.Int64:
		return protoreflect.ValueOfInt64(v.Int())
	case reflect.Slice:
		return protoreflect.ValueOfBytes(v.Bytes())
	}
	panic(fmt.Sprintf("api: no scalar mapping for %s", v.Type()))
}

func setScalar(dst reflect.Value, v protoreflect.Value) {
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(v.String())
	case reflect.Bool:
		dst.SetBool(v.Bool())
	case reflect.Int, reflect.Int64:
		dst.SetInt(v.Int())
	case reflect.Slice:
		dst.SetBytes(append([]byte(nil), v.Bytes()...))
	}
}
