package ecs

import (
	"encoding/binary"
	"math"
	"reflect"
	"sort"
	"sync/atomic"
)

// refWord is one entity's packed ref value, stored atomically.
type refWord = atomic.Uint32

// FieldKind identifies one of the recognized field kinds a schema can
// describe. The runtime does not support registering new kinds at runtime —
// this is a closed, tagged variant over {number, boolean, string, binary,
// enum, array, tuple, ref}.
type FieldKind int

const (
	KindNumber FieldKind = iota
	KindBoolean
	KindString
	KindBinary
	KindEnum
	KindArray
	KindTuple
	KindRef
)

// NumberSubtype identifies the numeric representation of a KindNumber field.
type NumberSubtype int

const (
	U8 NumberSubtype = iota
	U16
	U32
	I8
	I16
	I32
	F32
	F64
)

// numberSize returns the column stride, in bytes, for one subtype.
func numberSize(t NumberSubtype) int {
	switch t {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32, F32:
		return 4
	case F64:
		return 8
	default:
		return 0
	}
}

// FieldDescriptor describes one schema field: its kind, any kind-specific
// configuration (numeric subtype, element descriptor for array/tuple, enum
// values), a maxLength for variable-length kinds, and a default value.
type FieldDescriptor struct {
	Kind       FieldKind
	Subtype    NumberSubtype
	Element    *FieldDescriptor
	MaxLength  uint32 // array/string/binary capacity, or tuple's fixed length
	EnumValues []string
	def        any
	hasDefault bool
}

// Max sets the field's maxLength (capacity for string/binary/array, or
// length for tuple) and returns the descriptor for chaining.
func (f *FieldDescriptor) Max(n uint32) *FieldDescriptor {
	f.MaxLength = n
	return f
}

// Default sets the field's default value and returns the descriptor for
// chaining.
func (f *FieldDescriptor) Default(v any) *FieldDescriptor {
	f.def = v
	f.hasDefault = true
	return f
}

// Number builds a numeric field descriptor of the given subtype.
func Number(subtype NumberSubtype) *FieldDescriptor {
	return &FieldDescriptor{Kind: KindNumber, Subtype: subtype}
}

// Boolean builds a boolean field descriptor.
func Boolean() *FieldDescriptor {
	return &FieldDescriptor{Kind: KindBoolean}
}

// String builds a string field descriptor. maxLength defaults to 64; call
// Max to change it.
func String() *FieldDescriptor {
	return &FieldDescriptor{Kind: KindString, MaxLength: 64}
}

// Binary builds a binary (raw byte) field descriptor.
func Binary() *FieldDescriptor {
	return &FieldDescriptor{Kind: KindBinary, MaxLength: 64}
}

// Enum builds an enum field descriptor. Values are sorted ascending and
// stored as a u16 index into the sorted list.
func Enum(values ...string) *FieldDescriptor {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return &FieldDescriptor{Kind: KindEnum, EnumValues: sorted}
}

// Array builds a variable-length array field descriptor of up to maxLength
// elements of the given kind.
func Array(element *FieldDescriptor, maxLength uint32) *FieldDescriptor {
	return &FieldDescriptor{Kind: KindArray, Element: element, MaxLength: maxLength}
}

// Tuple builds a fixed-length array field descriptor of exactly length
// elements of the given kind.
func Tuple(element *FieldDescriptor, length uint32) *FieldDescriptor {
	return &FieldDescriptor{Kind: KindTuple, Element: element, MaxLength: length}
}

// Ref builds an entity-reference field descriptor.
func Ref() *FieldDescriptor {
	return &FieldDescriptor{Kind: KindRef}
}

// FieldSpec names one field in a Schema. A slice (rather than a map) keeps
// column/field order deterministic across registrations for the same
// definition.
type FieldSpec struct {
	Name  string
	Field *FieldDescriptor
}

// Schema is an ordered list of named field descriptors.
type Schema []FieldSpec

// ComponentDef is a (name, schema, isSingleton) component definition, not
// yet bound to a World. Registering it with a World realizes it as a
// *Component with a dense componentId and allocated columns.
type ComponentDef struct {
	Name      string
	Schema    Schema
	Singleton bool
}

// align8 rounds n up to the next multiple of 8, matching the per-entity slot
// alignment the array/tuple layouts use.
func align8(n uint32) uint32 {
	return (n + 7) &^ 7
}

// elementStride returns the per-element byte width inside an array/tuple
// column for a given element kind, honoring numeric subtype and
// string/binary maxLength.
func elementStride(el *FieldDescriptor) (uint32, error) {
	switch el.Kind {
	case KindNumber:
		return uint32(numberSize(el.Subtype)), nil
	case KindBoolean:
		return 1, nil
	case KindString, KindBinary:
		return el.MaxLength + 4, nil
	case KindEnum:
		return 2, nil
	case KindRef:
		return 4, nil
	default:
		return 0, ErrUnknownFieldKind
	}
}

// byteColumn is a raw per-entity slot buffer used by every field kind except
// Ref, which needs atomic word access (see refColumn). Ordinary component
// field writes are not required to be atomic: callers are responsible for
// partitioning writers across (component, entity) pairs, so a plain []byte
// slice is sufficient.
type byteColumn struct {
	buf    []byte
	stride uint32
}

func newByteColumn(capacity, stride uint32) *byteColumn {
	return &byteColumn{buf: make([]byte, uint64(capacity)*uint64(stride)), stride: stride}
}

func (c *byteColumn) slot(entityID uint32) []byte {
	off := uint64(entityID) * uint64(c.stride)
	return c.buf[off : off+uint64(c.stride)]
}

// refColumn stores a ref field as one atomic.Uint32 per entity so
// cross-thread reads (which may lazily null a stale reference) and writes
// are safe without locks.
type refColumn struct {
	words []refWord
}

func newRefColumn(capacity uint32) *refColumn {
	c := &refColumn{words: make([]refWord, capacity)}
	for i := range c.words {
		c.words[i].Store(NullRef)
	}
	return c
}

// NullRef is the sentinel packed ref value meaning "no entity".
const NullRef uint32 = 0xFFFFFFFF

// PackRef packs an (entityID, generation) pair into the wire format a ref
// field stores: entityId in bits 0-24, generation in bits 25-31.
func PackRef(entityID, generation uint32) uint32 {
	return (entityID & 0x01FFFFFF) | (generation << 25)
}

// UnpackRef splits a packed ref word back into its entityID and generation.
func UnpackRef(packed uint32) (entityID, generation uint32) {
	return packed & 0x01FFFFFF, packed >> 25
}

// fieldHandler adapts one column (byte-based or ref) to the dynamic
// get(entityID)/set(entityID, value) shape Component's Read/Write/Snapshot
// views use, and knows how to initialize a slot to its default value.
type fieldHandler interface {
	init(entityID uint32, value any, hasValue bool)
	get(entityID uint32) any
	set(entityID uint32, value any)
	defaultValue() any
}

// newFieldHandler builds the concrete handler for one field descriptor over
// freshly allocated column storage sized for capacity entities.
func newFieldHandler(f *FieldDescriptor, capacity uint32) (fieldHandler, error) {
	switch f.Kind {
	case KindNumber:
		return &numberHandler{col: newByteColumn(capacity, uint32(numberSize(f.Subtype))), subtype: f.Subtype, def: f.def, hasDefault: f.hasDefault}, nil
	case KindBoolean:
		return &booleanHandler{col: newByteColumn(capacity, 1), def: boolOrDefault(f)}, nil
	case KindString:
		return &stringHandler{col: newByteColumn(capacity, f.MaxLength+4), maxLength: f.MaxLength, def: stringOrDefault(f)}, nil
	case KindBinary:
		return &binaryHandler{col: newByteColumn(capacity, f.MaxLength+4), maxLength: f.MaxLength, def: bytesOrDefault(f)}, nil
	case KindEnum:
		return &enumHandler{col: newByteColumn(capacity, 2), values: f.EnumValues, def: stringOrDefault(f)}, nil
	case KindArray:
		stride, err := elementStride(f.Element)
		if err != nil {
			return nil, err
		}
		slotSize := align8(f.MaxLength*stride + 4)
		return &arrayHandler{col: newByteColumn(capacity, slotSize), element: f.Element, maxLength: f.MaxLength, elemStride: stride}, nil
	case KindTuple:
		stride, err := elementStride(f.Element)
		if err != nil {
			return nil, err
		}
		slotSize := align8(f.MaxLength * stride)
		return &tupleHandler{col: newByteColumn(capacity, slotSize), element: f.Element, length: f.MaxLength, elemStride: stride}, nil
	case KindRef:
		return &refHandler{col: newRefColumn(capacity)}, nil
	default:
		return nil, ErrUnknownFieldKind
	}
}

func boolOrDefault(f *FieldDescriptor) bool {
	if v, ok := f.def.(bool); ok {
		return v
	}
	return false
}

func stringOrDefault(f *FieldDescriptor) string {
	if v, ok := f.def.(string); ok {
		return v
	}
	return ""
}

func bytesOrDefault(f *FieldDescriptor) []byte {
	if v, ok := f.def.([]byte); ok {
		return v
	}
	return nil
}

// ---- number ----

type numberHandler struct {
	col        *byteColumn
	subtype    NumberSubtype
	def        any
	hasDefault bool
}

func (h *numberHandler) defaultValue() any {
	if h.hasDefault {
		return h.def
	}
	switch h.subtype {
	case F32:
		return float32(0)
	case F64:
		return float64(0)
	case I8:
		return int8(0)
	case I16:
		return int16(0)
	case I32:
		return int32(0)
	case U8:
		return uint8(0)
	case U16:
		return uint16(0)
	default:
		return uint32(0)
	}
}

func (h *numberHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.set(entityID, h.defaultValue())
	}
}

func (h *numberHandler) get(entityID uint32) any {
	slot := h.col.slot(entityID)
	switch h.subtype {
	case U8:
		return slot[0]
	case I8:
		return int8(slot[0])
	case U16:
		return binary.LittleEndian.Uint16(slot)
	case I16:
		return int16(binary.LittleEndian.Uint16(slot))
	case U32:
		return binary.LittleEndian.Uint32(slot)
	case I32:
		return int32(binary.LittleEndian.Uint32(slot))
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(slot))
	case F64:
		return math.Float64frombits(binary.LittleEndian.Uint64(slot))
	}
	return nil
}

func (h *numberHandler) set(entityID uint32, value any) {
	slot := h.col.slot(entityID)
	f := toFloat64(value)
	switch h.subtype {
	case U8:
		slot[0] = uint8(f)
	case I8:
		slot[0] = byte(int8(f))
	case U16:
		binary.LittleEndian.PutUint16(slot, uint16(f))
	case I16:
		binary.LittleEndian.PutUint16(slot, uint16(int16(f)))
	case U32:
		binary.LittleEndian.PutUint32(slot, uint32(f))
	case I32:
		binary.LittleEndian.PutUint32(slot, uint32(int32(f)))
	case F32:
		binary.LittleEndian.PutUint32(slot, math.Float32bits(float32(f)))
	case F64:
		binary.LittleEndian.PutUint64(slot, math.Float64bits(f))
	}
}

// toFloat64 widens any Go numeric kind so callers can pass int, float64, or
// the field's exact subtype interchangeably.
func toFloat64(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return 0
	}
}

// ---- boolean ----

type booleanHandler struct {
	col *byteColumn
	def bool
}

func (h *booleanHandler) defaultValue() any { return h.def }

func (h *booleanHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.set(entityID, h.def)
	}
}

func (h *booleanHandler) get(entityID uint32) any {
	return h.col.slot(entityID)[0] != 0
}

func (h *booleanHandler) set(entityID uint32, value any) {
	b, _ := value.(bool)
	slot := h.col.slot(entityID)
	if b {
		slot[0] = 1
	} else {
		slot[0] = 0
	}
}

// ---- string ----

type stringHandler struct {
	col       *byteColumn
	maxLength uint32
	def       string
}

func (h *stringHandler) defaultValue() any { return h.def }

func (h *stringHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.set(entityID, h.def)
	}
}

func (h *stringHandler) get(entityID uint32) any {
	slot := h.col.slot(entityID)
	n := binary.LittleEndian.Uint32(slot[:4])
	if n > h.maxLength {
		n = h.maxLength
	}
	return string(slot[4 : 4+n])
}

func (h *stringHandler) set(entityID uint32, value any) {
	s, _ := value.(string)
	b := []byte(s)
	if uint32(len(b)) > h.maxLength {
		b = b[:h.maxLength]
	}
	slot := h.col.slot(entityID)
	for i := range slot {
		slot[i] = 0
	}
	binary.LittleEndian.PutUint32(slot[:4], uint32(len(b)))
	copy(slot[4:], b)
}

// ---- binary ----

type binaryHandler struct {
	col       *byteColumn
	maxLength uint32
	def       []byte
}

func (h *binaryHandler) defaultValue() any { return h.def }

func (h *binaryHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.set(entityID, h.def)
	}
}

func (h *binaryHandler) get(entityID uint32) any {
	slot := h.col.slot(entityID)
	n := binary.LittleEndian.Uint32(slot[:4])
	if n > h.maxLength {
		n = h.maxLength
	}
	out := make([]byte, n)
	copy(out, slot[4:4+n])
	return out
}

func (h *binaryHandler) set(entityID uint32, value any) {
	b, _ := value.([]byte)
	if uint32(len(b)) > h.maxLength {
		b = b[:h.maxLength]
	}
	slot := h.col.slot(entityID)
	for i := range slot {
		slot[i] = 0
	}
	binary.LittleEndian.PutUint32(slot[:4], uint32(len(b)))
	copy(slot[4:], b)
}

// ---- enum ----

type enumHandler struct {
	col    *byteColumn
	values []string
	def    string
}

func (h *enumHandler) defaultValue() any { return h.def }

func (h *enumHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.set(entityID, h.def)
	}
}

func (h *enumHandler) indexOf(v string) (int, bool) {
	i := sort.SearchStrings(h.values, v)
	if i < len(h.values) && h.values[i] == v {
		return i, true
	}
	return 0, false
}

func (h *enumHandler) get(entityID uint32) any {
	slot := h.col.slot(entityID)
	idx := binary.LittleEndian.Uint16(slot)
	if int(idx) >= len(h.values) {
		return ""
	}
	return h.values[idx]
}

func (h *enumHandler) set(entityID uint32, value any) {
	s, _ := value.(string)
	idx, ok := h.indexOf(s)
	if !ok {
		// Unknown enum values on write are ignored.
		return
	}
	binary.LittleEndian.PutUint16(h.col.slot(entityID), uint16(idx))
}

// ---- array (variable length) ----

type arrayHandler struct {
	col        *byteColumn
	element    *FieldDescriptor
	maxLength  uint32
	elemStride uint32
}

func (h *arrayHandler) defaultValue() any { return []any{} }

func (h *arrayHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.set(entityID, []any{})
	}
}

func (h *arrayHandler) elementOffset(i uint32) uint32 { return 4 + i*h.elemStride }

func (h *arrayHandler) get(entityID uint32) any {
	slot := h.col.slot(entityID)
	count := binary.LittleEndian.Uint32(slot[:4])
	if count > h.maxLength {
		count = h.maxLength
	}
	out := make([]any, count)
	for i := uint32(0); i < count; i++ {
		out[i] = decodeElement(h.element, slot[h.elementOffset(i):h.elementOffset(i)+h.elemStride])
	}
	return out
}

func (h *arrayHandler) set(entityID uint32, value any) {
	values := toAnySlice(value)
	if uint32(len(values)) > h.maxLength {
		values = values[:h.maxLength]
	}
	slot := h.col.slot(entityID)
	for i := range slot {
		slot[i] = 0
	}
	binary.LittleEndian.PutUint32(slot[:4], uint32(len(values)))
	for i, v := range values {
		encodeElement(h.element, slot[h.elementOffset(uint32(i)):h.elementOffset(uint32(i))+h.elemStride], v)
	}
}

// ---- tuple (fixed length) ----

type tupleHandler struct {
	col        *byteColumn
	element    *FieldDescriptor
	length     uint32
	elemStride uint32
}

func (h *tupleHandler) defaultValue() any { return make([]any, h.length) }

func (h *tupleHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.set(entityID, make([]any, h.length))
	}
}

func (h *tupleHandler) elementOffset(i uint32) uint32 { return i * h.elemStride }

func (h *tupleHandler) get(entityID uint32) any {
	slot := h.col.slot(entityID)
	out := make([]any, h.length)
	for i := uint32(0); i < h.length; i++ {
		out[i] = decodeElement(h.element, slot[h.elementOffset(i):h.elementOffset(i)+h.elemStride])
	}
	return out
}

func (h *tupleHandler) set(entityID uint32, value any) {
	values := toAnySlice(value)
	slot := h.col.slot(entityID)
	for i := range slot {
		slot[i] = 0
	}
	for i := uint32(0); i < h.length && int(i) < len(values); i++ {
		encodeElement(h.element, slot[h.elementOffset(i):h.elementOffset(i)+h.elemStride], values[i])
	}
}

// ---- ref ----

type refHandler struct {
	col *refColumn
	// validate, when non-nil, is invoked on read to lazily null stale refs.
	// Set by Component after construction, since refs need the World's
	// EntityBuffer to check liveness/generation.
	validate func(packed uint32) uint32
}

func (h *refHandler) defaultValue() any { return uint32(NullRef) }

func (h *refHandler) init(entityID uint32, value any, hasValue bool) {
	if hasValue {
		h.set(entityID, value)
	} else {
		h.col.words[entityID].Store(NullRef)
	}
}

func (h *refHandler) get(entityID uint32) any {
	packed := h.col.words[entityID].Load()
	if h.validate != nil {
		resolved := h.validate(packed)
		if resolved != packed {
			h.col.words[entityID].Store(resolved)
		}
		packed = resolved
	}
	if packed == NullRef {
		return nil
	}
	id, _ := UnpackRef(packed)
	return id
}

func (h *refHandler) set(entityID uint32, value any) {
	if value == nil {
		h.col.words[entityID].Store(NullRef)
		return
	}
	packed, _ := value.(uint32)
	h.col.words[entityID].Store(packed)
}

// ---- shared element (de)coders for array/tuple ----

func decodeElement(el *FieldDescriptor, buf []byte) any {
	switch el.Kind {
	case KindNumber:
		return decodeNumber(el.Subtype, buf)
	case KindBoolean:
		return buf[0] != 0
	case KindString:
		n := binary.LittleEndian.Uint32(buf[:4])
		if int(n) > len(buf)-4 {
			n = uint32(len(buf) - 4)
		}
		return string(buf[4 : 4+n])
	case KindBinary:
		n := binary.LittleEndian.Uint32(buf[:4])
		if int(n) > len(buf)-4 {
			n = uint32(len(buf) - 4)
		}
		out := make([]byte, n)
		copy(out, buf[4:4+n])
		return out
	case KindRef:
		return binary.LittleEndian.Uint32(buf)
	default:
		return nil
	}
}

func encodeElement(el *FieldDescriptor, buf []byte, value any) {
	switch el.Kind {
	case KindNumber:
		encodeNumber(el.Subtype, buf, toFloat64(value))
	case KindBoolean:
		if b, _ := value.(bool); b {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
	case KindString:
		s, _ := value.(string)
		b := []byte(s)
		if len(b) > len(buf)-4 {
			b = b[:len(buf)-4]
		}
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(b)))
		copy(buf[4:], b)
	case KindBinary:
		b, _ := value.([]byte)
		if len(b) > len(buf)-4 {
			b = b[:len(buf)-4]
		}
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(b)))
		copy(buf[4:], b)
	case KindRef:
		packed, _ := value.(uint32)
		binary.LittleEndian.PutUint32(buf, packed)
	}
}

func decodeNumber(subtype NumberSubtype, buf []byte) any {
	switch subtype {
	case U8:
		return buf[0]
	case I8:
		return int8(buf[0])
	case U16:
		return binary.LittleEndian.Uint16(buf)
	case I16:
		return int16(binary.LittleEndian.Uint16(buf))
	case U32:
		return binary.LittleEndian.Uint32(buf)
	case I32:
		return int32(binary.LittleEndian.Uint32(buf))
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(buf))
	case F64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	}
	return nil
}

func encodeNumber(subtype NumberSubtype, buf []byte, f float64) {
	switch subtype {
	case U8:
		buf[0] = uint8(f)
	case I8:
		buf[0] = byte(int8(f))
	case U16:
		binary.LittleEndian.PutUint16(buf, uint16(f))
	case I16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(f)))
	case U32:
		binary.LittleEndian.PutUint32(buf, uint32(f))
	case I32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(f)))
	case F32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
	case F64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	}
}

// toAnySlice accepts either a []any or any concrete slice type ([]float32,
// []string, ...) so callers can hand array/tuple fields naturally typed
// values without pre-boxing every element.
func toAnySlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case nil:
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
