// Package model holds the in-memory LWM2M object/instance/resource store.
//
// OMA-TS-LightweightM2M-V1_0_2-20180209-A 6.1 Object / Resource / Instance参照
package model

import (
	"fmt"
	"sort"
)

// ResourceType is the wire/value type carried by a resource.
// OMA-TS-LightweightM2M-V1_0_2-20180209-A Appendix C. Data Types参照
type ResourceType int

const (
	TypeInteger ResourceType = iota
	TypeString
	TypeFloat
	TypeBoolean
	TypeTime
	TypeOpaque
)

func (t ResourceType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeString:
		return "string"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeTime:
		return "time"
	case TypeOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Operations is a bitset of the R/W/E permissions carried by a resource
// definition. The zero value is NONE: invisible to every external verb.
type Operations uint8

const (
	OpRead Operations = 1 << iota
	OpWrite
	OpExecute
)

func (o Operations) Readable() bool   { return o&OpRead != 0 }
func (o Operations) Writable() bool   { return o&OpWrite != 0 }
func (o Operations) Executable() bool { return o&OpExecute != 0 }

// ResourceDefinition is immutable after load.
type ResourceDefinition struct {
	ID         uint16
	Name       string
	Operations Operations
	Multiple   bool
	Type       ResourceType
}

// ObjectDefinition is immutable after load.
type ObjectDefinition struct {
	ID        uint16
	Name      string
	Multiple  bool
	Mandatory bool
	Resources map[uint16]ResourceDefinition
}

func (def ObjectDefinition) resourceIDs() []uint16 {
	ids := make([]uint16, 0, len(def.Resources))
	for id := range def.Resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Value is a tagged union of the possible single-resource value kinds.
// Exactly one field is meaningful, driven by the owning ResourceDefinition.Type.
type Value struct {
	Int     int64
	Str     string
	Float64 float64
	Bool    bool
	Opaque  []byte
}

// ResourceValue is a tagged union driven by ResourceDefinition.Multiple:
// either a single Value, or a mapping from resource-instance ID to Value.
type ResourceValue struct {
	Single *Value
	Multi  map[uint16]Value
}

// Instance maps resource ID to its stored value.
type Instance map[uint16]ResourceValue

// object maps instance ID to its instance data.
type object map[uint16]Instance

// Model is the in-memory object/instance/resource store. It is mutable but
// single-owner: callers are expected to serialise access through a single
// cooperative goroutine (§5 Concurrency & Resource model).
type Model struct {
	defs map[uint16]ObjectDefinition
	data map[uint16]object
}

// PathError carries the design-level error taxonomy distinguished by §3/§7:
// PathMalformed (bad shape/non-integer) vs PathNotFound (valid shape, absent).
type PathError struct {
	Malformed bool
	Path      string
}

func (e *PathError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("malformed path: %s", e.Path)
	}
	return fmt.Sprintf("not found: %s", e.Path)
}

// New creates a Model holding a copy of data, described by defs. Callers
// (the config loader) are responsible for checking that every object ID
// present in data has a matching ObjectDefinition before calling New;
// New itself re-validates this invariant and returns an error otherwise,
// since loaders are pluggable and must not be trusted blindly.
func New(defs map[uint16]ObjectDefinition, data map[uint16]map[uint16]Instance) (*Model, error) {
	m := &Model{
		defs: defs,
		data: make(map[uint16]object, len(data)),
	}
	for objID, insts := range data {
		if _, ok := defs[objID]; !ok {
			return nil, fmt.Errorf("object %d has data but no definition", objID)
		}
		o := make(object, len(insts))
		for instID, inst := range insts {
			cp := make(Instance, len(inst))
			for resID, v := range inst {
				cp[resID] = v
			}
			o[instID] = cp
		}
		m.data[objID] = o
	}
	return m, nil
}

// Objects returns the numerically sorted sequence of object IDs present in
// the store.
func (m *Model) Objects() []uint16 {
	ids := make([]uint16, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Instances returns the numerically sorted instance IDs under obj.
func (m *Model) Instances(obj uint16) []uint16 {
	o := m.data[obj]
	ids := make([]uint16, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resources returns the numerically sorted resource IDs under obj/inst.
func (m *Model) Resources(obj, inst uint16) []uint16 {
	i := m.data[obj][inst]
	ids := make([]uint16, 0, len(i))
	for id := range i {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resource returns the stored value at obj/inst/res. Fails with PathError
// (not malformed) if the path is absent.
func (m *Model) Resource(obj, inst, res uint16) (ResourceValue, error) {
	o, ok := m.data[obj]
	if !ok {
		return ResourceValue{}, &PathError{Path: fmt.Sprintf("/%d", obj)}
	}
	i, ok := o[inst]
	if !ok {
		return ResourceValue{}, &PathError{Path: fmt.Sprintf("/%d/%d", obj, inst)}
	}
	v, ok := i[res]
	if !ok {
		return ResourceValue{}, &PathError{Path: fmt.Sprintf("/%d/%d/%d", obj, inst, res)}
	}
	return v, nil
}

// Definition returns the object definition, if any.
func (m *Model) Definition(obj uint16) (ObjectDefinition, bool) {
	d, ok := m.defs[obj]
	return d, ok
}

// ResourceDefinition returns the resource definition under obj, if any.
func (m *Model) ResourceDefinition(obj, res uint16) (ResourceDefinition, bool) {
	d, ok := m.defs[obj]
	if !ok {
		return ResourceDefinition{}, false
	}
	r, ok := d.Resources[res]
	return r, ok
}

// IsPathValid reports whether every prefix of path resolves in the store.
// Path length must be 1, 2 or 3; anything else is a malformed-path error.
func (m *Model) IsPathValid(path []uint16) (bool, error) {
	switch len(path) {
	case 1:
		_, ok := m.data[path[0]]
		return ok, nil
	case 2:
		o, ok := m.data[path[0]]
		if !ok {
			return false, nil
		}
		_, ok = o[path[1]]
		return ok, nil
	case 3:
		o, ok := m.data[path[0]]
		if !ok {
			return false, nil
		}
		i, ok := o[path[1]]
		if !ok {
			return false, nil
		}
		_, ok = i[path[2]]
		return ok, nil
	default:
		return false, &PathError{Malformed: true, Path: fmt.Sprintf("length %d", len(path))}
	}
}

// IsObjectMultiInstance reports whether obj's definition allows multiple
// instances. Returns false if obj is undefined.
func (m *Model) IsObjectMultiInstance(obj uint16) bool {
	d, ok := m.defs[obj]
	return ok && d.Multiple
}

// IsResourceMultiInstance reports whether res under obj is multi-valued.
func (m *Model) IsResourceMultiInstance(obj, _inst, res uint16) bool {
	r, ok := m.ResourceDefinition(obj, res)
	return ok && r.Multiple
}

// IsResourceReadable/Writable/Executable are pure lookups against the
// resource definition; Operations == 0 (NONE) answers false to all three.
func (m *Model) IsResourceReadable(obj, _inst, res uint16) bool {
	r, ok := m.ResourceDefinition(obj, res)
	return ok && r.Operations.Readable()
}

func (m *Model) IsResourceWritable(obj, _inst, res uint16) bool {
	r, ok := m.ResourceDefinition(obj, res)
	return ok && r.Operations.Writable()
}

func (m *Model) IsResourceExecutable(obj, _inst, res uint16) bool {
	r, ok := m.ResourceDefinition(obj, res)
	return ok && r.Operations.Executable()
}

// SetResource unconditionally mutates the store. Callers must have already
// checked writability; this is also used internally by executable handlers.
func (m *Model) SetResource(obj, inst, res uint16, v ResourceValue) {
	o, ok := m.data[obj]
	if !ok {
		o = make(object)
		m.data[obj] = o
	}
	i, ok := o[inst]
	if !ok {
		i = make(Instance)
		o[inst] = i
	}
	i[res] = v
}

// PartialValue is a single leaf produced by decoding a write payload: either
// a single Value, or a mapping of resource-instance ID to Value for a
// multi-valued resource.
type PartialValue struct {
	Single *Value
	Multi  map[uint16]Value
}

// PartialTree is the decoded shape `{obj: {inst: {res: value}}}` produced by
// a successful write decode, ready to be merged into the Model.
type PartialTree map[uint16]map[uint16]map[uint16]PartialValue

// Apply merges a decoded partial tree into the store by calling SetResource
// per leaf. Writes to non-writable resources are silently skipped: callers
// that want a per-field write-rejection response must check writability
// before decode/apply (§7 propagation policy).
func (m *Model) Apply(tree PartialTree) {
	for objID, insts := range tree {
		for instID, resources := range insts {
			for resID, pv := range resources {
				if !m.IsResourceWritable(objID, instID, resID) {
					continue
				}
				m.SetResource(objID, instID, resID, ResourceValue{Single: pv.Single, Multi: pv.Multi})
			}
		}
	}
}

// ResourceIter yields every (obj,inst,res) triple in the store, object and
// instance ordered.
func (m *Model) ResourceIter(yield func(obj, inst, res uint16)) {
	for _, obj := range m.Objects() {
		for _, inst := range m.Instances(obj) {
			for _, res := range m.Resources(obj, inst) {
				yield(obj, inst, res)
			}
		}
	}
}

// InstanceIter yields every (obj,inst) pair in the store, ordered.
func (m *Model) InstanceIter(yield func(obj, inst uint16)) {
	for _, obj := range m.Objects() {
		for _, inst := range m.Instances(obj) {
			yield(obj, inst)
		}
	}
}

// ObjectLinks returns the CoRE Link-Format entries `</obj/inst>` for every
// stored instance, used as the Register request body (§6).
func (m *Model) ObjectLinks() []string {
	links := make([]string, 0)
	m.InstanceIter(func(obj, inst uint16) {
		links = append(links, fmt.Sprintf("</%d/%d>", obj, inst))
	})
	return links
}
