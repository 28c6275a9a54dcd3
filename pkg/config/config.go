// Package config loads the YAML object-definition and data files that
// seed a Model at startup, and the client's own runtime settings
// (endpoint name, server address, log level).
//
// Grounded on the teacher's XML-based Lwm2mObjectDefinition loader
// (LoadLwm2mDefinitions, createObjectDefinitionFromXML,
// createResourceDefinitionFromXML in lwm2m_resource.go) and on
// thiagojdb-adoctl's YAML-based Config/Load (pkg/config/config.go); this
// client uses YAML for both the object model and its own settings, rather
// than the teacher's XML or the Python reference's JSON, for a single
// consistent file format across the module.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lwm2mclient/pkg/clierr"
	"lwm2mclient/pkg/model"
)

// Settings is the client's own runtime configuration, loaded from
// --config or defaults (§6).
type Settings struct {
	Endpoint   string `yaml:"endpoint"`
	ServerAddr string `yaml:"server_address"`
	LogLevel   string `yaml:"log_level"`
}

// DefaultSettings mirrors the teacher's command-line defaults
// (cmd/inventoryd/main.go flag defaults), except for Endpoint and the
// registration lifetime/binding (pkg/register), which are pinned to the
// wire-contract defaults in §6.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:   "python-client",
		ServerAddr: "127.0.0.1:5683",
		LogLevel:   "info",
	}
}

// LoadSettings reads client settings from a YAML file at path.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, clierr.ConfigError(fmt.Sprintf("reading settings file %s: %v", path, err))
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, clierr.ConfigError(fmt.Sprintf("parsing settings file %s: %v", path, err))
	}
	return s, nil
}

// resourceDefYAML/objectDefYAML mirror the teacher's XML object model
// (Lwm2mObjectDefinition/Lwm2mResourceDefinition) field-for-field, in YAML.
type resourceDefYAML struct {
	ID        uint16 `yaml:"id"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Readable  bool   `yaml:"readable"`
	Writable  bool   `yaml:"writable"`
	Executable bool  `yaml:"executable"`
	Multiple  bool   `yaml:"multiple"`
}

type objectDefYAML struct {
	ID        uint16            `yaml:"id"`
	Name      string            `yaml:"name"`
	Multiple  bool              `yaml:"multiple"`
	Mandatory bool              `yaml:"mandatory"`
	Resources []resourceDefYAML `yaml:"resources"`
}

type definitionsFile struct {
	Objects []objectDefYAML `yaml:"objects"`
}

// dataFile is `{object: {instance: {resource: value}}}`, loaded after the
// definitions so every value can be parsed per its declared resource type.
type dataFile struct {
	Objects map[string]map[string]map[string]yaml.Node `yaml:"objects"`
}

func parseResourceType(s string) (model.ResourceType, error) {
	switch s {
	case "integer":
		return model.TypeInteger, nil
	case "string":
		return model.TypeString, nil
	case "float":
		return model.TypeFloat, nil
	case "boolean":
		return model.TypeBoolean, nil
	case "time":
		return model.TypeTime, nil
	case "opaque":
		return model.TypeOpaque, nil
	default:
		return 0, fmt.Errorf("unknown resource type %q", s)
	}
}

func operationsOf(r resourceDefYAML) model.Operations {
	var ops model.Operations
	if r.Readable {
		ops |= model.OpRead
	}
	if r.Writable {
		ops |= model.OpWrite
	}
	if r.Executable {
		ops |= model.OpExecute
	}
	return ops
}

// LoadDefinitions parses a YAML object-definitions file into the
// ObjectDefinition map New expects.
func LoadDefinitions(path string) (map[uint16]model.ObjectDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.ConfigError(fmt.Sprintf("reading definitions file %s: %v", path, err))
	}
	var f definitionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, clierr.ConfigError(fmt.Sprintf("parsing definitions file %s: %v", path, err))
	}

	defs := make(map[uint16]model.ObjectDefinition, len(f.Objects))
	for _, o := range f.Objects {
		resources := make(map[uint16]model.ResourceDefinition, len(o.Resources))
		for _, r := range o.Resources {
			rt, err := parseResourceType(r.Type)
			if err != nil {
				return nil, clierr.ConfigError(fmt.Sprintf("object %d resource %d: %v", o.ID, r.ID, err))
			}
			resources[r.ID] = model.ResourceDefinition{
				ID: r.ID, Name: r.Name, Operations: operationsOf(r), Multiple: r.Multiple, Type: rt,
			}
		}
		defs[o.ID] = model.ObjectDefinition{
			ID: o.ID, Name: o.Name, Multiple: o.Multiple, Mandatory: o.Mandatory, Resources: resources,
		}
	}
	return defs, nil
}

// LoadData parses a YAML data file into the initial instance map New
// expects, validating every value's shape and decodability against the
// already-loaded definitions. A data resource absent from its object's
// definition, or a value that doesn't parse as its declared type, fails
// the whole load rather than producing a partially valid Model.
func LoadData(path string, defs map[uint16]model.ObjectDefinition) (map[uint16]map[uint16]model.Instance, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, clierr.ConfigError(fmt.Sprintf("reading data file %s: %v", path, err))
	}
	var f dataFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, clierr.ConfigError(fmt.Sprintf("parsing data file %s: %v", path, err))
	}

	data := make(map[uint16]map[uint16]model.Instance, len(f.Objects))
	for objStr, insts := range f.Objects {
		objID, err := parseID(objStr)
		if err != nil {
			return nil, clierr.ValidationError(fmt.Sprintf("invalid object id %q", objStr))
		}
		def, ok := defs[objID]
		if !ok {
			return nil, clierr.ValidationError(fmt.Sprintf("data references undefined object %d", objID))
		}

		objInsts := make(map[uint16]model.Instance, len(insts))
		for instStr, resources := range insts {
			instID, err := parseID(instStr)
			if err != nil {
				return nil, clierr.ValidationError(fmt.Sprintf("invalid instance id %q in object %d", instStr, objID))
			}

			inst := make(model.Instance, len(resources))
			for resStr, node := range resources {
				resID, err := parseID(resStr)
				if err != nil {
					return nil, clierr.ValidationError(fmt.Sprintf("invalid resource id %q in /%d/%d", resStr, objID, instID))
				}
				rd, ok := def.Resources[resID]
				if !ok {
					return nil, clierr.ValidationError(fmt.Sprintf("data references undefined resource /%d/%d/%d", objID, instID, resID))
				}
				rv, err := decodeResourceNode(rd, node)
				if err != nil {
					return nil, clierr.ValidationError(fmt.Sprintf("/%d/%d/%d: %v", objID, instID, resID, err))
				}
				inst[resID] = rv
			}
			objInsts[instID] = inst
		}
		data[objID] = objInsts
	}
	return data, nil
}

func parseID(s string) (uint16, error) {
	var n uint16
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// decodeResourceNode decodes a single YAML value (or, for a multi-instance
// resource, a mapping of instance ID to value) into a ResourceValue typed
// per rd.Type.
func decodeResourceNode(rd model.ResourceDefinition, node yaml.Node) (model.ResourceValue, error) {
	if rd.Multiple {
		var raw map[string]yaml.Node
		if err := node.Decode(&raw); err != nil {
			return model.ResourceValue{}, fmt.Errorf("expected a mapping for multi-instance resource: %w", err)
		}
		multi := make(map[uint16]model.Value, len(raw))
		for instStr, valueNode := range raw {
			instID, err := parseID(instStr)
			if err != nil {
				return model.ResourceValue{}, fmt.Errorf("invalid resource-instance id %q", instStr)
			}
			v, err := decodeValueNode(rd.Type, valueNode)
			if err != nil {
				return model.ResourceValue{}, err
			}
			multi[instID] = v
		}
		return model.ResourceValue{Multi: multi}, nil
	}

	v, err := decodeValueNode(rd.Type, node)
	if err != nil {
		return model.ResourceValue{}, err
	}
	return model.ResourceValue{Single: &v}, nil
}

func decodeValueNode(rt model.ResourceType, node yaml.Node) (model.Value, error) {
	switch rt {
	case model.TypeInteger, model.TypeTime:
		var n int64
		if err := node.Decode(&n); err != nil {
			return model.Value{}, fmt.Errorf("expected an integer: %w", err)
		}
		return model.Value{Int: n}, nil
	case model.TypeString:
		var s string
		if err := node.Decode(&s); err != nil {
			return model.Value{}, fmt.Errorf("expected a string: %w", err)
		}
		return model.Value{Str: s}, nil
	case model.TypeFloat:
		var f float64
		if err := node.Decode(&f); err != nil {
			return model.Value{}, fmt.Errorf("expected a float: %w", err)
		}
		return model.Value{Float64: f}, nil
	case model.TypeBoolean:
		var b bool
		if err := node.Decode(&b); err != nil {
			return model.Value{}, fmt.Errorf("expected a boolean: %w", err)
		}
		return model.Value{Bool: b}, nil
	case model.TypeOpaque:
		var s string
		if err := node.Decode(&s); err != nil {
			return model.Value{}, fmt.Errorf("expected an opaque byte string: %w", err)
		}
		return model.Value{Opaque: []byte(s)}, nil
	default:
		return model.Value{}, fmt.Errorf("unknown resource type in definition")
	}
}
