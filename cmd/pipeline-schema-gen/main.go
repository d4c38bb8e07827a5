// Command pipeline-schema-gen writes the JSON Schema of duckflow pipeline
// documents, for editor validation of pipeline YAML.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"duckflow/internal/declarative"
	"duckflow/internal/domain"
)

var (
	stepTypes = []string{
		string(domain.StepKindLoad),
		string(domain.StepKindTransform),
		string(domain.StepKindFilter),
		string(domain.StepKindAggregate),
		string(domain.StepKindJoin),
		string(domain.StepKindSave),
	}
	dataFormats = []string{
		string(domain.FormatCSV),
		string(domain.FormatJSON),
		string(domain.FormatParquet),
		string(domain.FormatXLSX),
	}
	scheduleTypes = []string{
		string(domain.ScheduleOnce),
		string(domain.ScheduleHourly),
		string(domain.ScheduleDaily),
		string(domain.ScheduleWeekly),
		string(domain.ScheduleMonthly),
		string(domain.ScheduleCron),
	}
	transformOperations = []string{"rename_columns", "add_column", "drop_columns", "convert_types", "fill_na", "sort", "reset_index"}
	fillMethods         = []string{"forward", "ffill", "pad", "backward", "bfill", "backfill"}
	filterConditions    = []string{"equals", "not_equals", "greater_than", "less_than", "greater_equal", "less_equal", "in", "not_in", "contains", "not_null", "is_null", "expression"}
	joinTypes           = []string{"inner", "left", "right", "outer"}
	aggregations        = []string{"count", "sum", "mean", "min", "max", "std"}
)

var timeType = reflect.TypeOf(time.Time{})

type schemaGenerator struct {
	defs map[string]map[string]interface{}
}

func newSchemaGenerator() *schemaGenerator {
	return &schemaGenerator{defs: make(map[string]map[string]interface{})}
}

func (g *schemaGenerator) typeSchema(t reflect.Type) map[string]interface{} {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return map[string]interface{}{"type": "string", "format": "date-time"}
	}

	switch t.Kind() {
	case reflect.String:
		return map[string]interface{}{"type": "string"}
	case reflect.Bool:
		return map[string]interface{}{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]interface{}{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]interface{}{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]interface{}{"type": "array", "items": g.typeSchema(t.Elem())}
	case reflect.Map:
		return map[string]interface{}{"type": "object", "additionalProperties": g.typeSchema(t.Elem())}
	case reflect.Struct:
		name := t.Name()
		if name == "" {
			return map[string]interface{}{"type": "object", "additionalProperties": true}
		}
		if _, ok := g.defs[name]; !ok {
			g.defs[name] = g.buildStructDefinition(t)
		}
		return map[string]interface{}{"$ref": "#/$defs/" + name}
	default:
		return map[string]interface{}{}
	}
}

func (g *schemaGenerator) buildStructDefinition(t reflect.Type) map[string]interface{} {
	properties := map[string]interface{}{}
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("yaml")
		if tag == "-" {
			continue
		}

		name, omitEmpty := yamlFieldName(field.Name, tag)
		if name == "" {
			continue
		}

		properties[name] = g.typeSchema(field.Type)
		if !omitEmpty && field.Type.Kind() != reflect.Pointer && field.Type.Kind() != reflect.Slice &&
			field.Type.Kind() != reflect.Map && field.Type.Kind() != reflect.Interface {
			required = append(required, name)
		}
	}

	sort.Strings(required)

	definition := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		definition["required"] = required
	}

	return definition
}

func yamlFieldName(fieldName, yamlTag string) (string, bool) {
	if yamlTag == "" {
		return strings.ToLower(fieldName), false
	}
	parts := strings.Split(yamlTag, ",")
	name := parts[0]
	omitEmpty := false
	for _, part := range parts[1:] {
		if part == "omitempty" {
			omitEmpty = true
			break
		}
	}
	if name == "" {
		name = strings.ToLower(fieldName)
	}
	return name, omitEmpty
}

func getDefProperty(defs map[string]map[string]interface{}, defName, propName string) map[string]interface{} {
	def, ok := defs[defName]
	if !ok {
		return nil
	}
	props, ok := def["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	prop, ok := props[propName].(map[string]interface{})
	if !ok {
		return nil
	}
	return prop
}

func addAllOfRule(def map[string]interface{}, rule map[string]interface{}) {
	existing, ok := def["allOf"]
	if !ok {
		def["allOf"] = []interface{}{rule}
		return
	}
	list, ok := existing.([]interface{})
	if !ok {
		def["allOf"] = []interface{}{rule}
		return
	}
	def["allOf"] = append(list, rule)
}

func setStringEnum(defs map[string]map[string]interface{}, defName, propName string, values []string) {
	prop := getDefProperty(defs, defName, propName)
	if prop == nil {
		return
	}
	prop["enum"] = values
}

// applyPipelineConstraints narrows the reflected definitions to the values
// the engine accepts and requires each step's payload to match its type.
func applyPipelineConstraints(defs map[string]map[string]interface{}) {
	setStringEnum(defs, "PipelineDoc", "apiVersion", []string{declarative.SupportedAPIVersion})
	setStringEnum(defs, "PipelineDoc", "kind", []string{declarative.KindPipeline})
	setStringEnum(defs, "StepSpec", "type", stepTypes)
	setStringEnum(defs, "LoadSpec", "format", dataFormats)
	setStringEnum(defs, "SaveSpec", "format", dataFormats)
	setStringEnum(defs, "ScheduleConfig", "type", scheduleTypes)
	setStringEnum(defs, "TransformOperation", "type", transformOperations)
	setStringEnum(defs, "TransformOperation", "method", fillMethods)
	setStringEnum(defs, "FilterCondition", "type", filterConditions)
	setStringEnum(defs, "JoinSpec", "join_type", joinTypes)

	if prop := getDefProperty(defs, "AggregateSpec", "aggregations"); prop != nil {
		prop["additionalProperties"] = map[string]interface{}{"type": "string", "enum": aggregations}
	}

	if stepSpec, ok := defs["StepSpec"]; ok {
		for _, kind := range stepTypes {
			addAllOfRule(stepSpec, map[string]interface{}{
				"if": map[string]interface{}{
					"properties": map[string]interface{}{
						"type": map[string]interface{}{"const": kind},
					},
				},
				"then": map[string]interface{}{
					"required": []string{kind},
				},
			})
		}
	}

	if schedule, ok := defs["ScheduleConfig"]; ok {
		addAllOfRule(schedule, map[string]interface{}{
			"if": map[string]interface{}{
				"properties": map[string]interface{}{
					"type": map[string]interface{}{"const": string(domain.ScheduleCron)},
				},
			},
			"then": map[string]interface{}{
				"required": []string{"cron_expression"},
			},
			"else": map[string]interface{}{
				"properties": map[string]interface{}{
					"cron_expression": map[string]interface{}{"maxLength": 0},
				},
			},
		})
		if interval := getDefProperty(defs, "ScheduleConfig", "interval"); interval != nil {
			interval["minimum"] = 1
		}
	}
}

// buildSchema reflects the pipeline document type into a standalone schema.
func buildSchema() map[string]interface{} {
	gen := newSchemaGenerator()
	rootRef := gen.typeSchema(reflect.TypeOf(declarative.PipelineDoc{}))
	applyPipelineConstraints(gen.defs)

	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"$id":     "schemas/pipeline/v1/pipeline.schema.json",
		"title":   "duckflow pipeline document",
		"allOf":   []map[string]interface{}{rootRef},
		"$defs":   gen.defs,
	}
}

func encodeCanonicalJSON(path string, content interface{}) (string, error) {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func run(outDir string) error {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	hash, err := encodeCanonicalJSON(filepath.Join(outDir, "pipeline.schema.json"), buildSchema())
	if err != nil {
		return err
	}

	manifest := map[string]interface{}{
		"version":    "v1",
		"apiVersion": declarative.SupportedAPIVersion,
		"files":      map[string]string{"pipeline.schema.json": hash},
	}
	_, err = encodeCanonicalJSON(filepath.Join(outDir, "index.json"), manifest)
	return err
}

func main() {
	var outDir string
	flag.StringVar(&outDir, "outdir", "schemas/pipeline/v1", "Output schema directory")
	flag.Parse()

	if err := run(outDir); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
