package dataset

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

//go:embed manifest.schema.json
var manifestSchema string

var schemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// Manifest is the data.yaml of a detection dataset. Names are either a list or
// a map keyed by class index.
type Manifest struct {
	Path       string   `json:"path,omitempty"`
	Train      string   `json:"train,omitempty"`
	Val        string   `json:"val,omitempty"`
	Test       string   `json:"test,omitempty"`
	ClassCount int      `json:"nc,omitempty"`
	ClassNames []string `json:"-"`
}

// ReadManifest parses and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

func ParseManifest(data []byte) (*Manifest, error) {
	var document map[string]any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("not a YAML document: %w", err)
	}
	if document == nil {
		return nil, fmt.Errorf("the manifest is empty")
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	manifest := &Manifest{}
	if err := yaml.Unmarshal(data, manifest); err != nil {
		return nil, err
	}
	manifest.ClassNames, err = classNames(document["names"])
	if err != nil {
		return nil, err
	}
	if manifest.ClassCount != 0 && manifest.ClassCount != len(manifest.ClassNames) {
		return nil, fmt.Errorf("nc is %d but %d names are listed", manifest.ClassCount, len(manifest.ClassNames))
	}
	manifest.ClassCount = len(manifest.ClassNames)
	return manifest, nil
}

func classNames(raw any) ([]string, error) {
	switch names := raw.(type) {
	case []any:
		out := make([]string, len(names))
		for i, name := range names {
			out[i] = fmt.Sprint(name)
		}
		return out, nil
	case map[string]any:
		indexes := make([]int, 0, len(names))
		byIndex := make(map[int]string, len(names))
		for key, name := range names {
			i, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("invalid class index %q", key)
			}
			indexes = append(indexes, i)
			byIndex[i] = fmt.Sprint(name)
		}
		sort.Ints(indexes)
		out := make([]string, len(indexes))
		for i, index := range indexes {
			if index != i {
				return nil, fmt.Errorf("class indexes must be contiguous from 0, missing %d", i)
			}
			out[i] = byIndex[index]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("names must be a list or a map")
	}
}
