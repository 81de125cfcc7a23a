package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/julianstephens/ptlog/internal/constants"
	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/models"
)

// parseParameters turns the parameters field of one set into rows.
//
// Absent, null, [] and {} all mean "no parameters" and yield nil. The object
// form maps a name to either a scalar or {"value": ..., "unit": ...}; the
// array form lists {"name", "value", "unit"} entries.
func parseParameters(raw json.RawMessage, path string, errs *apperrors.ValidationError) []models.SetParameter {
	kind := kindOf(raw)
	switch kind {
	case kindAbsent, kindNull:
		return nil
	case kindArray, kindObject:
	default:
		errs.Add(path, "must be an object or an array, got %s", kind)
		return nil
	}
	if !models.HasParameters(raw) {
		return nil
	}

	var params []models.SetParameter
	if kind == kindObject {
		params = parseParameterObject(raw, path, errs)
	} else {
		params = parseParameterArray(raw, path, errs)
	}

	if len(params) > constants.MaxParametersPerSet {
		errs.Add(path, "at most %d parameters are allowed per set", constants.MaxParametersPerSet)
		return nil
	}

	seen := map[string]bool{}
	for _, p := range params {
		key := strings.ToLower(p.Name)
		if seen[key] {
			errs.Add(path, "parameter %q is listed more than once", p.Name)
			return nil
		}
		seen[key] = true
	}
	return params
}

func parseParameterObject(raw json.RawMessage, path string, errs *apperrors.ValidationError) []models.SetParameter {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		errs.Add(path, "is not a valid object")
		return nil
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]models.SetParameter, 0, len(names))
	for _, name := range names {
		entryPath := path + "." + name
		if !validName(name, entryPath, errs) {
			continue
		}

		value := entries[name]
		if kindOf(value) == kindObject {
			p, ok := parseParameterEntry(value, entryPath, errs, false)
			if !ok {
				continue
			}
			p.Name = name
			params = append(params, p)
			continue
		}

		text, ok := scalarText(value)
		if !ok {
			errs.Add(entryPath, "must be a string, number, boolean or {value, unit} object")
			continue
		}
		params = append(params, models.SetParameter{Name: name, Value: text})
	}
	return params
}

func parseParameterArray(raw json.RawMessage, path string, errs *apperrors.ValidationError) []models.SetParameter {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		errs.Add(path, "is not a valid array")
		return nil
	}

	params := make([]models.SetParameter, 0, len(items))
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if kindOf(item) != kindObject {
			errs.Add(itemPath, "must be an object")
			continue
		}
		p, ok := parseParameterEntry(item, itemPath, errs, true)
		if ok {
			params = append(params, p)
		}
	}
	return params
}

// parseParameterEntry reads {name?, value, unit?}. name is only read when
// withName is set.
func parseParameterEntry(raw json.RawMessage, path string, errs *apperrors.ValidationError, withName bool) (models.SetParameter, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		errs.Add(path, "is not a valid object")
		return models.SetParameter{}, false
	}
	f := fields{doc: doc, prefix: path, errs: errs}
	before := len(errs.Fields)

	var p models.SetParameter
	if withName {
		if name, ok := f.str("name", true); ok && validName(name, f.path("name"), errs) {
			p.Name = name
		}
	}

	if !f.present("value") {
		f.fail("value", "is required")
	} else if text, ok := scalarText(doc["value"]); ok {
		p.Value = text
	} else {
		f.fail("value", "must be a string, number or boolean")
	}

	if unit, ok := f.str("unit", false); ok {
		p.Unit = strings.TrimSpace(unit)
	}

	return p, len(errs.Fields) == before
}

func validName(name, path string, errs *apperrors.ValidationError) bool {
	switch {
	case strings.TrimSpace(name) == "":
		errs.Add(path, "parameter name must not be empty")
		return false
	case hasControlChars(name):
		errs.Add(path, "parameter name must not contain control characters")
		return false
	}
	return true
}
