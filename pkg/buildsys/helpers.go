package buildsys

import (
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/assetsys/pkg/pipeline"
)

func normalizePath(ctx *parserCtx, pathList ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, path := range pathList {
		if strings.HasPrefix(path, "//") {
			result = filepath.Join(ctx.projectRoot, path[2:])
		} else if strings.HasPrefix(path, "/") {
			result = filepath.Join(filepath.VolumeName(result), path)
		} else if !filepath.IsAbs(path) {
			result = filepath.Join(result, path)
		} else {
			result = path
		}
	}

	return filepath.Clean(result)
}

// normalizePattern works like normalizePath but keeps the exclusion marker of source patterns. The project
// root is escaped so meta characters in its path only match themselves.
func normalizePattern(ctx *parserCtx, pattern string) string {
	prefix := ""
	if strings.HasPrefix(pattern, "!") {
		prefix = "!"
		pattern = pattern[1:]
	}

	full := filepath.ToSlash(normalizePath(ctx, pattern))
	root := filepath.ToSlash(ctx.projectRoot)
	if full == root || strings.HasPrefix(full, root+"/") {
		full = pipeline.QuoteMeta(root) + full[len(root):]
	}

	return prefix + full
}

func simplifyPath(ctx *parserCtx, path string) string {
	projectRoot := ctx.projectRoot
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	if strings.HasPrefix(absPath, projectRoot+string(filepath.Separator)) {
		return "//" + filepath.ToSlash(absPath[len(projectRoot)+1:])
	}
	return path
}

// pathArg accepts strings and paths
func pathArg(value starlark.Value, field string) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	default:
		return "", eris.Errorf("invalid type %s for %s, expected string or path", value.Type(), field)
	}
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		case StarlarkPath:
			result = append(result, string(value))
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func starlarkDict2stringMap(dict *starlark.Dict, field string) (map[string]string, error) {
	result := make(map[string]string)
	if dict == nil {
		return result, nil
	}

	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in %s but only strings are supported", item[0].Type(), field)
		}

		value, ok := item[1].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found value of type %s for key %s in %s but only strings are supported",
				item[1].Type(), key.GoString(), field)
		}

		result[key.GoString()] = value.GoString()
	}

	return result, nil
}

// starlarkToInterface converts script values into plain Go values (i.e. for template variables)
func starlarkToInterface(value starlark.Value) (interface{}, error) {
	switch value := value.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	case starlark.Bool:
		return bool(value), nil
	case starlark.Int:
		if i, ok := value.Int64(); ok {
			return i, nil
		}
		return value.String(), nil
	case starlark.Float:
		return float64(value), nil
	case *starlark.Dict:
		result := make(map[string]interface{}, value.Len())
		for _, item := range value.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, eris.Errorf("dict keys have to be strings but found %s", item[0].Type())
			}

			converted, err := starlarkToInterface(item[1])
			if err != nil {
				return nil, err
			}
			result[key.GoString()] = converted
		}
		return result, nil
	case starlarkIterable:
		result := make([]interface{}, 0, value.Len())
		iter := value.Iterate()
		defer iter.Done()

		var item starlark.Value
		for iter.Next(&item) {
			converted, err := starlarkToInterface(item)
			if err != nil {
				return nil, err
			}
			result = append(result, converted)
		}
		return result, nil
	}

	return nil, eris.Errorf("can't convert value of type %s", value.Type())
}

func interfaceToStarlark(value interface{}) (starlark.Value, error) {
	// handle a few simple and common cases first
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float32:
		return starlark.Float(value), nil
	case float64:
		// JSON and YAML numbers without a fraction should behave like ints in scripts
		if value == float64(int64(value)) {
			return starlark.MakeInt64(int64(value)), nil
		}
		return starlark.Float(value), nil
	case []string:
		items := make(starlark.Tuple, len(value))
		for idx, raw := range value {
			items[idx] = starlark.String(raw)
		}

		return items, nil
	case map[string]string:
		dict := starlark.NewDict(len(value))
		for k, v := range value {
			err := dict.SetKey(starlark.String(k), starlark.String(v))
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	refValue := reflect.ValueOf(value)
	switch refValue.Kind() {
	case reflect.Slice, reflect.Array:
		if refValue.Kind() == reflect.Slice && refValue.IsNil() {
			return starlark.None, nil
		}

		tuple := make(starlark.Tuple, refValue.Len())
		for idx := 0; idx < refValue.Len(); idx++ {
			item, err := interfaceToStarlark(refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
			tuple[idx] = item
		}

		return tuple, nil
	case reflect.Map:
		if refValue.IsNil() {
			return starlark.None, nil
		}

		dict := starlark.NewDict(refValue.Len())
		iter := refValue.MapRange()
		for iter.Next() {
			key, err := interfaceToStarlark(iter.Key().Interface())
			if err != nil {
				return nil, err
			}

			value, err := interfaceToStarlark(iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(key, value)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %v", refValue.Kind())
}
