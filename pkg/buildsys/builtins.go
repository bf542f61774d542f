package buildsys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"

	"github.com/ngld/assetsys/pkg/pipeline"
	"github.com/ngld/assetsys/pkg/stages"
)

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	base := ""
	ctx := getCtx(thread)

	for _, kv := range kwargs {
		key := kv[0].(starlark.String).GoString()
		if key != "base" {
			return nil, eris.Errorf("unexpected keyword argument %s", key)
		}

		value, err := pathArg(kv[1], "base")
		if err != nil {
			return nil, err
		}
		base = normalizePath(ctx, value)
	}

	if len(args) < 1 {
		return nil, eris.New("expects at least one argument")
	}

	parts := make([]string, len(args))
	for idx, path := range args {
		value, err := pathArg(path, "argument "+strconv.Itoa(idx))
		if err != nil {
			return nil, err
		}
		parts[idx] = value
	}

	normPath := normalizePath(ctx, parts...)
	if base != "" {
		var err error
		normPath, err = filepath.Rel(base, normPath)
		if err != nil {
			return nil, err
		}
	}

	return StarlarkPath(normPath), nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key)
	if err != nil {
		return nil, err
	}

	envOverrides := getCtx(thread).envOverrides
	value, ok := envOverrides[key]
	if !ok {
		value = os.Getenv(key)
	}

	return starlark.String(value), nil
}

func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value)
	if err != nil {
		return nil, err
	}

	envOverrides := getCtx(thread).envOverrides
	envOverrides[key] = value

	return starlark.True, nil
}

// lookupKey walks a decoded YAML document along a dotted key. Numeric parts index into lists.
func lookupKey(doc interface{}, key string) (interface{}, bool) {
	value := doc
	for _, part := range strings.Split(key, ".") {
		switch container := value.(type) {
		case map[string]interface{}:
			item, ok := container[part]
			if !ok {
				return nil, false
			}
			value = item
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil, false
			}
			value = container[idx]
		default:
			return nil, false
		}
	}

	return value, value != nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var yamlFile starlark.Value
	var yamlKey string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &yamlFile, &yamlKey, &defaultValue)
	if err != nil {
		return nil, err
	}

	filename, err := pathArg(yamlFile, "file")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	filename = normalizePath(ctx, filename)

	doc, loaded := ctx.yamlCache[filename]
	if !loaded {
		content, err := ioutil.ReadFile(filename)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", filename)
		}

		err = yaml.Unmarshal(content, &doc)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", filename)
		}
		ctx.yamlCache[filename] = doc
	}

	value, found := lookupKey(doc, yamlKey)
	if !found {
		return defaultValue, nil
	}

	return interfaceToStarlark(value)
}

func readJSON(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var jsonFile starlark.Value
	var jsonKey string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &jsonFile, &jsonKey, &defaultValue)
	if err != nil {
		return nil, err
	}

	filename, err := pathArg(jsonFile, "file")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	filename = normalizePath(ctx, filename)

	content, loaded := ctx.jsonCache[filename]
	if !loaded {
		data, err := ioutil.ReadFile(filename)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", filename)
		}

		if !gjson.ValidBytes(data) {
			return nil, eris.Errorf("failed to parse file %s", filename)
		}

		content = string(data)
		ctx.jsonCache[filename] = content
	}

	var result gjson.Result
	if jsonKey == "" {
		result = gjson.Parse(content)
	} else {
		result = gjson.Get(content, jsonKey)
	}

	if !result.Exists() {
		return defaultValue, nil
	}

	return interfaceToStarlark(result.Value())
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dirPath starlark.Value

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dirPath)
	if err != nil {
		return nil, err
	}

	path, err := pathArg(dirPath, "path")
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(normalizePath(getCtx(thread), path))
	return starlark.Bool(err == nil && info.IsDir()), nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filePath starlark.Value

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &filePath)
	if err != nil {
		return nil, err
	}

	path, err := pathArg(filePath, "path")
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(normalizePath(getCtx(thread), path))
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}

// * Stage constructors

func stageValue(stage pipeline.Stage, err error) (starlark.Value, error) {
	if err != nil {
		return nil, err
	}

	return StarlarkStage{Stage: stage}, nil
}

func starRename(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name)
	if err != nil {
		return nil, err
	}

	return stageValue(stages.Rename(name))
}

func starCompile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cmd string
	var ext string
	var env *starlark.Dict

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "cmd", &cmd, "ext?", &ext, "env?", &env)
	if err != nil {
		return nil, err
	}

	vars, err := starlarkDict2stringMap(env, "env")
	if err != nil {
		return nil, err
	}

	return stageValue(stages.Exec(cmd, ext, vars))
}

func starLint(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cmd string
	var env *starlark.Dict

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "cmd", &cmd, "env?", &env)
	if err != nil {
		return nil, err
	}

	vars, err := starlarkDict2stringMap(env, "env")
	if err != nil {
		return nil, err
	}

	return stageValue(stages.Lint(cmd, vars))
}

func starHeader(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var text string
	var vars *starlark.Dict

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "text", &text, "vars?", &vars)
	if err != nil {
		return nil, err
	}

	data := map[string]interface{}{}
	if vars != nil {
		converted, err := starlarkToInterface(vars)
		if err != nil {
			return nil, eris.Wrap(err, "failed to convert vars")
		}
		data = converted.(map[string]interface{})
	}

	return stageValue(stages.Header(text, data))
}

func starConcat(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	sep := "\n"

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "sep?", &sep)
	if err != nil {
		return nil, err
	}

	return stageValue(stages.Concat(name, sep))
}

func starMinify(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	err := starlark.UnpackArgs(fn.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}

	return StarlarkStage{Stage: stages.Minify()}, nil
}

func starCompress(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	format := "gzip"

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "format?", &format)
	if err != nil {
		return nil, err
	}

	return stageValue(stages.Compress(format))
}

func starFatal(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var stage StarlarkStage

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &stage)
	if err != nil {
		return nil, err
	}

	return StarlarkStage{Stage: pipeline.Fatal(stage.Stage)}, nil
}
