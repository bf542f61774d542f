package buildsys

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/assetsys/pkg/config"
	"github.com/ngld/assetsys/pkg/pipeline"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	jsonCache    map[string]string
	filepath     string
	projectRoot  string
	tasks        TaskList
	watches      []WatchRule
	initPhase    bool
}

// Project is the result of evaluating a task script
type Project struct {
	Tasks   TaskList
	Watches []WatchRule
	Options map[string]ScriptOption
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	// leading NAME=value strings are assignments
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}
		envVars = append(envVars, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	argCount := len(parts) - len(envVars)
	cmd.Args = make([]*syntax.Word, argCount)
	for a, arg := range parts[len(envVars):] {
		var encodedValue string

		switch value := arg.(type) {
		case starlark.String:
			encodedValue = value.GoString()
		case StarlarkPath:
			encodedValue = string(value)

			// keep paths below base relative so commands stay readable in logs
			if filepath.IsAbs(encodedValue) {
				if rel, err := filepath.Rel(base, encodedValue); err == nil {
					encodedValue = rel
				}
			}

			encodedValue = filepath.ToSlash(encodedValue)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		var wordPart syntax.WordPart = &syntax.Lit{Value: encodedValue}
		if strings.ContainsAny(encodedValue, " $'\"") {
			wordPart = &syntax.SglQuoted{Value: strings.ReplaceAll(encodedValue, "'", `'"'"'`)}
		}

		cmd.Args[a] = &syntax.Word{Parts: []syntax.WordPart{wordPart}}
	}

	return cmd, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

// taskNames accepts task names as well as task values returned by task()
func taskNames(input *starlark.List, field string) ([]string, error) {
	if input == nil {
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
		case *Task:
			result = append(result, value.Short)
		default:
			return nil, eris.Errorf("expected all items in %s to be strings or tasks but found %s", field, item.Type())
		}
	}

	return result, nil
}

func processCmds(cmds *starlark.List, base string) ([]string, error) {
	result := make([]string, 0)
	if cmds == nil {
		return result, nil
	}

	strBuffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	iter := cmds.Iterate()
	defer iter.Done()

	var item starlark.Value
	idx := 0
	for iter.Next(&item) {
		var parts starlark.Tuple

		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
			idx++
			continue
		case starlark.Tuple:
			parts = value
		case *starlark.List:
			parts = make(starlark.Tuple, value.Len())
			for pos := 0; pos < value.Len(); pos++ {
				parts[pos] = value.Index(pos)
			}
		default:
			return nil, eris.Errorf("unexpected type %s for command #%d. Only strings, tuples and lists are valid", item.Type(), idx)
		}

		cmd, err := processCmdParts(parts, parser, base)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d", idx)
		}

		strBuffer.Reset()
		err = printer.Print(&strBuffer, cmd)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d", idx)
		}

		result = append(result, strBuffer.String())
		idx++
	}

	return result, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps *starlark.List
	var base starlark.Value = starlark.String(".")
	var src *starlark.List
	var dest starlark.Value = starlark.None
	var stageList *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List
	var reload string
	var retries int

	task := new(Task)
	ctx := getCtx(thread)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &base, "src?", &src, "dest?", &dest, "stages?", &stageList,
		"env?", &env, "cmds?", &cmds, "reload?", &reload, "retries?", &retries)
	if err != nil {
		return nil, err
	}

	if ctx.initPhase {
		return nil, eris.New("tasks can only be declared inside configure()")
	}

	if task.Short == "" {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	baseDir, err := pathArg(base, "base")
	if err != nil {
		return nil, err
	}
	task.Base = normalizePath(ctx, baseDir)

	task.Deps, err = taskNames(deps, "deps")
	if err != nil {
		return nil, err
	}

	task.Env, err = starlarkDict2stringMap(env, "env")
	if err != nil {
		return nil, err
	}

	task.Reload, err = ParseReloadMode(reload)
	if err != nil {
		return nil, err
	}

	if retries < 0 {
		return nil, eris.Errorf("retries must not be negative, got %d", retries)
	}
	task.Retries = uint64(retries)

	task.Cmds, err = processCmds(cmds, task.Base)
	if err != nil {
		return nil, err
	}

	if src != nil {
		patterns, err := starlarkIterable2stringSlice(src, "src")
		if err != nil {
			return nil, err
		}

		spec := &pipeline.Spec{
			Sources: make([]string, len(patterns)),
			Stages:  make([]pipeline.Stage, 0),
		}
		for idx, pattern := range patterns {
			spec.Sources[idx] = normalizePattern(ctx, pattern)
		}

		if stageList != nil {
			for idx := 0; idx < stageList.Len(); idx++ {
				stage, ok := stageList.Index(idx).(StarlarkStage)
				if !ok {
					return nil, eris.Errorf("stage #%d is a %s but only stages are supported", idx, stageList.Index(idx).Type())
				}
				spec.Stages = append(spec.Stages, stage.Stage)
			}
		}

		if dest != starlark.None {
			destDir, err := pathArg(dest, "dest")
			if err != nil {
				return nil, err
			}
			spec.Dest = normalizePath(ctx, destDir)
		}

		task.Pipeline = spec
	} else if stageList != nil || dest != starlark.None {
		return nil, eris.Errorf("%s: stages and dest require src", task.Short)
	}

	if task.Pipeline == nil && len(task.Cmds) == 0 && len(task.Deps) == 0 {
		warn(thread, "%s: task %s does nothing", fn.Name(), task.Short)
	}

	err = ctx.tasks.Register(task)
	if err != nil {
		return nil, err
	}

	return task, nil
}

func watch(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var patterns starlark.Value
	var tasks *starlark.List
	var reload bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "patterns", &patterns, "tasks?", &tasks, "reload?", &reload)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.New("watches can only be declared inside configure()")
	}

	var patternList []string
	switch value := patterns.(type) {
	case starlark.String, StarlarkPath:
		item, _ := pathArg(value, "patterns")
		patternList = []string{item}
	case *starlark.List:
		patternList, err = starlarkIterable2stringSlice(value, "patterns")
	case starlark.Tuple:
		patternList, err = starlarkIterable2stringSlice(value, "patterns")
	default:
		err = eris.Errorf("expected patterns to be a string, path or list but found %s", patterns.Type())
	}
	if err != nil {
		return nil, err
	}

	names, err := taskNames(tasks, "tasks")
	if err != nil {
		return nil, err
	}

	if len(names) == 0 && !reload {
		return nil, eris.New("a watch needs tasks to run or reload=True")
	}

	for _, pattern := range patternList {
		ctx.watches = append(ctx.watches, WatchRule{
			Pattern: normalizePattern(ctx, pattern),
			Tasks:   names,
			Reload:  reload,
		})
	}

	return starlark.None, nil
}

func formatEvalError(ctx *parserCtx, err error, msg string) error {
	if evalError, ok := err.(*starlark.EvalError); ok {
		return eris.Errorf("%s %s:\n%s", msg, simplifyPath(ctx, ctx.filepath), evalError.Backtrace())
	}
	return eris.Wrapf(err, "%s %s", msg, simplifyPath(ctx, ctx.filepath))
}

// RunScript executes the task script configured in cfg and returns the declared options. If doConfigure is true,
// the script's configure function is called and the declared tasks and watches are collected as well.
func RunScript(ctx context.Context, cfg *config.Config, options map[string]string, doConfigure bool) (*Project, error) {
	projectRoot, err := cfg.Abs(".")
	if err != nil {
		return nil, err
	}

	filename, err := cfg.TaskScript()
	if err != nil {
		return nil, err
	}

	srcRoot, err := cfg.Sources()
	if err != nil {
		return nil, err
	}

	outRoot, err := cfg.Output()
	if err != nil {
		return nil, err
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"SRC_ROOT":     StarlarkPath(srcRoot),
		"OUT_ROOT":     StarlarkPath(outRoot),
		"DEV_PORT":     starlark.MakeInt(cfg.DevView.Port),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"read_json":    starlark.NewBuiltin("read_json", readJSON),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"task":         starlark.NewBuiltin("task", task),
		"watch":        starlark.NewBuiltin("watch", watch),
		"rename":       starlark.NewBuiltin("rename", starRename),
		"compile":      starlark.NewBuiltin("compile", starCompile),
		"lint":         starlark.NewBuiltin("lint", starLint),
		"header":       starlark.NewBuiltin("header", starHeader),
		"concat":       starlark.NewBuiltin("concat", starConcat),
		"minify":       starlark.NewBuiltin("minify", starMinify),
		"compress":     starlark.NewBuiltin("compress", starCompress),
		"fatal":        starlark.NewBuiltin("fatal", starFatal),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	if options == nil {
		options = map[string]string{}
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		tasks:        TaskList{},
		watches:      make([]WatchRule, 0),
		yamlCache:    make(map[string]interface{}),
		jsonCache:    make(map[string]string),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file")
	}

	globals, err := starlark.ExecFile(thread, simplifyPath(&threadCtx, filename), script, builtins)
	if err != nil {
		return nil, formatEvalError(&threadCtx, err, "failed to execute")
	}

	project := &Project{
		Tasks:   TaskList{},
		Watches: []WatchRule{},
		Options: threadCtx.options,
	}
	if !doConfigure {
		return project, nil
	}

	configure, ok := globals[reservedTaskName]
	if !ok {
		return nil, eris.Errorf("%s did not declare a configure function", simplifyPath(&threadCtx, filename))
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s did declare a configure value but it's not a function", simplifyPath(&threadCtx, filename))
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, make(starlark.Tuple, 0), make([]starlark.Tuple, 0))
	if err != nil {
		return nil, formatEvalError(&threadCtx, err, "failed configure call in")
	}

	for _, task := range threadCtx.tasks {
		for name, value := range threadCtx.envOverrides {
			_, present := task.Env[name]
			if !present {
				task.Env[name] = value
			}
		}
	}

	project.Tasks = threadCtx.tasks
	project.Watches = threadCtx.watches
	return project, nil
}
