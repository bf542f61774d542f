// Package buildsys loads task scripts written in Starlark and runs the declared tasks in dependency order.
// Shell commands run through mvdan.cc/sh, file processing happens in pipeline.Runner and the Dispatcher
// re-runs tasks whenever watched files change.
package buildsys
