// Package pipeline streams file resources through an ordered list of stages into an output directory.
//
// Resources are produced lazily by the Matcher in a deterministic order. Each stage either transforms
// single resources (Transformer) or consumes the whole stream (Aggregator). A stage failing for one resource
// only drops that resource unless the stage was wrapped with Fatal.
package pipeline
