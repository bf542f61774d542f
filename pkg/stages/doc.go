// Package stages contains the pipeline stages available to task scripts.
//
// Compilers, prefixers and linters are external programs; Exec and Lint run them through the same shell
// runtime task commands use. Minification and compression use Go libraries.
package stages
