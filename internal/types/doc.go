// Package types holds the small cross-cutting domain types shared by the
// buffer, pipeline, and migration packages: plugin classes and class sets,
// pipeline direction, and migration stages.
package types
