// Package env captures details about the ruxgo environment: where the
// project root is, and other process-wide defaults derived once from the
// environment at init time.
package env

import "os"

// ProjectRoot is the root directory of the project being built, i.e. the
// directory containing config_linux.toml or config_win32.toml.
var ProjectRoot = findProjectRoot()

func findProjectRoot() string {
	if dir := os.Getenv("RUXGO_PROJECT"); dir != "" {
		return dir
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
