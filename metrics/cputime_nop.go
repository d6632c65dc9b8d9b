//go:build windows || js
// +build windows js

package metrics

// getProcessCPUTime returns 0 on Windows and JS as there is no system call
// to retrieve it.
func getProcessCPUTime() int64 {
	return 0
}
