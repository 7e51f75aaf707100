//go:build windows

package process

func processAlive(pid int) bool {
	return false
}
