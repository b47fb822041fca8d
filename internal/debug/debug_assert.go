//go:build moqdebug

package debug

func assertFailed(msg string) error {
	panic("moqlite: assertion failed: " + msg)
}
