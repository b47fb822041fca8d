//go:build !moqdebug

package debug

import "github.com/okdaichi/moqlite/internal/moqerr"

func assertFailed(msg string) error {
	return moqerr.New(moqerr.Internal, msg)
}
