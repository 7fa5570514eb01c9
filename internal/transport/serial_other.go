//go:build !linux

package transport

import (
	tlerrors "termlink/internal/errors"
)

func openSerial(string, int) (int, error) { return -1, tlerrors.ErrUnsupported }

func readSerial(int, []byte) (int, error) { return 0, tlerrors.ErrUnsupported }

func writeSerial(int, []byte) (int, error) { return 0, tlerrors.ErrUnsupported }

func closeSerial(int) error { return nil }
